package diagnostic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// LogLevel represents different severity levels for logging
type LogLevel int

const (
	// Log levels from least to most severe
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) backend() log.Level {
	switch l {
	case DEBUG:
		return log.DebugLevel
	case WARNING:
		return log.WarnLevel
	case ERROR:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ParseLogLevel maps a configuration string to a LogLevel
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARNING, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger handles both console output and file logging. A Logger is safe for
// concurrent use; WithContext returns a derived logger instead of mutating.
type Logger struct {
	logFile     *os.File
	logFilePath string
	console     *log.Logger
	file        *log.Logger
	context     string
}

const timestampFmt = "2006-01-02 15:04:05"

// NewLogger creates a new logger instance that writes to both console and file
func NewLogger(consoleOutput bool) (*Logger, error) {
	return NewLoggerWithLevel(consoleOutput, INFO)
}

// NewLoggerWithLevel creates a logger with a specific minimum log level
func NewLoggerWithLevel(consoleOutput bool, level LogLevel) (*Logger, error) {
	var console io.Writer
	if consoleOutput {
		console = os.Stderr
	}
	return NewLoggerInDir("test_results/logs", console, level)
}

// NewLoggerInDir creates a logger whose log file lives in logsDir. A nil
// console writer disables console output.
func NewLoggerInDir(logsDir string, console io.Writer, level LogLevel) (*Logger, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("netdiag-logs-%s.log", timestamp)
	fullPath := filepath.Join(logsDir, filename)

	logFile, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &Logger{
		logFile:     logFile,
		logFilePath: fullPath,
		file:        newBackend(logFile, level),
	}
	if console != nil {
		logger.console = newBackend(console, level)
	}

	logger.LogInfo("Logging system initialized. Log file: %s", filepath.Base(fullPath))

	return logger, nil
}

// NewWriterLogger logs only to w, without a log file
func NewWriterLogger(w io.Writer, level LogLevel) *Logger {
	return &Logger{console: newBackend(w, level)}
}

// NewDiscardLogger returns a logger that drops everything
func NewDiscardLogger() *Logger {
	return NewWriterLogger(io.Discard, ERROR)
}

func newBackend(w io.Writer, level LogLevel) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      timestampFmt,
		Level:           level.backend(),
	})
}

// GetLogFilePath returns the path to the log file
func (l *Logger) GetLogFilePath() string {
	return l.logFilePath
}

// GetLogFilename returns just the filename portion of the log file
func (l *Logger) GetLogFilename() string {
	if l.logFilePath == "" {
		return ""
	}
	return filepath.Base(l.logFilePath)
}

// WithContext returns a logger tagging every line with context (e.g. a
// workload or lane name)
func (l *Logger) WithContext(context string) *Logger {
	derived := *l
	if derived.context != "" {
		context = derived.context + "/" + context
	}
	derived.context = context
	if derived.console != nil {
		derived.console = l.console.WithPrefix(context)
	}
	if derived.file != nil {
		derived.file = l.file.WithPrefix(context)
	}
	return &derived
}

// With returns a logger that attaches key/value pairs to every line
func (l *Logger) With(keyvals ...interface{}) *Logger {
	derived := *l
	if derived.console != nil {
		derived.console = l.console.With(keyvals...)
	}
	if derived.file != nil {
		derived.file = l.file.With(keyvals...)
	}
	return &derived
}

// logWithLevel logs a message with the specified level
func (l *Logger) logWithLevel(level LogLevel, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	var keyvals []interface{}
	// Skip 2 frames: logWithLevel and the specific log method
	if _, file, line, ok := runtime.Caller(2); ok {
		keyvals = append(keyvals, "caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}

	for _, backend := range []*log.Logger{l.console, l.file} {
		if backend == nil {
			continue
		}
		switch level {
		case DEBUG:
			backend.Debug(message, keyvals...)
		case WARNING:
			backend.Warn(message, keyvals...)
		case ERROR:
			backend.Error(message, keyvals...)
		default:
			backend.Info(message, keyvals...)
		}
	}
}

// LogDebug logs a debug message
func (l *Logger) LogDebug(format string, args ...interface{}) {
	l.logWithLevel(DEBUG, format, args...)
}

// LogInfo logs an informational message
func (l *Logger) LogInfo(format string, args ...interface{}) {
	l.logWithLevel(INFO, format, args...)
}

// LogWarning logs a warning message
func (l *Logger) LogWarning(format string, args ...interface{}) {
	l.logWithLevel(WARNING, format, args...)
}

// LogError logs an error message
func (l *Logger) LogError(format string, args ...interface{}) {
	l.logWithLevel(ERROR, format, args...)
}

// LogErrorWithCause logs an error message followed by the error that caused it
func (l *Logger) LogErrorWithCause(err error, format string, args ...interface{}) {
	if err == nil {
		l.logWithLevel(ERROR, format, args...)
		return
	}
	l.logWithLevel(ERROR, "%s: %v", fmt.Sprintf(format, args...), err)
}

// LogCommandExecution logs command execution details
func (l *Logger) LogCommandExecution(out CommandOutput) {
	l.LogDebug("Command executed: %s (exit code %d, %s)", out.Command, out.ExitCode, out.Duration)

	if out.Stdout != "" {
		l.LogDebug("Command stdout:\n%s", strings.TrimRight(out.Stdout, "\n"))
	}

	if out.Stderr != "" {
		l.LogWarning("Command stderr:\n%s", strings.TrimRight(out.Stderr, "\n"))
	}

	if out.ExitCode != 0 {
		l.LogWarning("Command failed: %s (exit code %d)", out.Command, out.ExitCode)
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.logFile != nil {
		l.LogInfo("Closing log file: %s", l.GetLogFilename())
		return l.logFile.Close()
	}
	return nil
}
