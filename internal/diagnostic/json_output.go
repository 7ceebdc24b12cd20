package diagnostic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultReportDir is where run reports are written when no directory is given
const DefaultReportDir = "test_results"

// ErrUnknownFormat is returned for report formats other than json and yaml
var ErrUnknownFormat = errors.New("unknown report format")

// ExecutionInfoJSON represents execution metadata
type ExecutionInfoJSON struct {
	RunID            string   `json:"run_id" yaml:"run_id"`
	Timestamp        string   `json:"timestamp" yaml:"timestamp"`
	Filename         string   `json:"filename,omitempty" yaml:"filename,omitempty"`
	Workload         string   `json:"workload" yaml:"workload"`
	Pattern          string   `json:"pattern" yaml:"pattern"`
	Nodes            []string `json:"nodes" yaml:"nodes"`
	Namespace        string   `json:"namespace" yaml:"namespace"`
	KubeconfigSource string   `json:"kubeconfig_source" yaml:"kubeconfig_source"`
	VerboseMode      bool     `json:"verbose_mode" yaml:"verbose_mode"`
}

// SummaryJSON represents the overall run summary
type SummaryJSON struct {
	OverallStatus             string   `json:"overall_status" yaml:"overall_status"`
	TotalExecutionTimeSeconds float64  `json:"total_execution_time_seconds" yaml:"total_execution_time_seconds"`
	Lines                     []string `json:"lines,omitempty" yaml:"lines,omitempty"`
	ErrorsEncountered         []string `json:"errors_encountered" yaml:"errors_encountered"`
	CompletionTime            string   `json:"completion_time" yaml:"completion_time"`
}

// RunReportJSON represents the complete report of one workload run. Result
// holds the workload's own report.
type RunReportJSON struct {
	ExecutionInfo ExecutionInfoJSON `json:"execution_info" yaml:"execution_info"`
	Result        interface{}       `json:"result,omitempty" yaml:"result,omitempty"`
	Summary       SummaryJSON       `json:"summary" yaml:"summary"`
}

// RunInfo describes the run being reported
type RunInfo struct {
	Workload   string
	Pattern    string
	Nodes      []string
	Namespace  string
	Kubeconfig string
	Verbose    bool
}

// CreateRunReport assembles a report. A run passes when it has no error and
// the workload result passed.
func CreateRunReport(info RunInfo, result interface{}, passed bool, lines []string, runErr error, startTime, endTime time.Time) RunReportJSON {
	source := info.Kubeconfig
	if source == "" {
		source = "default"
	}

	status := "PASSED"
	errs := []string{}
	if runErr != nil {
		errs = append(errs, runErr.Error())
		status = "FAILED"
	} else if !passed {
		status = "FAILED"
	}

	return RunReportJSON{
		ExecutionInfo: ExecutionInfoJSON{
			RunID:            uuid.NewString(),
			Timestamp:        startTime.Format(time.RFC3339),
			Workload:         info.Workload,
			Pattern:          info.Pattern,
			Nodes:            info.Nodes,
			Namespace:        info.Namespace,
			KubeconfigSource: source,
			VerboseMode:      info.Verbose,
		},
		Result: result,
		Summary: SummaryJSON{
			OverallStatus:             status,
			TotalExecutionTimeSeconds: endTime.Sub(startTime).Seconds(),
			Lines:                     lines,
			ErrorsEncountered:         errs,
			CompletionTime:            endTime.Format(time.RFC3339),
		},
	}
}

// WriteReport encodes report to w as "json" or "yaml"
func WriteReport(w io.Writer, report *RunReportJSON, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// SaveReport writes the report to a timestamped file in dir and returns its path
func SaveReport(dir string, report *RunReportJSON, format string) (string, error) {
	if format != "json" && format != "yaml" {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if dir == "" {
		dir = DefaultReportDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	filename := fmt.Sprintf("netdiag-%s-%s.%s", report.ExecutionInfo.Workload,
		time.Now().Format("20060102-150405"), format)
	report.ExecutionInfo.Filename = filename
	fullPath := filepath.Join(dir, filename)

	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file %s: %w", fullPath, err)
	}
	if err := WriteReport(f, report, format); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write report file %s: %w", fullPath, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return fullPath, nil
}
