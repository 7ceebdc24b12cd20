package workload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netdiag/internal/diagnostic"
	"netdiag/internal/metrics"
	"netdiag/internal/pattern"
)

// ErrInvalidTransition is returned when a phase is called out of order
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is the lifecycle position of a workload
type State int

const (
	Created State = iota
	SetupComplete
	RunComplete
	ResultsProcessed
	TornDown
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case SetupComplete:
		return "SetupComplete"
	case RunComplete:
		return "RunComplete"
	case ResultsProcessed:
		return "ResultsProcessed"
	case TornDown:
		return "TornDown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Lifecycle drives one workload through exactly one
// Created -> SetupComplete -> RunComplete -> ResultsProcessed -> TornDown
// cycle. After a failed run or processing step, Teardown is still allowed so
// that remote listeners are released.
type Lifecycle struct {
	w       Workload
	state   State
	failed  bool
	metrics *metrics.Recorder
	logger  *diagnostic.Logger
}

// NewLifecycle wraps w
func NewLifecycle(w Workload, rec *metrics.Recorder, logger *diagnostic.Logger) *Lifecycle {
	if rec == nil {
		rec = metrics.NewRecorder()
	}
	if logger == nil {
		logger = diagnostic.NewDiscardLogger()
	}
	return &Lifecycle{w: w, metrics: rec, logger: logger.WithContext(w.Name())}
}

// State returns the current lifecycle state
func (l *Lifecycle) State() State {
	return l.state
}

// Setup runs the workload's setup phase
func (l *Lifecycle) Setup(ctx context.Context) error {
	return l.step("setup", Created, SetupComplete, func() error {
		return l.w.Setup(ctx)
	})
}

// Run runs the workload along edges
func (l *Lifecycle) Run(ctx context.Context, edges []pattern.Edge) error {
	return l.step("run", SetupComplete, RunComplete, func() error {
		return l.w.Run(ctx, edges)
	})
}

// ProcessResults aggregates the results of the run
func (l *Lifecycle) ProcessResults(ctx context.Context) (*Report, error) {
	var report *Report
	err := l.step("process", RunComplete, ResultsProcessed, func() error {
		var err error
		report, err = l.w.ProcessResults(ctx)
		return err
	})
	return report, err
}

// Teardown releases the workload's resources
func (l *Lifecycle) Teardown(ctx context.Context) error {
	from := ResultsProcessed
	if l.failed && (l.state == SetupComplete || l.state == RunComplete) {
		from = l.state
	}
	return l.step("teardown", from, TornDown, func() error {
		return l.w.Teardown(ctx)
	})
}

func (l *Lifecycle) step(phase string, from, to State, fn func() error) error {
	if l.state != from {
		return fmt.Errorf("%w: %s requires state %s, workload is %s", ErrInvalidTransition, phase, from, l.state)
	}

	l.logger.LogInfo("Starting %s phase", phase)
	start := time.Now()
	err := fn()
	l.metrics.ObservePhase(l.w.Name(), phase, time.Since(start))
	if err != nil {
		l.failed = true
		return fmt.Errorf("%s %s: %w", l.w.Name(), phase, err)
	}
	l.state = to
	l.logger.LogDebug("%s phase complete (%s)", phase, time.Since(start).Round(time.Millisecond))
	return nil
}

// Execute drives a full cycle. Teardown runs whenever setup succeeded, on a
// context detached from ctx's cancellation.
func Execute(ctx context.Context, l *Lifecycle, edges []pattern.Edge) (*Report, error) {
	if err := l.Setup(ctx); err != nil {
		return nil, err
	}

	var report *Report
	err := l.Run(ctx, edges)
	if err == nil {
		report, err = l.ProcessResults(ctx)
	}
	if terr := l.Teardown(context.WithoutCancel(ctx)); terr != nil {
		err = errors.Join(err, terr)
	}
	return report, err
}
