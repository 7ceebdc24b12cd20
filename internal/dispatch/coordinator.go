package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task prepares one participant (e.g. starts listeners on a node)
type Task func(ctx context.Context) error

// Job is one client request; its context carries the per-request timeout
type Job[T any] func(ctx context.Context) (T, error)

// Outcome is the result of one Job. Err is set on transport failure or
// timeout; Value is then the zero value.
type Outcome[T any] struct {
	Value    T
	Err      error
	Started  time.Time
	Finished time.Time
}

// Failed reports whether the job did not produce a value
func (o Outcome[T]) Failed() bool {
	return o.Err != nil
}

// Options tunes a Coordinator
type Options struct {
	// Grace is waited between the last prepare completing and client release
	Grace time.Duration
	// Timeout bounds every client job
	Timeout time.Duration
	// Now is the clock used for timestamps; time.Now when nil
	Now func() time.Time
}

// Coordinator runs prepare -> barrier -> client cycles
type Coordinator struct {
	opts Options
}

// New creates a Coordinator
func New(opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &Coordinator{opts: opts}
}

// Cycle is the record of one prepare/release/gather round
type Cycle[T any] struct {
	// PreparedAt is when the last prepare task returned
	PreparedAt time.Time
	// ReleasedAt is when the barrier opened
	ReleasedAt time.Time
	// Outcomes is indexed like the jobs passed to Run
	Outcomes []Outcome[T]
}

// Run executes one cycle. All prepares run concurrently and must all succeed;
// the first failure aborts the cycle before any job starts. Jobs are started
// concurrently and held on a shared barrier that opens Grace after the last
// prepare finished. A job that errors or outlives Timeout yields a failed
// Outcome and never fails the cycle.
func Run[T any](ctx context.Context, c *Coordinator, prepares []Task, jobs []Job[T]) (*Cycle[T], error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, prepare := range prepares {
		prepare := prepare
		g.Go(func() error {
			return prepare(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("prepare phase failed: %w", err)
	}

	cycle := &Cycle[T]{
		PreparedAt: c.opts.Now(),
		Outcomes:   make([]Outcome[T], len(jobs)),
	}

	release := make(chan struct{})
	var clients errgroup.Group
	for i, job := range jobs {
		i, job := i, job
		clients.Go(func() error {
			select {
			case <-release:
			case <-ctx.Done():
				cycle.Outcomes[i] = Outcome[T]{Err: ctx.Err()}
				return nil
			}
			cycle.Outcomes[i] = call(ctx, c, job)
			return nil
		})
	}

	if c.opts.Grace > 0 {
		timer := time.NewTimer(c.opts.Grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	cycle.ReleasedAt = c.opts.Now()
	close(release)
	_ = clients.Wait()

	return cycle, nil
}

// call runs job under the per-request timeout. A job that ignores its
// context is abandoned once the deadline passes.
func call[T any](ctx context.Context, c *Coordinator, job Job[T]) Outcome[T] {
	jctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	type reply struct {
		value T
		err   error
	}
	done := make(chan reply, 1)

	out := Outcome[T]{Started: c.opts.Now()}
	go func() {
		v, err := job(jctx)
		done <- reply{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			out.Err = r.err
		} else {
			out.Value = r.value
		}
	case <-jctx.Done():
		out.Err = fmt.Errorf("request abandoned: %w", jctx.Err())
	}
	out.Finished = c.opts.Now()
	return out
}

// FailedFraction is the share of failed outcomes, 0 for an empty slice
func FailedFraction[T any](outcomes []Outcome[T]) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	return float64(failed) / float64(len(outcomes))
}
