package probe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"netdiag/internal/diagnostic"
)

// Target is one address to probe
type Target struct {
	Node      string `json:"node" yaml:"node"`
	IP        string `json:"ip" yaml:"ip"`
	Interface string `json:"interface" yaml:"interface"`
}

// Result is the captured output of one finished probe process
type Result struct {
	Target                   `yaml:",inline"`
	diagnostic.CommandOutput `yaml:",inline"`
}

// Options describes the probe command
type Options struct {
	Command string
	// Args builds the command arguments for an address
	Args func(ip string) []string
	// Wait caps how long each process may run before it is abandoned
	Wait time.Duration
}

// PingArgs returns arguments for `ping <ip> -t <deadline> -c <count>`
func PingArgs(count, deadline int) func(string) []string {
	return func(ip string) []string {
		return []string{ip, "-t", strconv.Itoa(deadline), "-c", strconv.Itoa(count)}
	}
}

// Runner launches one probe process per target, all at once
type Runner struct {
	opts   Options
	logger *diagnostic.Logger
}

// NewRunner creates a Runner
func NewRunner(opts Options, logger *diagnostic.Logger) *Runner {
	if opts.Command == "" {
		opts.Command = "ping"
	}
	if opts.Args == nil {
		opts.Args = PingArgs(10, 45)
	}
	if opts.Wait <= 0 {
		opts.Wait = 50 * time.Second
	}
	return &Runner{opts: opts, logger: logger.WithContext("probe")}
}

// Run probes every target concurrently. Processes that outlive the wait cap
// are killed, reaped and left out of the returned results, which otherwise
// keep the order of targets.
func (r *Runner) Run(ctx context.Context, targets []Target) []Result {
	slots := make([]*Result, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			slots[i] = r.probe(ctx, t)
		}(i, t)
	}
	wg.Wait()

	results := make([]Result, 0, len(targets))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	return results
}

func (r *Runner) probe(ctx context.Context, t Target) *Result {
	args := r.opts.Args(t.IP)
	cmd := exec.Command(r.opts.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	res := &Result{Target: t}
	res.Command = strings.Join(append([]string{r.opts.Command}, args...), " ")
	res.Description = "reachability of " + t.IP + " on " + t.Node

	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.ExitCode = -1
		res.Stderr = err.Error()
		return res
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(r.opts.Wait)
	defer timer.Stop()

	select {
	case err := <-done:
		res.ExitCode = exitCode(err)
		if err != nil && res.ExitCode == -1 {
			stderr.WriteString(err.Error())
		}
	case <-timer.C:
		r.logger.LogWarning("Timeout while waiting for %s on node %s", t.IP, t.Node)
		r.kill(cmd, done)
		return nil
	case <-ctx.Done():
		r.logger.LogWarning("Abandoning probe of %s on node %s: %v", t.IP, t.Node, ctx.Err())
		r.kill(cmd, done)
		return nil
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Duration = time.Since(start).Round(time.Millisecond).String()
	r.logger.LogCommandExecution(res.CommandOutput)
	return res
}

func (r *Runner) kill(cmd *exec.Cmd, done <-chan error) {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.LogDebug("kill %d: %v", cmd.Process.Pid, err)
	}
	<-done
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
