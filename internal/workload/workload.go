package workload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"k8s.io/client-go/kubernetes"

	"netdiag/internal/config"
	"netdiag/internal/daemon"
	"netdiag/internal/diagnostic"
	"netdiag/internal/metrics"
	"netdiag/internal/pattern"
	"netdiag/internal/probe"
	"netdiag/internal/results"
	"netdiag/internal/topology"
)

var (
	// ErrUnknownWorkload is returned by New for unregistered names
	ErrUnknownWorkload = errors.New("unknown workload")
	// ErrInvalidArgs wraps argument decoding and validation failures
	ErrInvalidArgs = errors.New("invalid workload arguments")
	// ErrNoTopology means no requested node could be resolved
	ErrNoTopology = errors.New("no requested node has a usable interface")
	// ErrTooManyFailures means an interface lost more edges than allowed
	ErrTooManyFailures = errors.New("too many failed edges")
)

// Workload is a pluggable test type. Implementations are driven through a
// Lifecycle, which enforces the phase order.
type Workload interface {
	Name() string
	// Setup resolves topology and prepares anything the run needs
	Setup(ctx context.Context) error
	// Run executes the test along edges
	Run(ctx context.Context, edges []pattern.Edge) error
	// ProcessResults aggregates, prints and returns the results
	ProcessResults(ctx context.Context) (*Report, error)
	// Teardown releases whatever Setup and Run acquired
	Teardown(ctx context.Context) error
}

// Prober launches reachability probes
type Prober interface {
	Run(ctx context.Context, targets []probe.Target) []probe.Result
}

// Deps are the collaborators handed to every workload
type Deps struct {
	Config  *config.Config
	Kube    kubernetes.Interface
	Daemon  daemon.Getter
	Metrics *metrics.Recorder
	Logger  *diagnostic.Logger
	// Out receives the human readable report
	Out io.Writer

	// Prober overrides the probe runner built from the workload arguments
	Prober Prober
	// LocalAddrs overrides local address discovery
	LocalAddrs topology.AddrSource
}

func (d *Deps) validate() error {
	if d.Config == nil {
		return errors.New("workload requires a configuration")
	}
	if d.Kube == nil {
		return errors.New("workload requires a kubernetes client")
	}
	if d.Logger == nil {
		d.Logger = diagnostic.NewDiscardLogger()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRecorder()
	}
	if d.Out == nil {
		d.Out = io.Discard
	}
	if d.LocalAddrs == nil {
		d.LocalAddrs = topology.LocalAddrs
	}
	return nil
}

// Report is what a workload hands back after processing its results
type Report struct {
	Workload     string                      `json:"workload" yaml:"workload"`
	Nodes        []string                    `json:"nodes" yaml:"nodes"`
	Edges        []pattern.Edge              `json:"edges" yaml:"edges"`
	Topology     topology.Map                `json:"topology,omitempty" yaml:"topology,omitempty"`
	Bandwidth    []results.Matrix            `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
	Summary      []string                    `json:"summary,omitempty" yaml:"summary,omitempty"`
	Reachability *results.ReachabilityReport `json:"reachability,omitempty" yaml:"reachability,omitempty"`
	// Passed is false when any edge or probe failed
	Passed bool `json:"passed" yaml:"passed"`
}

// Constructor builds a workload for nodes from JSON-encoded arguments
type Constructor func(deps Deps, nodes []string, args json.RawMessage) (Workload, error)

var registry = map[string]Constructor{
	"iperf3": NewBandwidth,
	"ping":   NewReachability,
}

var aliases = map[string]string{
	"bandwidth":    "iperf3",
	"reachability": "ping",
}

// Names lists the registered workload names
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the named workload
func New(name string, deps Deps, nodes []string, args json.RawMessage) (Workload, error) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %v)", ErrUnknownWorkload, name, Names())
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return ctor(deps, nodes, args)
}
