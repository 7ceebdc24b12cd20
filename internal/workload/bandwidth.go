package workload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"netdiag/internal/daemon"
	"netdiag/internal/diagnostic"
	"netdiag/internal/dispatch"
	"netdiag/internal/pattern"
	"netdiag/internal/results"
	"netdiag/internal/topology"
)

// BandwidthArgs are the options recognised by the iperf3 workload
type BandwidthArgs struct {
	Namespace         string        `mapstructure:"namespace" validate:"required"`
	PClients          int           `mapstructure:"pclients" validate:"min=1"`
	StartPort         int           `mapstructure:"startport" validate:"min=1,max=65535"`
	Service           string        `mapstructure:"service" validate:"required"`
	Selector          string        `mapstructure:"selector" validate:"required"`
	ExcludeInterfaces []string      `mapstructure:"exclude_interfaces"`
	MaxFailedFraction float64       `mapstructure:"max_failed_fraction" validate:"gte=0,lte=1"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Grace             time.Duration `mapstructure:"grace" validate:"gte=0"`
}

// Lane is one interface test cycle: the IP at Index of Interface on each node
type Lane struct {
	Name      string
	Interface string
	Index     int
}

// Lanes expands the topology's interfaces into test cycles. An interface
// carrying a single IP everywhere is one lane named after it; otherwise each
// IP position becomes "<iface>-<index>".
func Lanes(m topology.Map) []Lane {
	var lanes []Lane
	for _, iface := range m.InterfaceNames() {
		most := 0
		for _, entry := range m {
			if n := len(entry.Interfaces[iface]); n > most {
				most = n
			}
		}
		if most == 1 {
			lanes = append(lanes, Lane{Name: iface, Interface: iface})
			continue
		}
		for i := 0; i < most; i++ {
			lanes = append(lanes, Lane{Name: fmt.Sprintf("%s-%d", iface, i), Interface: iface, Index: i})
		}
	}
	return lanes
}

// Bandwidth measures throughput between daemon pods with iperf3
type Bandwidth struct {
	deps     Deps
	nodes    []string
	args     BandwidthArgs
	resolver *topology.Resolver
	coord    *dispatch.Coordinator
	logger   *diagnostic.Logger

	topo  topology.Map
	edges []pattern.Edge
	raw   []results.RawResult
}

// NewBandwidth is the iperf3 Constructor
func NewBandwidth(deps Deps, nodes []string, raw json.RawMessage) (Workload, error) {
	if deps.Daemon == nil {
		return nil, errors.New("iperf3 workload requires a daemon client")
	}
	var args BandwidthArgs
	err := decodeArgs(raw, map[string]interface{}{
		"namespace":           deps.Config.Namespace,
		"pclients":            8,
		"startport":           5200,
		"service":             deps.Config.DaemonService,
		"selector":            deps.Config.DaemonSelector,
		"exclude_interfaces":  []string{"eth0"},
		"max_failed_fraction": 1.0,
		"timeout":             deps.Config.RequestTimeout,
		"grace":               time.Second,
	}, &args)
	if err != nil {
		return nil, err
	}

	b := &Bandwidth{
		deps:   deps,
		nodes:  nodes,
		args:   args,
		logger: deps.Logger.WithContext("iperf3"),
		coord:  dispatch.New(dispatch.Options{Grace: args.Grace, Timeout: args.Timeout}),
	}
	b.resolver = topology.NewResolver(deps.Kube, topology.Options{
		Namespace:   args.Namespace,
		Service:     args.Service,
		PodSelector: args.Selector,
		Exclude:     args.ExcludeInterfaces,
	}, deps.Logger)
	return b, nil
}

// Name implements Workload
func (b *Bandwidth) Name() string {
	return "iperf3"
}

// Args returns the decoded arguments
func (b *Bandwidth) Args() BandwidthArgs {
	return b.args
}

// Setup resolves the topology of the requested nodes
func (b *Bandwidth) Setup(ctx context.Context) error {
	topo, err := b.resolver.Resolve(ctx, b.nodes)
	if err != nil {
		return err
	}
	if len(topo) == 0 {
		return ErrNoTopology
	}
	b.topo = topo
	b.logger.LogInfo("Resolved %d of %d nodes, interfaces %v", len(topo), len(b.nodes), topo.InterfaceNames())
	return nil
}

// Run tests every lane in turn. Within a lane, listeners are started on all
// nodes before any client is released.
func (b *Bandwidth) Run(ctx context.Context, edges []pattern.Edge) error {
	b.edges = edges
	b.logger.LogInfo("Running iperf3 workload with %d edges", len(edges))

	for _, lane := range Lanes(b.topo) {
		logger := b.logger.WithContext(lane.Name)
		logger.LogInfo("Running interface %s", lane.Name)

		cycle, err := dispatch.Run(ctx, b.coord, b.serverTasks(logger), b.clientJobs(lane, edges))
		if err != nil {
			return fmt.Errorf("interface %s: %w", lane.Name, err)
		}

		for i, outcome := range cycle.Outcomes {
			b.raw = append(b.raw, b.rawResult(logger, lane, edges[i], outcome))
		}

		if frac := dispatch.FailedFraction(cycle.Outcomes); frac > b.args.MaxFailedFraction {
			return fmt.Errorf("%w: %.0f%% of edges on %s failed (limit %.0f%%)",
				ErrTooManyFailures, frac*100, lane.Name, b.args.MaxFailedFraction*100)
		}
	}
	return nil
}

func (b *Bandwidth) serverTasks(logger *diagnostic.Logger) []dispatch.Task {
	path := daemon.StartServersPath(b.args.PClients, b.args.StartPort)
	tasks := make([]dispatch.Task, 0, len(b.topo))
	for _, node := range b.topo.Nodes() {
		node, entry := node, b.topo[node]
		tasks = append(tasks, func(ctx context.Context) error {
			if _, err := b.deps.Daemon.Get(ctx, entry.Endpoint, path); err != nil {
				logger.LogErrorWithCause(err, "Error when creating servers on %s at %s", node, path)
				return fmt.Errorf("starting servers on %s: %w", node, err)
			}
			return nil
		})
	}
	return tasks
}

func (b *Bandwidth) clientJobs(lane Lane, edges []pattern.Edge) []dispatch.Job[[]byte] {
	jobs := make([]dispatch.Job[[]byte], 0, len(edges))
	for _, edge := range edges {
		edge := edge
		jobs = append(jobs, func(ctx context.Context) ([]byte, error) {
			src, ok := b.topo[edge.Source]
			if !ok {
				return nil, fmt.Errorf("source %s is not in the topology", edge.Source)
			}
			dst, ok := b.topo[edge.Target]
			if !ok {
				return nil, fmt.Errorf("target %s is not in the topology", edge.Target)
			}
			ips := dst.Interfaces[lane.Interface]
			if lane.Index >= len(ips) {
				return nil, fmt.Errorf("target %s has no address on %s", edge.Target, lane.Name)
			}

			body, err := b.deps.Daemon.Get(ctx, src.Endpoint, daemon.RunClientsPath(ips[lane.Index], b.args.StartPort, b.args.PClients))
			if err != nil {
				return nil, err
			}
			compact := daemon.StripWhitespace(body)
			report, err := daemon.ParseClientReport(compact)
			if err != nil {
				return nil, fmt.Errorf("%w; response: %s", err, compact)
			}
			if _, err := report.Bitrate(); err != nil {
				return nil, fmt.Errorf("%w; response: %s", err, compact)
			}
			return compact, nil
		})
	}
	return jobs
}

func (b *Bandwidth) rawResult(logger *diagnostic.Logger, lane Lane, edge pattern.Edge, outcome dispatch.Outcome[[]byte]) results.RawResult {
	r := results.RawResult{
		Source:      edge.Source,
		Target:      edge.Target,
		SourceLabel: b.label(edge.Source),
		TargetLabel: b.label(edge.Target),
		Interface:   lane.Name,
	}
	if outcome.Failed() {
		r.Error = outcome.Err.Error()
		logger.LogErrorWithCause(outcome.Err, "Failure occurred from src %s to dst %s on iface %s", r.SourceLabel, r.TargetLabel, lane.Name)
		return r
	}
	r.Payload = outcome.Value
	return r
}

func (b *Bandwidth) label(node string) string {
	if entry, ok := b.topo[node]; ok {
		return entry.Label(node)
	}
	return node
}

// RawResults returns the per-edge results collected by Run
func (b *Bandwidth) RawResults() []results.RawResult {
	return b.raw
}

// ProcessResults builds and prints one matrix per lane
func (b *Bandwidth) ProcessResults(ctx context.Context) (*Report, error) {
	b.logger.LogInfo("Processing iperf3 results")
	matrices := results.AggregateBandwidth(b.raw)
	results.RenderBandwidth(b.deps.Out, matrices)

	passed := true
	for _, m := range matrices {
		b.deps.Metrics.InterfaceAverage(m.Interface, m.Average)
		for src, row := range m.Cells {
			for dst, cell := range row {
				switch cell.State {
				case results.Measured:
					b.deps.Metrics.EdgeMeasured(m.Interface, src, dst, cell.Value)
				case results.Failed:
					b.deps.Metrics.EdgeFailed(b.Name(), m.Interface)
				}
			}
		}
		if m.Failed > 0 {
			passed = false
		}
	}

	return &Report{
		Workload:  b.Name(),
		Nodes:     b.nodes,
		Edges:     b.edges,
		Topology:  b.topo,
		Bandwidth: matrices,
		Summary:   results.SummaryLines(matrices),
		Passed:    passed,
	}, nil
}

// Teardown stops the listeners on every node, once
func (b *Bandwidth) Teardown(ctx context.Context) error {
	b.logger.LogInfo("Tearing down iperf3 workload")

	nodes := b.topo.Nodes()
	errs := make([]error, len(nodes))
	var g errgroup.Group
	for i, node := range nodes {
		i, node, entry := i, node, b.topo[node]
		g.Go(func() error {
			if _, err := b.deps.Daemon.Get(ctx, entry.Endpoint, daemon.StopServersPath); err != nil {
				b.logger.LogErrorWithCause(err, "Error when stopping servers on %s", node)
				errs[i] = fmt.Errorf("stopping servers on %s: %w", node, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	b.logger.LogInfo("iPerf3 servers stopped on all nodes")
	return nil
}
