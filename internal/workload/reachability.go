package workload

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"netdiag/internal/diagnostic"
	"netdiag/internal/pattern"
	"netdiag/internal/probe"
	"netdiag/internal/results"
	"netdiag/internal/topology"
)

// ReachabilityArgs are the options recognised by the ping workload
type ReachabilityArgs struct {
	Namespace         string        `mapstructure:"namespace" validate:"required"`
	Selector          string        `mapstructure:"selector" validate:"required"`
	DaemonSetSelector string        `mapstructure:"daemonset_selector" validate:"required"`
	Command           string        `mapstructure:"command" validate:"required"`
	Count             int           `mapstructure:"count" validate:"min=1"`
	Deadline          int           `mapstructure:"deadline" validate:"min=1"`
	Wait              time.Duration `mapstructure:"wait" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"min=1"`
}

// Reachability pings every address of the pattern's target nodes from this host
type Reachability struct {
	deps     Deps
	nodes    []string
	args     ReachabilityArgs
	resolver *topology.Resolver
	prober   Prober
	logger   *diagnostic.Logger

	topo  topology.Map
	edges []pattern.Edge
	raw   []probe.Result
	// probed and dropped count launched probes and those that never finished
	probed, dropped int
}

// NewReachability is the ping Constructor
func NewReachability(deps Deps, nodes []string, raw json.RawMessage) (Workload, error) {
	var args ReachabilityArgs
	err := decodeArgs(raw, map[string]interface{}{
		"namespace":          deps.Config.Namespace,
		"selector":           deps.Config.DaemonSelector,
		"daemonset_selector": deps.Config.DaemonSetSelector,
		"command":            "ping",
		"count":              10,
		"deadline":           45,
		"wait":               50 * time.Second,
		"poll_interval":      5 * time.Second,
		"max_retries":        100,
	}, &args)
	if err != nil {
		return nil, err
	}

	r := &Reachability{
		deps:   deps,
		nodes:  nodes,
		args:   args,
		prober: deps.Prober,
		logger: deps.Logger.WithContext("ping"),
	}
	if r.prober == nil {
		r.prober = probe.NewRunner(probe.Options{
			Command: args.Command,
			Args:    probe.PingArgs(args.Count, args.Deadline),
			Wait:    args.Wait,
		}, deps.Logger)
	}
	r.resolver = topology.NewResolver(deps.Kube, topology.Options{
		Namespace:         args.Namespace,
		PodSelector:       args.Selector,
		DaemonSetSelector: args.DaemonSetSelector,
		PollInterval:      args.PollInterval,
		MaxRetries:        args.MaxRetries,
	}, deps.Logger)
	return r, nil
}

// Name implements Workload
func (r *Reachability) Name() string {
	return "ping"
}

// Setup checks this pod's own attachments, then maps the other nodes
func (r *Reachability) Setup(ctx context.Context) error {
	if r.deps.Config.PodName == "" {
		r.logger.LogWarning("POD_NAME is not set, skipping local interface check")
	} else if err := r.resolver.VerifyLocal(ctx, r.deps.Config.PodName, r.deps.LocalAddrs); err != nil {
		return err
	}

	topo, err := r.resolver.NodeMap(ctx, r.nodes, r.deps.Config.NodeName)
	if err != nil {
		return err
	}
	r.topo = topo
	r.logger.LogInfo("Resolved %d nodes to probe", len(topo))
	return nil
}

// Targets lists one probe target per IP of every edge target. Interfaces
// with several IPs are indexed as "<iface>-<n>".
func (r *Reachability) Targets(edges []pattern.Edge) []probe.Target {
	var targets []probe.Target
	for _, node := range pattern.Targets(edges) {
		entry, ok := r.topo[node]
		if !ok {
			continue
		}
		for _, iface := range sortedInterfaces(entry) {
			ips := entry.Interfaces[iface]
			for i, ip := range ips {
				name := iface
				if len(ips) > 1 {
					name = fmt.Sprintf("%s-%d", iface, i)
				}
				targets = append(targets, probe.Target{Node: node, IP: ip, Interface: name})
			}
		}
	}
	return targets
}

// Run probes all targets concurrently
func (r *Reachability) Run(ctx context.Context, edges []pattern.Edge) error {
	r.edges = edges
	targets := r.Targets(edges)
	if len(targets) == 0 {
		r.logger.LogWarning("No nodes to ping")
		return nil
	}
	r.logger.LogInfo("Probing %d addresses on %d nodes", len(targets), len(pattern.Targets(edges)))
	r.raw = r.prober.Run(ctx, targets)
	r.probed, r.dropped = len(targets), len(targets)-len(r.raw)
	if r.dropped > 0 {
		r.logger.LogWarning("%d probes did not finish in time and were dropped", r.dropped)
	}
	return nil
}

// ProcessResults classifies and prints the probe results
func (r *Reachability) ProcessResults(ctx context.Context) (*Report, error) {
	r.logger.LogInfo("Processing ping results")
	reach := results.ClassifyReachability(r.raw)
	for _, p := range reach.Probes {
		if !p.Reachable {
			r.logger.With("node", p.Node, "iface", p.Interface).LogError("%s unreachable: %s", p.IP, p.Reason)
		}
		r.deps.Metrics.Probe(p.Node, p.IP, p.Interface, p.Reachable)
	}
	results.RenderReachability(r.deps.Out, reach)

	summary := []string{reach.Verdict()}
	if r.dropped > 0 {
		summary = append(summary, fmt.Sprintf("%d of %d probes did not finish within %s", r.dropped, r.probed, r.args.Wait))
	}

	return &Report{
		Workload:     r.Name(),
		Nodes:        r.nodes,
		Edges:        r.edges,
		Topology:     r.topo,
		Reachability: &reach,
		Summary:      summary,
		Passed:       reach.Passed,
	}, nil
}

// Teardown has nothing to release
func (r *Reachability) Teardown(ctx context.Context) error {
	r.logger.LogDebug("Tearing down ping workload - no action needed")
	return nil
}

func sortedInterfaces(e topology.Entry) []string {
	return topology.Map{"": e}.InterfaceNames()
}
