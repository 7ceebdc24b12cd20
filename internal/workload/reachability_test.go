package workload

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netdiag/internal/diagnostic"
	"netdiag/internal/pattern"
	"netdiag/internal/probe"
	"netdiag/internal/results"
	"netdiag/internal/topology"
)

type fakeProber struct {
	mu      sync.Mutex
	targets []probe.Target
	// lost lists IPs that answer with total packet loss
	lost map[string]bool
	// dropped lists IPs whose probe never finishes
	dropped map[string]bool
}

func (f *fakeProber) Run(ctx context.Context, targets []probe.Target) []probe.Result {
	f.mu.Lock()
	f.targets = append(f.targets, targets...)
	f.mu.Unlock()

	var out []probe.Result
	for _, t := range targets {
		if f.dropped[t.IP] {
			continue
		}
		res := probe.Result{Target: t, CommandOutput: diagnostic.CommandOutput{Command: "ping " + t.IP}}
		if f.lost[t.IP] {
			res.Stdout = "10 packets transmitted, 0 received, 100% packet loss, time 9213ms"
			res.ExitCode = 1
		} else {
			res.Stdout = "10 packets transmitted, 10 received, 0% packet loss, time 9012ms"
		}
		out = append(out, res)
	}
	return out
}

func pingDeps(t *testing.T, c cluster, p *fakeProber) (Deps, *bytes.Buffer) {
	t.Helper()
	deps, out := testDeps(t, c, &fakeDaemon{})
	deps.Daemon = nil
	deps.Prober = p
	return deps, out
}

func runPing(t *testing.T, deps Deps, nodes []string, edges []pattern.Edge) (*Report, error) {
	t.Helper()
	w, err := New("ping", deps, nodes, nil)
	require.NoError(t, err)
	return Execute(context.Background(), NewLifecycle(w, deps.Metrics, deps.Logger), edges)
}

func TestReachabilityAllReachable(t *testing.T) {
	p := &fakeProber{}
	deps, out := pingDeps(t, threeNodes, p)

	report, err := runPing(t, deps, threeNodeNames, pattern.GenerateRing(threeNodeNames))
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, "ping", report.Workload)
	require.NotNil(t, report.Reachability)
	// eth0 plus two net1 addresses on each of three nodes
	assert.Len(t, report.Reachability.Probes, 9)
	assert.Equal(t, []string{results.ReachabilityPass}, report.Summary)
	assert.Contains(t, out.String(), "Node worker-2 192.168.2.2 net1-1 0")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out.String()), results.ReachabilityPass))
}

func TestReachabilityPacketLossFails(t *testing.T) {
	p := &fakeProber{lost: map[string]bool{"192.168.1.3": true}}
	deps, out := pingDeps(t, threeNodes, p)

	report, err := runPing(t, deps, threeNodeNames, pattern.GenerateRing(threeNodeNames))
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Contains(t, out.String(), "Node worker-3 192.168.1.3 net1-0 1")
	assert.Contains(t, out.String(), results.ReachabilityFail)

	assert.Equal(t, 1, strings.Count(out.String(), " 1\n"))

	count, err := testutil.GatherAndCount(deps.Metrics.Registry(), "netdiag_probe_unreachable")
	require.NoError(t, err)
	assert.Equal(t, 9, count)
}

func TestReachabilityDropsUnfinishedProbes(t *testing.T) {
	p := &fakeProber{dropped: map[string]bool{"192.168.2.1": true}}
	deps, out := pingDeps(t, threeNodes, p)

	report, err := runPing(t, deps, threeNodeNames, pattern.GenerateRing(threeNodeNames))
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Len(t, report.Reachability.Probes, 8)
	assert.NotContains(t, out.String(), "192.168.2.1")
	assert.Equal(t, []string{results.ReachabilityPass, "1 of 9 probes did not finish within 50s"}, report.Summary)
}

func TestReachabilitySkipsOwnNode(t *testing.T) {
	p := &fakeProber{}
	deps, _ := pingDeps(t, threeNodes, p)
	deps.Config.NodeName = "worker-1"

	_, err := runPing(t, deps, threeNodeNames, pattern.GenerateAllToAll(threeNodeNames))
	require.NoError(t, err)
	for _, target := range p.targets {
		assert.NotEqual(t, "worker-1", target.Node)
	}
	assert.Len(t, p.targets, 6)
}

func TestReachabilityLocalCheck(t *testing.T) {
	local := []string{"127.0.0.1", "10.128.0.1", "192.168.1.1", "192.168.2.1"}

	t.Run("all advertised addresses present", func(t *testing.T) {
		p := &fakeProber{}
		deps, _ := pingDeps(t, threeNodes, p)
		deps.Config.PodName = podName("worker-1")
		deps.Config.NodeName = "worker-1"
		deps.LocalAddrs = func() ([]string, error) { return local, nil }

		_, err := runPing(t, deps, threeNodeNames, pattern.GenerateRing(threeNodeNames))
		require.NoError(t, err)
		assert.NotEmpty(t, p.targets)
	})

	t.Run("missing address aborts before probing", func(t *testing.T) {
		p := &fakeProber{}
		deps, _ := pingDeps(t, threeNodes, p)
		deps.Config.PodName = podName("worker-1")
		deps.LocalAddrs = func() ([]string, error) { return local[:3], nil }

		_, err := runPing(t, deps, threeNodeNames, pattern.GenerateRing(threeNodeNames))
		require.ErrorIs(t, err, topology.ErrInterfaceMismatch)
		assert.Empty(t, p.targets)
	})
}

func TestReachabilityTargets(t *testing.T) {
	r := &Reachability{topo: topology.Map{
		"a": {Interfaces: map[string][]string{"net1": {"1.1.1.1", "1.1.2.1"}, "eth0": {"10.0.0.1"}}},
		"b": {Interfaces: map[string][]string{"net1": {"1.1.1.2"}}},
	}}
	edges := []pattern.Edge{{Source: "b", Target: "a"}, {Source: "a", Target: "b"}, {Source: "a", Target: "c"}}

	assert.Equal(t, []probe.Target{
		{Node: "a", IP: "10.0.0.1", Interface: "eth0"},
		{Node: "a", IP: "1.1.1.1", Interface: "net1-0"},
		{Node: "a", IP: "1.1.2.1", Interface: "net1-1"},
		{Node: "b", IP: "1.1.1.2", Interface: "net1"},
	}, r.Targets(edges))
}

func TestReachabilityArgs(t *testing.T) {
	deps, _ := pingDeps(t, threeNodes, &fakeProber{})

	w, err := New("reachability", deps, threeNodeNames, []byte(`{"count":"3","deadline":5,"wait":"10s"}`))
	require.NoError(t, err)
	args := w.(*Reachability).args
	assert.Equal(t, 3, args.Count)
	assert.Equal(t, 5, args.Deadline)
	assert.Equal(t, "ping", args.Command)
	assert.Equal(t, 100, args.MaxRetries)

	_, err = New("ping", deps, threeNodeNames, []byte(`{"count":0}`))
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"iperf3", "ping"}, Names())

	deps, _ := testDeps(t, threeNodes, &fakeDaemon{})
	_, err := New("traceroute", deps, threeNodeNames, nil)
	assert.ErrorIs(t, err, ErrUnknownWorkload)

	w, err := New("bandwidth", deps, threeNodeNames, nil)
	require.NoError(t, err)
	assert.Equal(t, "iperf3", w.Name())

	deps.Daemon = nil
	_, err = New("iperf3", deps, threeNodeNames, nil)
	assert.Error(t, err)

	deps.Kube = nil
	_, err = New("ping", deps, threeNodeNames, nil)
	assert.Error(t, err)
}
