package results

import (
	"fmt"
	"io"
	"strings"

	"netdiag/internal/probe"
)

const (
	// ReachabilityPass and ReachabilityFail are the verdict lines
	ReachabilityPass = "[PING] all nodes reachable. success"
	ReachabilityFail = "[PING] At least one node unreachable. FAIL"
)

var unreachableMarkers = []string{"Unreachable", "100% packet loss"}

// ProbeStatus is the classified outcome of one probed address
type ProbeStatus struct {
	Node      string `json:"node" yaml:"node"`
	IP        string `json:"ip" yaml:"ip"`
	Interface string `json:"interface" yaml:"interface"`
	Reachable bool   `json:"reachable" yaml:"reachable"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Line renders the status as "Node <node> <ip> <iface> <0|1>", 1 meaning failure
func (s ProbeStatus) Line() string {
	code := 0
	if !s.Reachable {
		code = 1
	}
	return fmt.Sprintf("Node %s %s %s %d", s.Node, s.IP, s.Interface, code)
}

// ReachabilityReport is the classified set of probe results
type ReachabilityReport struct {
	Probes []ProbeStatus `json:"probes" yaml:"probes"`
	Passed bool          `json:"passed" yaml:"passed"`
}

// Verdict returns the final PASS/FAIL line
func (r ReachabilityReport) Verdict() string {
	if r.Passed {
		return ReachabilityPass
	}
	return ReachabilityFail
}

// ClassifyProbe decides whether one probe reached its target. Any output on
// stderr is a failure, as is stdout reporting unreachability or total loss.
func ClassifyProbe(res probe.Result) ProbeStatus {
	status := ProbeStatus{Node: res.Node, IP: res.IP, Interface: res.Interface, Reachable: true}
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		status.Reachable = false
		status.Reason = stderr
		return status
	}
	for _, marker := range unreachableMarkers {
		if strings.Contains(res.Stdout, marker) {
			status.Reachable = false
			status.Reason = marker
			return status
		}
	}
	return status
}

// ClassifyReachability classifies every result; the report passes only when
// all probes reached their targets.
func ClassifyReachability(raw []probe.Result) ReachabilityReport {
	report := ReachabilityReport{Passed: true, Probes: make([]ProbeStatus, 0, len(raw))}
	for _, res := range raw {
		status := ClassifyProbe(res)
		if !status.Reachable {
			report.Passed = false
		}
		report.Probes = append(report.Probes, status)
	}
	return report
}

// RenderReachability prints one line per probe and the verdict
func RenderReachability(w io.Writer, report ReachabilityReport) {
	for _, p := range report.Probes {
		fmt.Fprintln(w, p.Line())
	}
	fmt.Fprintln(w, report.Verdict())
}
