package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects run metrics on its own registry so that a run can be
// exported as a node-exporter textfile without a long-lived HTTP endpoint.
type Recorder struct {
	registry *prometheus.Registry

	edgeBandwidth  *prometheus.GaugeVec
	edgeFailures   *prometheus.CounterVec
	ifaceAverage   *prometheus.GaugeVec
	probeStatus    *prometheus.GaugeVec
	phaseDurations *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with all collectors registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		edgeBandwidth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netdiag",
			Name:      "edge_bandwidth_gbps",
			Help:      "Measured receiver bitrate of one source/target edge.",
		}, []string{"interface", "source", "target"}),
		edgeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netdiag",
			Name:      "edge_failures_total",
			Help:      "Edges that produced no measurement.",
		}, []string{"workload", "interface"}),
		ifaceAverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netdiag",
			Name:      "interface_average_bandwidth_gbps",
			Help:      "Average bandwidth over all edges of an interface, failures counted as zero.",
		}, []string{"interface"}),
		probeStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netdiag",
			Name:      "probe_unreachable",
			Help:      "1 when the probed address was unreachable, 0 otherwise.",
		}, []string{"node", "ip", "interface"}),
		phaseDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "netdiag",
			Name:      "phase_duration_seconds",
			Help:      "Duration of workload lifecycle phases.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"workload", "phase"}),
	}
	r.registry.MustRegister(r.edgeBandwidth, r.edgeFailures, r.ifaceAverage, r.probeStatus, r.phaseDurations)
	return r
}

// Registry exposes the underlying registry, e.g. for tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// EdgeMeasured records a successful edge measurement
func (r *Recorder) EdgeMeasured(iface, source, target string, gbps float64) {
	r.edgeBandwidth.WithLabelValues(iface, source, target).Set(gbps)
}

// EdgeFailed records an edge without measurement
func (r *Recorder) EdgeFailed(workload, iface string) {
	r.edgeFailures.WithLabelValues(workload, iface).Inc()
}

// InterfaceAverage records the average bandwidth of an interface
func (r *Recorder) InterfaceAverage(iface string, gbps float64) {
	r.ifaceAverage.WithLabelValues(iface).Set(gbps)
}

// Probe records a reachability probe outcome
func (r *Recorder) Probe(node, ip, iface string, reachable bool) {
	v := 0.0
	if !reachable {
		v = 1
	}
	r.probeStatus.WithLabelValues(node, ip, iface).Set(v)
}

// ObservePhase records how long a lifecycle phase took
func (r *Recorder) ObservePhase(workload, phase string, d time.Duration) {
	r.phaseDurations.WithLabelValues(workload, phase).Observe(d.Seconds())
}

// WriteTextfile writes all metrics in the Prometheus text format to path
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
