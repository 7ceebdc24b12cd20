package topology

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"netdiag/internal/diagnostic"
)

var (
	// ErrReadinessTimeout means the daemon pods never all became ready
	ErrReadinessTimeout = errors.New("timed out waiting for measurement daemon pods")
	// ErrInterfaceMismatch means an advertised IP is not configured locally
	ErrInterfaceMismatch = errors.New("advertised interface address not found locally")
)

// Options selects the measurement daemon objects in the cluster
type Options struct {
	Namespace         string
	Service           string
	PodSelector       string
	DaemonSetSelector string
	// Exclude lists interface names never used for testing (e.g. eth0)
	Exclude []string

	PollInterval time.Duration
	MaxRetries   int
}

// Entry is the resolved addressing of one node
type Entry struct {
	Pod        string              `json:"pod" yaml:"pod"`
	Endpoint   string              `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Interfaces map[string][]string `json:"interfaces" yaml:"interfaces"`
}

// Label names the daemon pod on its node, as shown in reports
func (e Entry) Label(node string) string {
	return e.Pod + "_on_" + node
}

// Map is the node -> Entry topology. It is read-only once resolved.
type Map map[string]Entry

// Nodes returns the node names in sorted order
func (m Map) Nodes() []string {
	return sortedKeys(m)
}

// InterfaceNames returns the union of interface names in sorted order
func (m Map) InterfaceNames() []string {
	set := map[string]struct{}{}
	for _, e := range m {
		for name := range e.Interfaces {
			set[name] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Resolver builds topology maps from the control plane
type Resolver struct {
	client kubernetes.Interface
	opts   Options
	logger *diagnostic.Logger
}

// NewResolver creates a resolver over client
func NewResolver(client kubernetes.Interface, opts Options, logger *diagnostic.Logger) *Resolver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 100
	}
	return &Resolver{client: client, opts: opts, logger: logger.WithContext("topology")}
}

// Resolve maps the requested nodes to daemon pod, control endpoint and
// per-interface IPs. Nodes unknown to the control plane or without any usable
// interface are left out.
func (r *Resolver) Resolve(ctx context.Context, nodes []string) (Map, error) {
	requested := toSet(nodes)

	endpoints, err := r.client.CoreV1().Endpoints(r.opts.Namespace).List(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("metadata.name", r.opts.Service).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints %s/%s: %w", r.opts.Namespace, r.opts.Service, err)
	}

	m := Map{}
	for _, ep := range endpoints.Items {
		if ep.Name != r.opts.Service || len(ep.Subsets) == 0 {
			continue
		}
		for _, addr := range ep.Subsets[0].Addresses {
			if addr.NodeName == nil || !requested[*addr.NodeName] {
				continue
			}
			if _, seen := m[*addr.NodeName]; seen {
				continue
			}
			entry := Entry{Endpoint: addr.IP}
			if addr.TargetRef != nil {
				entry.Pod = addr.TargetRef.Name
			}
			m[*addr.NodeName] = entry
		}
	}

	pods, err := r.listDaemonPods(ctx)
	if err != nil {
		return nil, err
	}

	excluded := toSet(r.opts.Exclude)
	for i := range pods {
		pod := &pods[i]
		entry, ok := m[pod.Spec.NodeName]
		if !ok {
			continue
		}
		ifaces, fallback, perr := PodInterfaces(pod)
		if perr != nil {
			r.logger.LogWarning("%v; using pod IPs", perr)
		} else if fallback {
			r.logger.LogInfo("Annotation %s not found on pod %q on %q", NetworkStatusAnnotation, pod.Name, pod.Spec.NodeName)
		}
		for name := range ifaces {
			if excluded[name] {
				delete(ifaces, name)
			}
		}
		if len(ifaces) > 0 {
			entry.Interfaces = ifaces
			m[pod.Spec.NodeName] = entry
		}
	}

	for node, entry := range m {
		if len(entry.Interfaces) == 0 {
			r.logger.LogInfo("Node %s has no usable interfaces, excluding it", node)
			delete(m, node)
		}
	}
	if len(m) == 0 {
		r.logger.LogError("No interfaces found on any requested node")
	}
	return m, nil
}

// NodeMap maps the requested nodes to their daemon pod interfaces, without
// control endpoints. skipNode (the caller's own node) is left out. It waits
// for the daemon set to be fully scheduled first.
func (r *Resolver) NodeMap(ctx context.Context, nodes []string, skipNode string) (Map, error) {
	pods, err := r.WaitForDaemonPods(ctx)
	if err != nil {
		return nil, err
	}

	requested := toSet(nodes)
	m := Map{}
	for i := range pods {
		pod := &pods[i]
		node := pod.Spec.NodeName
		if node == skipNode || !requested[node] {
			continue
		}
		ifaces, _, perr := PodInterfaces(pod)
		if perr != nil {
			r.logger.LogWarning("%v; using pod IPs", perr)
		}
		if len(ifaces) == 0 {
			r.logger.LogInfo("Node %s has no usable interfaces, excluding it", node)
			continue
		}
		m[node] = Entry{Pod: pod.Name, Interfaces: ifaces}
	}
	return m, nil
}

// ExpectedPods returns the desired pod count of the daemon set. Listing
// errors are logged and reported as zero.
func (r *Resolver) ExpectedPods(ctx context.Context) int {
	sets, err := r.client.AppsV1().DaemonSets(r.opts.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: r.opts.DaemonSetSelector,
	})
	if err != nil {
		r.logger.LogErrorWithCause(err, "Failed to list daemon sets %q", r.opts.DaemonSetSelector)
		return 0
	}
	if len(sets.Items) == 0 {
		r.logger.LogWarning("No daemon set matches %q", r.opts.DaemonSetSelector)
		return 0
	}
	return int(sets.Items[0].Status.DesiredNumberScheduled)
}

// WaitForDaemonPods polls until as many daemon pods are ready as the daemon
// set wants scheduled, for at most MaxRetries polls.
func (r *Resolver) WaitForDaemonPods(ctx context.Context) ([]corev1.Pod, error) {
	expected := r.ExpectedPods(ctx)

	var pods []corev1.Pod
	var lastErr error
	attempts := 0
	backoff := wait.Backoff{Duration: r.opts.PollInterval, Factor: 1, Steps: r.opts.MaxRetries + 1}
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempts++
		list, err := r.listDaemonPods(ctx)
		if err != nil {
			lastErr = err
			return false, err
		}
		pods = list
		ready := countReady(list)
		if ready >= expected {
			return true, nil
		}
		r.logger.LogInfo("Waiting for all daemon pods to run (%d/%d ready)", ready, expected)
		return false, nil
	})
	switch {
	case err == nil:
		return pods, nil
	case lastErr != nil:
		return nil, lastErr
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case wait.Interrupted(err):
		return nil, fmt.Errorf("%w: %d of %d ready after %d polls", ErrReadinessTimeout, countReady(pods), expected, attempts)
	default:
		return nil, err
	}
}

func (r *Resolver) listDaemonPods(ctx context.Context) ([]corev1.Pod, error) {
	pods, err := r.client.CoreV1().Pods(r.opts.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: r.opts.PodSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods %q in %s: %w", r.opts.PodSelector, r.opts.Namespace, err)
	}
	return pods.Items, nil
}

func countReady(pods []corev1.Pod) int {
	n := 0
	for i := range pods {
		if isPodReady(&pods[i]) {
			n++
		}
	}
	return n
}

func isPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
