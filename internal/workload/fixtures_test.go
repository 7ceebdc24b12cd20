package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"netdiag/internal/config"
	"netdiag/internal/diagnostic"
	"netdiag/internal/metrics"
	"netdiag/internal/topology"
)

const testNamespace = "autopilot"

func testConfig() *config.Config {
	return &config.Config{
		Namespace:         testNamespace,
		DaemonPort:        9001,
		DaemonService:     "autopilot-healthchecks",
		DaemonSelector:    "app=autopilot",
		DaemonSetSelector: "app=autopilot",
		RequestTimeout:    time.Minute,
	}
}

// cluster describes daemon pods: node -> secondary IPs on net1
type cluster map[string][]string

func podName(node string) string { return "autopilot-" + node }

func endpointIP(node string) string { return "10.128.0." + strings.TrimPrefix(node, "worker-") }

func (c cluster) objects(withEndpoints bool) []runtime.Object {
	var objs []runtime.Object
	subset := corev1.EndpointSubset{}
	for node, ips := range c {
		node := node
		status := fmt.Sprintf(`[{"name":"k8s-pod-network","interface":"eth0","ips":[%q],"default":true},{"name":"macvlan","interface":"net1","ips":["%s"]}]`,
			endpointIP(node), strings.Join(ips, `","`))
		if len(ips) == 0 {
			status = fmt.Sprintf(`[{"name":"k8s-pod-network","interface":"eth0","ips":[%q],"default":true}]`, endpointIP(node))
		}
		objs = append(objs, &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name:        podName(node),
				Namespace:   testNamespace,
				Labels:      map[string]string{"app": "autopilot"},
				Annotations: map[string]string{topology.NetworkStatusAnnotation: status},
			},
			Spec: corev1.PodSpec{NodeName: node},
			Status: corev1.PodStatus{
				Phase:      corev1.PodRunning,
				Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
			},
		})
		subset.Addresses = append(subset.Addresses, corev1.EndpointAddress{
			IP:        endpointIP(node),
			NodeName:  &node,
			TargetRef: &corev1.ObjectReference{Kind: "Pod", Name: podName(node)},
		})
	}
	if withEndpoints {
		objs = append(objs, &corev1.Endpoints{
			ObjectMeta: metav1.ObjectMeta{Name: "autopilot-healthchecks", Namespace: testNamespace},
			Subsets:    []corev1.EndpointSubset{subset},
		})
	}
	objs = append(objs, &appsv1.DaemonSet{
		ObjectMeta: metav1.ObjectMeta{Name: "autopilot", Namespace: testNamespace, Labels: map[string]string{"app": "autopilot"}},
		Status:     appsv1.DaemonSetStatus{DesiredNumberScheduled: int32(len(c))},
	})
	return objs
}

type daemonCall struct {
	endpoint string
	path     string
	query    url.Values
	start    time.Time
	end      time.Time
}

// fakeDaemon answers the measurement daemon API for every node
type fakeDaemon struct {
	mu    sync.Mutex
	calls []daemonCall

	// failClientsFrom makes /iperfclients fail for these source endpoints
	failClientsFrom map[string]bool
	// hangTo makes /iperfclients towards these destination IPs block
	hangTo map[string]bool
	// garbageTo makes /iperfclients return a non-JSON reply
	garbageTo map[string]bool
	// errorReplyTo makes /iperfclients return iperf3's JSON error object
	errorReplyTo map[string]bool
	// failStopOn makes /iperfstopservers fail on these endpoints
	failStopOn map[string]bool
	failStart  bool
	serverLag time.Duration
}

func (f *fakeDaemon) Get(ctx context.Context, endpoint, path string) ([]byte, error) {
	call := daemonCall{endpoint: endpoint, start: time.Now()}
	u, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	call.path, call.query = u.Path, u.Query()
	defer func() {
		call.end = time.Now()
		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()
	}()

	switch call.path {
	case "/iperfservers":
		time.Sleep(f.serverLag)
		if f.failStart {
			return nil, errors.New("connection refused")
		}
		return []byte("servers started"), nil
	case "/iperfstopservers":
		if f.failStopOn[endpoint] {
			return nil, errors.New("connection refused")
		}
		return []byte("servers stopped"), nil
	case "/iperfclients":
		dst := call.query.Get("dstip")
		switch {
		case f.failClientsFrom[endpoint]:
			return nil, errors.New("connection reset by peer")
		case f.hangTo[dst]:
			<-ctx.Done()
			return nil, ctx.Err()
		case f.garbageTo[dst]:
			return []byte("iperf3: error - the server is busy running a test"), nil
		case f.errorReplyTo[dst]:
			return []byte("{\n  \"error\": \"unable to connect to server: Connection refused\"\n}"), nil
		}
		// bitrate encodes nothing but must be distinguishable from zero
		return []byte("{\n  \"receiver\": {\n    \"aggregate\": {\"bitrate\": 42.5}\n  }\n}"), nil
	}
	return nil, fmt.Errorf("unexpected path %s", path)
}

func (f *fakeDaemon) callsTo(path string) []daemonCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []daemonCall
	for _, c := range f.calls {
		if c.path == path {
			out = append(out, c)
		}
	}
	return out
}

func testDeps(t *testing.T, c cluster, d *fakeDaemon) (Deps, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return Deps{
		Config:  testConfig(),
		Kube:    fake.NewSimpleClientset(c.objects(true)...),
		Daemon:  d,
		Metrics: metrics.NewRecorder(),
		Logger:  diagnostic.NewDiscardLogger(),
		Out:     &out,
	}, &out
}
