package topology

import (
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

const (
	// NetworkStatusAnnotation is written by Multus with the pod's attachments
	NetworkStatusAnnotation = "k8s.v1.cni.cncf.io/network-status"

	// DefaultInterface holds the pod IPs when no network status is available
	DefaultInterface = "default"
	// UnnamedInterface holds network-status entries that do not name an interface
	UnnamedInterface = "k8s-pod-network"
)

// NetworkStatus is one entry of the network-status annotation
type NetworkStatus struct {
	Name      string   `json:"name"`
	Interface string   `json:"interface,omitempty"`
	IPs       []string `json:"ips,omitempty"`
	Mac       string   `json:"mac,omitempty"`
	Default   bool     `json:"default,omitempty"`
}

// ParseNetworkStatus decodes the network-status annotation of pod. A missing
// annotation is reported as (nil, nil).
func ParseNetworkStatus(pod *corev1.Pod) ([]NetworkStatus, error) {
	raw, ok := pod.Annotations[NetworkStatusAnnotation]
	if !ok {
		return nil, nil
	}
	var entries []NetworkStatus
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("malformed %s annotation on pod %s: %w", NetworkStatusAnnotation, pod.Name, err)
	}
	return entries, nil
}

// PodInterfaces returns the interface -> IPs map advertised by pod. When the
// network-status annotation is absent, malformed or empty the pod's primary
// IPs are returned under DefaultInterface and fallback is true.
func PodInterfaces(pod *corev1.Pod) (ifaces map[string][]string, fallback bool, err error) {
	entries, err := ParseNetworkStatus(pod)

	ifaces = make(map[string][]string)
	for _, entry := range entries {
		if len(entry.IPs) == 0 {
			continue
		}
		name := entry.Interface
		if name == "" {
			name = UnnamedInterface
		}
		ifaces[name] = append(ifaces[name], entry.IPs...)
	}
	if len(ifaces) > 0 {
		return ifaces, false, nil
	}

	var ips []string
	for _, podIP := range pod.Status.PodIPs {
		ips = append(ips, podIP.IP)
	}
	if len(ips) == 0 && pod.Status.PodIP != "" {
		ips = append(ips, pod.Status.PodIP)
	}
	if len(ips) > 0 {
		ifaces[DefaultInterface] = ips
	}
	return ifaces, true, err
}

// AdvertisedIPs flattens the addresses a pod advertises across interfaces
func AdvertisedIPs(pod *corev1.Pod) []string {
	ifaces, _, _ := PodInterfaces(pod)
	var out []string
	for _, name := range sortedKeys(ifaces) {
		out = append(out, ifaces[name]...)
	}
	return out
}
