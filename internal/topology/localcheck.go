package topology

import (
	"context"
	"fmt"
	"net"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AddrSource lists the IP addresses configured on the local host
type AddrSource func() ([]string, error)

// LocalAddrs returns every address configured on a local network interface
func LocalAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list local interfaces: %w", err)
	}
	var out []string
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", iface.Name, err)
		}
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				out = append(out, v.IP.String())
			case *net.IPAddr:
				out = append(out, v.IP.String())
			}
		}
	}
	return out, nil
}

// VerifyLocal checks that every IP podName advertises (through its
// network-status annotation, or its pod IPs) is configured on this host.
// A missing address means the CNI attachments are inconsistent and is
// reported as ErrInterfaceMismatch.
func (r *Resolver) VerifyLocal(ctx context.Context, podName string, local AddrSource) error {
	if podName == "" {
		return fmt.Errorf("cannot verify local interfaces: pod name is not set")
	}
	pod, err := r.client.CoreV1().Pods(r.opts.Namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get pod %s/%s: %w", r.opts.Namespace, podName, err)
	}

	observed, err := local()
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(observed))
	for _, ip := range observed {
		present[normalizeIP(ip)] = true
	}

	for _, ip := range AdvertisedIPs(pod) {
		if !present[normalizeIP(ip)] {
			r.logger.LogError("Pod %s reports %s, not found locally among %v", podName, ip, observed)
			return fmt.Errorf("%w: %s advertised by pod %s", ErrInterfaceMismatch, ip, podName)
		}
	}
	r.logger.LogDebug("All addresses advertised by %s are configured locally", podName)
	return nil
}

func normalizeIP(s string) string {
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return s
}
