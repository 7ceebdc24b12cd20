package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Getter issues an HTTP GET against a measurement daemon and returns the body.
// It is the only capability the workloads need from the daemon API.
type Getter interface {
	Get(ctx context.Context, endpoint, path string) ([]byte, error)
}

// Client is a thin HTTP client for the measurement daemon
type Client struct {
	port    int
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a client for daemons listening on port. timeout bounds
// requests whose context carries no deadline of its own.
func NewClient(port int, timeout time.Duration) *Client {
	return &Client{
		port:    port,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Get fetches path from the daemon at endpoint (an IP or host name)
func (c *Client) Get(ctx context.Context, endpoint, path string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := "http://" + net.JoinHostPort(endpoint, strconv.Itoa(c.port)) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("GET %s: %d %s", u, resp.StatusCode, msg)
	}
	return body, nil
}

// StartServersPath asks a daemon to start n listeners from startPort upwards
func StartServersPath(n, startPort int) string {
	q := url.Values{}
	q.Set("numservers", strconv.Itoa(n))
	q.Set("startport", strconv.Itoa(startPort))
	return "/iperfservers?" + q.Encode()
}

// RunClientsPath asks a daemon to run n clients against dstIP:dstPort
func RunClientsPath(dstIP string, dstPort, n int) string {
	q := url.Values{}
	q.Set("dstip", dstIP)
	q.Set("dstport", strconv.Itoa(dstPort))
	q.Set("numclients", strconv.Itoa(n))
	return "/iperfclients?" + q.Encode()
}

// StopServersPath asks a daemon to stop all of its listeners
const StopServersPath = "/iperfstopservers"

// ClientReport is the part of the /iperfclients reply that is consumed
type ClientReport struct {
	Receiver struct {
		Aggregate struct {
			Bitrate json.Number `json:"bitrate"`
		} `json:"aggregate"`
	} `json:"receiver"`
}

// ParseClientReport decodes an /iperfclients reply. Whitespace is stripped
// first, as the daemon pretty-prints with embedded newlines.
func ParseClientReport(body []byte) (*ClientReport, error) {
	dec := json.NewDecoder(bytes.NewReader(StripWhitespace(body)))
	dec.UseNumber()
	var report ClientReport
	if err := dec.Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode client report: %w", err)
	}
	return &report, nil
}

// StripWhitespace removes every whitespace character from a daemon reply
func StripWhitespace(body []byte) []byte {
	return []byte(strings.Join(strings.Fields(string(body)), ""))
}

// Bitrate returns the aggregate receiver bitrate in Gb/s
func (r *ClientReport) Bitrate() (float64, error) {
	if r.Receiver.Aggregate.Bitrate == "" {
		return 0, fmt.Errorf("client report has no receiver bitrate")
	}
	return r.Receiver.Aggregate.Bitrate.Float64()
}
