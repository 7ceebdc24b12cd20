package results

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"netdiag/internal/daemon"
)

// RawResult is the outcome of one edge on one interface. An empty Payload
// means the test failed or the target was unreachable.
type RawResult struct {
	Source      string          `json:"source" yaml:"source"`
	Target      string          `json:"target" yaml:"target"`
	SourceLabel string          `json:"source_label" yaml:"source_label"`
	TargetLabel string          `json:"target_label" yaml:"target_label"`
	Interface   string          `json:"interface" yaml:"interface"`
	Payload     json.RawMessage `json:"payload,omitempty" yaml:"-"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Empty reports whether the result carries no measurement
func (r RawResult) Empty() bool {
	return len(r.Payload) == 0
}

// CellState tells measured values apart from failures and unattempted pairs
type CellState int

const (
	NotApplicable CellState = iota
	Measured
	Failed
)

func (s CellState) String() string {
	switch s {
	case Measured:
		return "measured"
	case Failed:
		return "failed"
	default:
		return "n/a"
	}
}

// MarshalText lets reports carry the state by name
func (s CellState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Cell is one source -> target entry of a Matrix
type Cell struct {
	State CellState `json:"state" yaml:"state"`
	// Value is the bitrate in Gb/s; zero for failed cells
	Value float64 `json:"value" yaml:"value"`
}

// String renders the cell for tables
func (c Cell) String() string {
	switch c.State {
	case Measured:
		return fmt.Sprintf("%.2f", c.Value)
	case Failed:
		return "0.00 (FAILED)"
	default:
		return "N/A"
	}
}

// Matrix is the square source -> target bandwidth table of one interface
type Matrix struct {
	Interface string                     `json:"interface" yaml:"interface"`
	Labels    []string                   `json:"labels" yaml:"labels"`
	Cells     map[string]map[string]Cell `json:"cells" yaml:"cells"`
	// Average counts failed edges as zero
	Average float64 `json:"average_gbps" yaml:"average_gbps"`
	Edges   int     `json:"edges" yaml:"edges"`
	Failed  int     `json:"failed" yaml:"failed"`
}

// Cell returns the entry for src -> dst, NotApplicable when never attempted
func (m *Matrix) Cell(src, dst string) Cell {
	return m.Cells[src][dst]
}

// AggregateBandwidth groups raw results by interface, in first-seen order,
// and builds one Matrix per interface.
func AggregateBandwidth(raw []RawResult) []Matrix {
	var order []string
	groups := map[string][]RawResult{}
	for _, r := range raw {
		if _, ok := groups[r.Interface]; !ok {
			order = append(order, r.Interface)
		}
		groups[r.Interface] = append(groups[r.Interface], r)
	}

	matrices := make([]Matrix, 0, len(order))
	for _, iface := range order {
		matrices = append(matrices, buildMatrix(iface, groups[iface]))
	}
	return matrices
}

func buildMatrix(iface string, group []RawResult) Matrix {
	m := Matrix{
		Interface: iface,
		Cells:     map[string]map[string]Cell{},
	}
	labels := map[string]struct{}{}
	total := 0.0
	for _, r := range group {
		src, dst := labelOf(r.SourceLabel, r.Source), labelOf(r.TargetLabel, r.Target)
		labels[src] = struct{}{}
		labels[dst] = struct{}{}

		cell := Cell{State: Failed}
		if bitrate, ok := bitrateOf(r); ok {
			cell = Cell{State: Measured, Value: bitrate}
		} else {
			m.Failed++
		}
		if m.Cells[src] == nil {
			m.Cells[src] = map[string]Cell{}
		}
		m.Cells[src][dst] = cell
		total += cell.Value
		m.Edges++
	}
	if m.Edges > 0 {
		m.Average = total / float64(m.Edges)
	}
	for label := range labels {
		m.Labels = append(m.Labels, label)
	}
	sort.Strings(m.Labels)

	// every pair is present; unattempted ones stay NotApplicable
	for _, src := range m.Labels {
		if m.Cells[src] == nil {
			m.Cells[src] = map[string]Cell{}
		}
		for _, dst := range m.Labels {
			if _, ok := m.Cells[src][dst]; !ok {
				m.Cells[src][dst] = Cell{State: NotApplicable}
			}
		}
	}
	return m
}

func bitrateOf(r RawResult) (float64, bool) {
	if r.Empty() {
		return 0, false
	}
	report, err := daemon.ParseClientReport(r.Payload)
	if err != nil {
		return 0, false
	}
	bitrate, err := report.Bitrate()
	if err != nil {
		return 0, false
	}
	return bitrate, true
}

func labelOf(label, node string) string {
	if label != "" {
		return label
	}
	return node
}

// RenderBandwidth prints every matrix followed by the per-interface averages
func RenderBandwidth(w io.Writer, matrices []Matrix) {
	for i := range matrices {
		m := &matrices[i]
		width := len("src/dst")
		for _, l := range m.Labels {
			if len(l) > width {
				width = len(l)
			}
		}
		width += 2
		if w2 := len("0.00 (FAILED)") + 2; width < w2 {
			width = w2
		}

		fmt.Fprintf(w, "Network Throughput %s:\n", m.Interface)
		var header strings.Builder
		header.WriteString(pad("src/dst", width))
		for _, dst := range m.Labels {
			header.WriteString(pad(dst, width))
		}
		fmt.Fprintln(w, strings.TrimRight(header.String(), " "))
		for _, src := range m.Labels {
			var row strings.Builder
			row.WriteString(pad(src, width))
			for _, dst := range m.Labels {
				row.WriteString(pad(m.Cell(src, dst).String(), width))
			}
			fmt.Fprintln(w, strings.TrimRight(row.String(), " "))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Overall Network Interface Average Bandwidth:")
	for _, line := range SummaryLines(matrices) {
		fmt.Fprintln(w, line)
	}
}

// SummaryLines returns one average bandwidth line per interface
func SummaryLines(matrices []Matrix) []string {
	lines := make([]string, 0, len(matrices))
	for _, m := range matrices {
		line := fmt.Sprintf("%s Average Bandwidth Gb/s: %.2f", m.Interface, m.Average)
		if m.Failed > 0 {
			line += fmt.Sprintf(" (%d of %d edges failed)", m.Failed, m.Edges)
		}
		lines = append(lines, line)
	}
	return lines
}

func pad(s string, width int) string {
	return fmt.Sprintf("%-*s", width, s)
}
