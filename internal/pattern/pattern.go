package pattern

import (
	"errors"
	"fmt"
	"sort"
)

// Kind names a communication pattern
type Kind string

const (
	// Ring connects every node to the next one and the last back to the first
	Ring Kind = "ring"
	// AllToAll connects every ordered pair of distinct nodes
	AllToAll Kind = "all-to-all"
)

// ErrUnknownPattern is returned for pattern names that have no generator
var ErrUnknownPattern = errors.New("unknown pattern")

// Edge is one directed source -> target test relationship
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// String returns the edge as "source->target"
func (e Edge) String() string {
	return e.Source + "->" + e.Target
}

var generators = map[Kind]func([]string) []Edge{
	Ring:     GenerateRing,
	AllToAll: GenerateAllToAll,
}

// Kinds returns the recognised pattern names in sorted order
func Kinds() []string {
	names := make([]string, 0, len(generators))
	for k := range generators {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// Generate builds the edge sequence for the named pattern
func Generate(kind string, nodes []string) ([]Edge, error) {
	gen, ok := generators[Kind(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %v)", ErrUnknownPattern, kind, Kinds())
	}
	return gen(nodes), nil
}

// GenerateRing returns (n0,n1),(n1,n2),...,(nk,n0). Fewer than two nodes
// yields no edges.
func GenerateRing(nodes []string) []Edge {
	if len(nodes) < 2 {
		return []Edge{}
	}
	edges := make([]Edge, 0, len(nodes))
	for i, n := range nodes {
		edges = append(edges, Edge{Source: n, Target: nodes[(i+1)%len(nodes)]})
	}
	return edges
}

// GenerateAllToAll returns every ordered pair of distinct positions, in input order
func GenerateAllToAll(nodes []string) []Edge {
	if len(nodes) < 2 {
		return []Edge{}
	}
	edges := make([]Edge, 0, len(nodes)*(len(nodes)-1))
	for i, src := range nodes {
		for j, dst := range nodes {
			if i == j {
				continue
			}
			edges = append(edges, Edge{Source: src, Target: dst})
		}
	}
	return edges
}

// Targets returns the distinct targets of edges in first-seen order
func Targets(edges []Edge) []string {
	seen := make(map[string]bool, len(edges))
	var out []string
	for _, e := range edges {
		if !seen[e.Target] {
			seen[e.Target] = true
			out = append(out, e.Target)
		}
	}
	return out
}
