// Package community partitions a stop network into modularity-optimal
// communities and summarises them.
package community

import (
	"errors"
	"fmt"
	"sort"

	"gtfs-resilience/internal/graph"
)

var (
	ErrEmptyGraph          = errors.New("community: graph has no nodes")
	ErrIncompletePartition = errors.New("community: partition does not cover every node")
)

// Partition maps every node of a graph to a community id. It is immutable
// once constructed and safe to share between goroutines.
type Partition struct {
	assign     map[string]int
	count      int
	modularity float64
}

// NewPartition wraps an externally computed assignment. The map is copied.
// Modularity is left at zero; use Modularity to score it against a graph.
func NewPartition(assign map[string]int) *Partition {
	cp := make(map[string]int, len(assign))
	seen := make(map[int]struct{})
	for id, c := range assign {
		cp[id] = c
		seen[c] = struct{}{}
	}
	return &Partition{assign: cp, count: len(seen)}
}

// Of returns the community of a node.
func (p *Partition) Of(id string) (int, bool) {
	c, ok := p.assign[id]
	return c, ok
}

// Len is the number of assigned nodes.
func (p *Partition) Len() int { return len(p.assign) }

// Count is the number of distinct communities.
func (p *Partition) Count() int { return p.count }

// Modularity is the score achieved by Detect.
func (p *Partition) Modularity() float64 { return p.modularity }

// Map returns a copy of the assignment.
func (p *Partition) Map() map[string]int {
	cp := make(map[string]int, len(p.assign))
	for id, c := range p.assign {
		cp[id] = c
	}
	return cp
}

// IDs lists the community ids in ascending order.
func (p *Partition) IDs() []int {
	seen := make(map[int]struct{}, p.count)
	for _, c := range p.assign {
		seen[c] = struct{}{}
	}
	ids := make([]int, 0, len(seen))
	for c := range seen {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	return ids
}

// Membership resolves the partition against g, returning the community of
// each node index. Every node of g must be assigned.
func (p *Partition) Membership(g *graph.Graph) ([]int, error) {
	out := make([]int, g.Len())
	for i := 0; i < g.Len(); i++ {
		id := g.Stop(i).ID
		c, ok := p.assign[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrIncompletePartition, id)
		}
		out[i] = c
	}
	return out, nil
}

// Modularity scores a partition of g. Edge weights are trip counts when
// weighted is set, otherwise every edge counts once. A graph without edges
// scores zero.
func Modularity(g *graph.Graph, p *Partition, resolution float64, weighted bool) (float64, error) {
	member, err := p.Membership(g)
	if err != nil {
		return 0, err
	}
	inner := make(map[int]float64)
	tot := make(map[int]float64)
	m2 := 0.0
	g.EachEdge(func(i, j int) {
		w := 1.0
		if weighted {
			w = float64(g.Trips(i, j))
		}
		m2 += 2 * w
		tot[member[i]] += w
		tot[member[j]] += w
		if member[i] == member[j] {
			inner[member[i]] += 2 * w
		}
	})
	if m2 == 0 {
		return 0, nil
	}
	q := 0.0
	for c, t := range tot {
		q += inner[c]/m2 - resolution*(t/m2)*(t/m2)
	}
	return q, nil
}
