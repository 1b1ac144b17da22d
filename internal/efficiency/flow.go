package efficiency

import "gtfs-resilience/internal/graph"

// flow is a unit-capacity residual network over an undirected graph. Edge e
// becomes arcs 2e and 2e+1, each the reverse of the other.
type flow struct {
	arcs   [][]int
	to     []int
	cap    []int
	parent []int
	queue  []int
}

func newFlow(g *graph.Graph) *flow {
	f := &flow{
		arcs:   make([][]int, g.Len()),
		to:     make([]int, 0, 2*g.EdgeCount()),
		parent: make([]int, g.Len()),
	}
	g.EachEdge(func(i, j int) {
		a := len(f.to)
		f.to = append(f.to, j, i)
		f.arcs[i] = append(f.arcs[i], a)
		f.arcs[j] = append(f.arcs[j], a+1)
	})
	f.cap = make([]int, len(f.to))
	return f
}

// edgeConnectivity returns the number of edge-disjoint paths between s and
// t, found by repeated shortest augmenting paths.
func (f *flow) edgeConnectivity(s, t int) int {
	if s == t {
		return 0
	}
	for a := range f.cap {
		f.cap[a] = 1
	}
	total := 0
	for f.augment(s, t) {
		total++
	}
	return total
}

func (f *flow) augment(s, t int) bool {
	for i := range f.parent {
		f.parent[i] = -1
	}
	f.parent[s] = -2
	f.queue = append(f.queue[:0], s)
	for k := 0; k < len(f.queue) && f.parent[t] == -1; k++ {
		v := f.queue[k]
		for _, a := range f.arcs[v] {
			w := f.to[a]
			if f.cap[a] > 0 && f.parent[w] == -1 {
				f.parent[w] = a
				f.queue = append(f.queue, w)
			}
		}
	}
	if f.parent[t] == -1 {
		return false
	}
	for v := t; v != s; {
		a := f.parent[v]
		f.cap[a]--
		f.cap[a^1]++
		v = f.to[a^1]
	}
	return true
}
