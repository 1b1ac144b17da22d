package graph

import "sort"

// Stats is the summary reported after a build.
type Stats struct {
	Nodes                 int     `json:"num_nodes"`
	Edges                 int     `json:"num_edges"`
	Density               float64 `json:"density"`
	Components            int     `json:"connected_components"`
	AvgDegree             float64 `json:"avg_degree"`
	LargestComponentSize  int     `json:"largest_component_size"`
	LargestComponentRatio float64 `json:"largest_component_ratio"`
}

// Summarize computes Stats for a network. It fails on an empty network.
func Summarize(n Network) (Stats, error) {
	nodes := n.NodeCount()
	if nodes == 0 {
		return Stats{}, ErrEmptyGraph
	}
	comps := Components(n)
	largest := Largest(comps)
	return Stats{
		Nodes:                 nodes,
		Edges:                 n.EdgeCount(),
		Density:               Density(n),
		Components:            len(comps),
		AvgDegree:             2 * float64(n.EdgeCount()) / float64(nodes),
		LargestComponentSize:  len(largest),
		LargestComponentRatio: float64(len(largest)) / float64(nodes),
	}, nil
}

// Density is 2m / (n(n-1)); zero for fewer than two nodes.
func Density(n Network) float64 {
	nodes := n.NodeCount()
	if nodes < 2 {
		return 0
	}
	return 2 * float64(n.EdgeCount()) / (float64(nodes) * float64(nodes-1))
}

// Components returns the connected components of n. Each component is sorted
// by index and components are ordered by their smallest index.
func Components(n Network) [][]int {
	seen := make([]bool, n.Len())
	var comps [][]int
	for s := 0; s < n.Len(); s++ {
		if seen[s] || !n.Contains(s) {
			continue
		}
		seen[s] = true
		comp := []int{s}
		for k := 0; k < len(comp); k++ {
			n.EachNeighbor(comp[k], func(j int) {
				if !seen[j] {
					seen[j] = true
					comp = append(comp, j)
				}
			})
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// Largest returns the first component of maximal size, or nil.
func Largest(comps [][]int) []int {
	var best []int
	for _, c := range comps {
		if len(c) > len(best) {
			best = c
		}
	}
	return best
}

// LocalClustering is the fraction of neighbour pairs of i that are adjacent.
func LocalClustering(n Network, i int) float64 {
	var nbrs []int
	n.EachNeighbor(i, func(j int) { nbrs = append(nbrs, j) })
	k := len(nbrs)
	if k < 2 {
		return 0
	}
	links := 0
	for a := 0; a < k; a++ {
		for b := a + 1; b < k; b++ {
			if n.Adjacent(nbrs[a], nbrs[b]) {
				links++
			}
		}
	}
	return 2 * float64(links) / float64(k*(k-1))
}

// BFS runs unweighted single-source searches with buffers reused across
// calls. A BFS must not be shared between goroutines.
type BFS struct {
	dist  []int
	queue []int
}

func NewBFS(n Network) *BFS {
	dist := make([]int, n.Len())
	for i := range dist {
		dist[i] = -1
	}
	return &BFS{dist: dist, queue: make([]int, 0, n.Len())}
}

// From searches from src and returns the reached nodes in visit order,
// src first. The slice is valid until the next call.
func (b *BFS) From(n Network, src int) []int {
	for _, v := range b.queue {
		b.dist[v] = -1
	}
	b.queue = append(b.queue[:0], src)
	b.dist[src] = 0
	for k := 0; k < len(b.queue); k++ {
		v := b.queue[k]
		n.EachNeighbor(v, func(w int) {
			if b.dist[w] < 0 {
				b.dist[w] = b.dist[v] + 1
				b.queue = append(b.queue, w)
			}
		})
	}
	return b.queue
}

// Dist is the hop distance of v from the last source, or -1 if unreached.
func (b *BFS) Dist(v int) int { return b.dist[v] }

// DistanceSum returns the total hop distance from src to every node it
// reaches, and how many nodes (other than src) that is.
func (b *BFS) DistanceSum(n Network, src int) (sum, reached int) {
	for _, v := range b.From(n, src) {
		sum += b.dist[v]
	}
	return sum, len(b.queue) - 1
}
