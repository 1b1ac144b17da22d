package graph

import "fmt"

// View is a read-only projection of a Graph with one node and its edges
// hidden. It shares the Graph's storage, so building one is O(1) and any
// number of views can be used concurrently over the same Graph.
type View struct {
	g        *Graph
	excluded int
	lost     int // edges incident to the excluded node
}

// Without returns a view of g that excludes the stop with the given id.
func (g *Graph) Without(id string) (*View, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return &View{g: g, excluded: i, lost: len(g.adj[i])}, nil
}

// Excluded returns the index of the hidden node.
func (v *View) Excluded() int { return v.excluded }

func (v *View) Len() int { return v.g.Len() }

func (v *View) Contains(i int) bool { return i != v.excluded && v.g.Contains(i) }

func (v *View) NodeCount() int { return v.g.NodeCount() - 1 }

func (v *View) EdgeCount() int { return v.g.EdgeCount() - v.lost }

func (v *View) Degree(i int) int {
	if i == v.excluded {
		return 0
	}
	d := v.g.Degree(i)
	if v.g.Adjacent(i, v.excluded) {
		d--
	}
	return d
}

func (v *View) Adjacent(i, j int) bool {
	if i == v.excluded || j == v.excluded {
		return false
	}
	return v.g.Adjacent(i, j)
}

func (v *View) EachNeighbor(i int, fn func(j int)) {
	if i == v.excluded {
		return
	}
	for _, j := range v.g.adj[i] {
		if j != v.excluded {
			fn(j)
		}
	}
}

// Subgraph is a read-only projection of a Graph restricted to a node set,
// keeping only the edges between members. Like View it shares storage.
type Subgraph struct {
	g      *Graph
	member []bool
	nodes  int
	edges  int
}

// Induced returns the subgraph of g on the given node indices. Indices out
// of range and repeats are ignored.
func (g *Graph) Induced(nodes []int) *Subgraph {
	s := &Subgraph{g: g, member: make([]bool, g.Len())}
	for _, i := range nodes {
		if g.Contains(i) && !s.member[i] {
			s.member[i] = true
			s.nodes++
		}
	}
	for _, i := range nodes {
		if !s.member[i] {
			continue
		}
		for _, j := range g.adj[i] {
			if s.member[j] && i < j {
				s.edges++
			}
		}
	}
	return s
}

func (s *Subgraph) Len() int { return s.g.Len() }

func (s *Subgraph) Contains(i int) bool { return s.g.Contains(i) && s.member[i] }

func (s *Subgraph) NodeCount() int { return s.nodes }

func (s *Subgraph) EdgeCount() int { return s.edges }

func (s *Subgraph) Degree(i int) int {
	if !s.Contains(i) {
		return 0
	}
	d := 0
	for _, j := range s.g.adj[i] {
		if s.member[j] {
			d++
		}
	}
	return d
}

func (s *Subgraph) Adjacent(i, j int) bool {
	return s.Contains(i) && s.Contains(j) && s.g.Adjacent(i, j)
}

func (s *Subgraph) EachNeighbor(i int, fn func(j int)) {
	if !s.Contains(i) {
		return
	}
	for _, j := range s.g.adj[i] {
		if s.member[j] {
			fn(j)
		}
	}
}
