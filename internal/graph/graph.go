// Package graph holds the undirected stop network built from a feed and the
// read-only views the analysis stages compute on.
//
// Nodes are addressed by a dense index assigned in insertion order (the order
// of the stops table). Every iteration the package exposes follows that order,
// so downstream algorithms are reproducible for the same input.
package graph

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyGraph   = errors.New("graph: graph has no nodes")
	ErrNodeNotFound = errors.New("graph: node not found")
	ErrDuplicate    = errors.New("graph: duplicate stop id")
	ErrSelfLoop     = errors.New("graph: self-loop not allowed")
)

// Stop is a node of the network.
type Stop struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	Located bool    `json:"located"`
}

// Connection is an undirected edge between two stops. Trips counts how many
// sampled trips traverse the pair consecutively; TripID and RouteID name the
// trip that created it.
type Connection struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Trips     int    `json:"trips"`
	TripID    string `json:"trip_id"`
	RouteID   string `json:"route_id"`
	RouteType int    `json:"route_type"`
}

type edgeKey struct{ a, b int }

func keyOf(i, j int) edgeKey {
	if i > j {
		i, j = j, i
	}
	return edgeKey{i, j}
}

// Network is the read-only surface shared by Graph and View. Indices range
// over [0, Len()); Contains reports whether an index is part of the network.
type Network interface {
	Len() int
	Contains(i int) bool
	NodeCount() int
	EdgeCount() int
	Degree(i int) int
	Adjacent(i, j int) bool
	EachNeighbor(i int, fn func(j int))
}

// Graph is a simple undirected graph: no self-loops, at most one edge per
// unordered pair. It is not safe for concurrent mutation, but once built it
// may be read from any number of goroutines.
type Graph struct {
	stops []Stop
	index map[string]int
	adj   [][]int
	edges map[edgeKey]*Connection
	order []edgeKey
}

func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		edges: make(map[edgeKey]*Connection),
	}
}

// AddStop appends a node. Stop ids must be unique.
func (g *Graph) AddStop(s Stop) error {
	if _, ok := g.index[s.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, s.ID)
	}
	g.index[s.ID] = len(g.stops)
	g.stops = append(g.stops, s)
	g.adj = append(g.adj, nil)
	return nil
}

// Connect records one traversal of the pair (from, to). The first traversal
// creates the connection with Trips=1; later ones only increment Trips.
// It reports whether a new connection was created.
func (g *Graph) Connect(from, to, tripID, routeID string, routeType int) (bool, error) {
	i, ok := g.index[from]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNodeNotFound, from)
	}
	j, ok := g.index[to]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNodeNotFound, to)
	}
	if i == j {
		return false, fmt.Errorf("%w: %q", ErrSelfLoop, from)
	}
	k := keyOf(i, j)
	if c, ok := g.edges[k]; ok {
		c.Trips++
		return false, nil
	}
	g.edges[k] = &Connection{From: from, To: to, Trips: 1, TripID: tripID, RouteID: routeID, RouteType: routeType}
	g.order = append(g.order, k)
	g.adj[i] = append(g.adj[i], j)
	g.adj[j] = append(g.adj[j], i)
	return true, nil
}

func (g *Graph) Len() int               { return len(g.stops) }
func (g *Graph) Contains(i int) bool    { return i >= 0 && i < len(g.stops) }
func (g *Graph) NodeCount() int         { return len(g.stops) }
func (g *Graph) EdgeCount() int         { return len(g.order) }
func (g *Graph) Degree(i int) int       { return len(g.adj[i]) }
func (g *Graph) Adjacent(i, j int) bool { _, ok := g.edges[keyOf(i, j)]; return ok }

func (g *Graph) EachNeighbor(i int, fn func(j int)) {
	for _, j := range g.adj[i] {
		fn(j)
	}
}

// Trips returns the traversal count of the edge between i and j, or 0.
func (g *Graph) Trips(i, j int) int {
	if c, ok := g.edges[keyOf(i, j)]; ok {
		return c.Trips
	}
	return 0
}

// Neighbors returns the neighbour indices of i in edge insertion order.
// The slice is shared and must not be modified.
func (g *Graph) Neighbors(i int) []int { return g.adj[i] }

// Index resolves a stop id to its node index.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

func (g *Graph) Stop(i int) Stop { return g.stops[i] }

// StopByID returns the stop with the given id.
func (g *Graph) StopByID(id string) (Stop, bool) {
	i, ok := g.index[id]
	if !ok {
		return Stop{}, false
	}
	return g.stops[i], true
}

// IDs lists stop ids in insertion order.
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.stops))
	for i, s := range g.stops {
		ids[i] = s.ID
	}
	return ids
}

// Connection returns a copy of the edge between two stops.
func (g *Graph) Connection(a, b string) (Connection, bool) {
	i, ok := g.index[a]
	if !ok {
		return Connection{}, false
	}
	j, ok := g.index[b]
	if !ok {
		return Connection{}, false
	}
	c, ok := g.edges[keyOf(i, j)]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Connections returns copies of every edge in insertion order.
func (g *Graph) Connections() []Connection {
	out := make([]Connection, len(g.order))
	for n, k := range g.order {
		out[n] = *g.edges[k]
	}
	return out
}

// EachEdge calls fn with the endpoint indices of every edge in insertion order.
func (g *Graph) EachEdge(fn func(i, j int)) {
	for _, k := range g.order {
		fn(k.a, k.b)
	}
}

// pruneIsolated returns a copy of g without zero-degree stops, keeping
// relative node and edge order, and the number of stops removed.
func (g *Graph) pruneIsolated() (*Graph, int) {
	out := New()
	for i, s := range g.stops {
		if len(g.adj[i]) > 0 {
			out.index[s.ID] = len(out.stops)
			out.stops = append(out.stops, s)
			out.adj = append(out.adj, nil)
		}
	}
	for _, k := range g.order {
		c := *g.edges[k]
		i, j := out.index[g.stops[k.a].ID], out.index[g.stops[k.b].ID]
		nk := keyOf(i, j)
		out.edges[nk] = &c
		out.order = append(out.order, nk)
		out.adj[i] = append(out.adj[i], j)
		out.adj[j] = append(out.adj[j], i)
	}
	return out, len(g.stops) - len(out.stops)
}
