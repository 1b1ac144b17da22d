package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-resilience/internal/graph"
	"gtfs-resilience/internal/graph/graphtest"
)

func TestConnectRejectsBadInput(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddStop(graph.Stop{ID: "A"}))
	require.ErrorIs(t, g.AddStop(graph.Stop{ID: "A"}), graph.ErrDuplicate)

	_, err := g.Connect("A", "A", "T", "R", 3)
	require.ErrorIs(t, err, graph.ErrSelfLoop)

	_, err = g.Connect("A", "Q", "T", "R", 3)
	require.ErrorIs(t, err, graph.ErrNodeNotFound)
	assert.Equal(t, 0, g.EdgeCount())
}

func TestViewHidesNodeWithoutTouchingGraph(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	nodes, edges := g.NodeCount(), g.EdgeCount()

	v, err := g.Without("X")
	require.NoError(t, err)
	x, _ := g.Index("X")
	a1, _ := g.Index("A1")
	b1, _ := g.Index("B1")

	assert.Equal(t, nodes-1, v.NodeCount())
	assert.Equal(t, edges-2, v.EdgeCount())
	assert.False(t, v.Contains(x))
	assert.Equal(t, 0, v.Degree(x))
	assert.Equal(t, g.Degree(a1)-1, v.Degree(a1))
	assert.False(t, v.Adjacent(a1, x))

	v.EachNeighbor(b1, func(j int) { assert.NotEqual(t, x, j) })

	assert.Equal(t, nodes, g.NodeCount())
	assert.Equal(t, edges, g.EdgeCount())
	assert.True(t, g.Adjacent(a1, x))

	_, err = g.Without("nope")
	require.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestComponentsOnView(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	require.Len(t, graph.Components(g), 1)

	v, err := g.Without("X")
	require.NoError(t, err)
	comps := graph.Components(v)
	require.Len(t, comps, 2)
	assert.Len(t, comps[0], 4)
	assert.Len(t, comps[1], 4)
	assert.Equal(t, comps[0], graph.Largest(comps), "ties keep the first component")

	stats, err := graph.Summarize(v)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Components)
	assert.Equal(t, 0.5, stats.LargestComponentRatio)
}

func TestInducedSubgraph(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	idx := func(id string) int { i, _ := g.Index(id); return i }

	s := g.Induced([]int{idx("A1"), idx("A2"), idx("X"), idx("B1"), idx("A1"), -1, 99})
	assert.Equal(t, 4, s.NodeCount())
	assert.Equal(t, 3, s.EdgeCount(), "A1-A2, A1-X, X-B1")
	assert.Equal(t, 2, s.Degree(idx("A1")))
	assert.Equal(t, 0, s.Degree(idx("A3")))
	assert.False(t, s.Contains(idx("B2")))
	assert.False(t, s.Adjacent(idx("B1"), idx("B2")))
	assert.True(t, s.Adjacent(idx("X"), idx("B1")))

	var nbrs []int
	s.EachNeighbor(idx("B1"), func(j int) { nbrs = append(nbrs, j) })
	assert.Equal(t, []int{idx("X")}, nbrs)

	comps := graph.Components(g.Induced([]int{idx("A1"), idx("A2"), idx("B3"), idx("B4")}))
	assert.Len(t, comps, 2)
	assert.Equal(t, 14, g.EdgeCount(), "graph untouched")
}

func TestSummarizeEmpty(t *testing.T) {
	_, err := graph.Summarize(graph.New())
	require.ErrorIs(t, err, graph.ErrEmptyGraph)
}

func TestLocalClustering(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	a2, _ := g.Index("A2")
	a1, _ := g.Index("A1")
	x, _ := g.Index("X")

	assert.Equal(t, 1.0, graph.LocalClustering(g, a2))
	// A1 has neighbours A2, A3, A4, X: 3 of 6 pairs are linked.
	assert.Equal(t, 0.5, graph.LocalClustering(g, a1))
	assert.Equal(t, 0.0, graph.LocalClustering(g, x))
}

func TestBFSDistanceSum(t *testing.T) {
	g := graphtest.FromEdges(graphtest.Path("P0", "P1", "P2", "P3"))
	bfs := graph.NewBFS(g)

	sum, reached := bfs.DistanceSum(g, 0)
	assert.Equal(t, 6, sum)
	assert.Equal(t, 3, reached)

	sum, reached = bfs.DistanceSum(g, 1)
	assert.Equal(t, 4, sum)
	assert.Equal(t, 3, reached)
	assert.Equal(t, 2, bfs.Dist(3))

	v, err := g.Without("P1")
	require.NoError(t, err)
	vb := graph.NewBFS(v)
	sum, reached = vb.DistanceSum(v, 0)
	assert.Equal(t, 0, sum)
	assert.Equal(t, 0, reached)
	assert.Equal(t, -1, vb.Dist(3))
}

func TestDensity(t *testing.T) {
	g := graphtest.FromEdges(graphtest.Clique("A", "B", "C"))
	assert.Equal(t, 1.0, graph.Density(g))

	single := graph.New()
	require.NoError(t, single.AddStop(graph.Stop{ID: "A"}))
	assert.Equal(t, 0.0, graph.Density(single))
}
