package community_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/graph"
	"gtfs-resilience/internal/graph/graphtest"
)

func detect(t *testing.T, g *graph.Graph) *community.Partition {
	t.Helper()
	p, err := community.NewDetector(community.DefaultOptions(), nil).Detect(g)
	require.NoError(t, err)
	return p
}

func TestDetectSingleClique(t *testing.T) {
	g := graphtest.FromEdges(graphtest.Clique("A", "B", "C", "D"))
	p := detect(t, g)

	assert.Equal(t, 1, p.Count())
	for _, id := range g.IDs() {
		c, ok := p.Of(id)
		require.True(t, ok)
		assert.Equal(t, 0, c)
	}
	assert.InDelta(t, 0.0, p.Modularity(), 1e-12)
}

func TestDetectTwoCliques(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	p := detect(t, g)

	assert.Equal(t, 2, p.Count())
	assert.Equal(t, graphtest.CliquePartition(), p.Map())
	// 26/28 - (15/28)^2 - (13/28)^2
	assert.InDelta(t, 26.0/28-225.0/784-169.0/784, p.Modularity(), 1e-9)

	q, err := community.Modularity(g, p, 1.0, false)
	require.NoError(t, err)
	assert.InDelta(t, p.Modularity(), q, 1e-12)
}

func TestDetectIsDeterministic(t *testing.T) {
	edges := graphtest.Ring("R", 12)
	edges = append(edges, graphtest.Clique("R0", "R3", "R6")...)
	first := detect(t, graphtest.FromEdges(edges)).Map()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, detect(t, graphtest.FromEdges(edges)).Map())
	}
}

func TestDetectWithoutEdges(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, g.AddStop(graph.Stop{ID: id}))
	}
	p := detect(t, g)
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 2}, p.Map())
	assert.Zero(t, p.Modularity())
}

func TestDetectEmptyGraph(t *testing.T) {
	_, err := community.NewDetector(community.DefaultOptions(), nil).Detect(graph.New())
	assert.ErrorIs(t, err, community.ErrEmptyGraph)
}

func TestDetectWeighted(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	opts := community.DefaultOptions()
	opts.Weighted = true
	p, err := community.NewDetector(opts, nil).Detect(g)
	require.NoError(t, err)
	assert.Equal(t, graphtest.CliquePartition(), p.Map(), "unit trip counts match the unweighted result")
}

func TestAnalyzeCliques(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	s, err := community.Analyze(g, community.NewPartition(graphtest.CliquePartition()))
	require.NoError(t, err)

	assert.Equal(t, 2, s.NumCommunities)
	a := s.Communities[0]
	assert.Equal(t, 5, a.Size)
	assert.InDelta(t, 0.7, a.Density, 1e-12)
	assert.InDelta(t, 2.8, a.AvgDegree, 1e-12)
	assert.Nil(t, a.CenterLat, "no located stops")
	assert.Nil(t, a.Radius)

	b := s.Communities[1]
	assert.Equal(t, 4, b.Size)
	assert.InDelta(t, 1.0, b.Density, 1e-12)
	assert.InDelta(t, 3.0, b.AvgDegree, 1e-12)
}

func TestAnalyzeGeography(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddStop(graph.Stop{ID: "A", Lat: 0, Lon: 0, Located: true}))
	require.NoError(t, g.AddStop(graph.Stop{ID: "B", Lat: 2, Lon: 4, Located: true}))
	require.NoError(t, g.AddStop(graph.Stop{ID: "C"}))
	_, err := g.Connect("A", "B", "T", "R", 3)
	require.NoError(t, err)
	_, err = g.Connect("B", "C", "T", "R", 3)
	require.NoError(t, err)

	s, err := community.Analyze(g, community.NewPartition(map[string]int{"A": 7, "B": 7, "C": 7}))
	require.NoError(t, err)
	rec := s.Communities[7]
	require.NotNil(t, rec.CenterLat)
	assert.InDelta(t, 1.0, *rec.CenterLat, 1e-12)
	assert.InDelta(t, 2.0, *rec.CenterLon, 1e-12)
	assert.InDelta(t, 3.0, *rec.Radius, 1e-12)
}

func TestAnalyzeIncompletePartition(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	partial := graphtest.CliquePartition()
	delete(partial, "X")
	_, err := community.Analyze(g, community.NewPartition(partial))
	assert.ErrorIs(t, err, community.ErrIncompletePartition)
}

func TestMembers(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	m, err := community.Members(g, community.NewPartition(graphtest.CliquePartition()))
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "X"}, m[0])
	assert.Equal(t, []string{"B1", "B2", "B3", "B4"}, m[1])
}

// Every node receives exactly one community, sizes add up to the node count
// and modularity stays within its theoretical range.
func TestPartitionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	const nodes = 12
	properties.Property("partition is total and size preserving", prop.ForAll(
		func(codes []int) bool {
			var edges [][2]string
			for _, c := range codes {
				a, b := c/nodes, c%nodes
				if a == b {
					continue
				}
				edges = append(edges, [2]string{fmt.Sprintf("N%d", a), fmt.Sprintf("N%d", b)})
			}
			if len(edges) == 0 {
				return true
			}
			g := graphtest.FromEdges(edges)
			p, err := community.NewDetector(community.DefaultOptions(), nil).Detect(g)
			if err != nil || p.Len() != g.NodeCount() {
				return false
			}
			s, err := community.Analyze(g, p)
			if err != nil || s.NumCommunities != p.Count() {
				return false
			}
			total := 0
			for _, rec := range s.Communities {
				total += rec.Size
			}
			q := p.Modularity()
			return total == g.NodeCount() && q >= -0.5 && q <= 1
		},
		gen.SliceOf(gen.IntRange(0, nodes*nodes-1)),
	))

	properties.TestingRun(t)
}
