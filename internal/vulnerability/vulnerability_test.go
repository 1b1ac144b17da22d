package vulnerability_test

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/critical"
	"gtfs-resilience/internal/graph"
	"gtfs-resilience/internal/graph/graphtest"
	"gtfs-resilience/internal/vulnerability"
)

func assessor() *vulnerability.Assessor {
	return vulnerability.NewAssessor(vulnerability.DefaultMetricOptions(), nil)
}

func targets(ids ...string) []critical.Scored {
	out := make([]critical.Scored, len(ids))
	for i, id := range ids {
		out[i] = critical.Scored{NodeID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func TestRecordEncodesFlat(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	p := community.NewPartition(graphtest.CliquePartition())

	res, err := assessor().Assess(context.Background(), g, p, targets("X"), false, 1)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	b, err := json.Marshal(res.Records[0])
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(b, &flat))
	for _, key := range []string{
		"node_id", "name", "centrality",
		"nodes_impact", "edges_impact", "density_impact",
		"largest_cc_size_impact", "largest_cc_ratio_impact",
		"avg_path_length_impact", "avg_clustering_impact",
		"connected_communities", "disconnected_communities", "community_impact_score",
	} {
		assert.Contains(t, flat, key)
	}
	assert.NotContains(t, flat, "impact")
	assert.Equal(t, 50.0, flat["largest_cc_ratio_impact"])
	assert.Equal(t, 1.0, flat["disconnected_communities"])

	res, err = assessor().Assess(context.Background(), g, nil, targets("X"), false, 1)
	require.NoError(t, err)
	b, err = json.Marshal(res.Records[0])
	require.NoError(t, err)
	flat = nil
	require.NoError(t, json.Unmarshal(b, &flat))
	assert.NotContains(t, flat, "connected_communities", "no partition supplied")
	assert.Contains(t, flat, "density_impact")
}

func TestBridgeRemoval(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	p := community.NewPartition(graphtest.CliquePartition())

	res, err := assessor().Assess(context.Background(), g, p, targets("X"), true, 4)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, "X", rec.NodeID)
	assert.Equal(t, "Stop X", rec.Name)
	assert.Equal(t, 9, rec.Baseline.LargestCCSize)
	assert.Equal(t, 4, rec.Modified.LargestCCSize)
	assert.Greater(t, rec.Impact.LargestCCRatio, 0.0)
	assert.InDelta(t, 50.0, rec.Impact.LargestCCRatio, 1e-9)

	require.NotNil(t, rec.CommunityImpact)
	assert.Equal(t, 0, rec.CommunityImpact.Community)
	assert.Equal(t, 1, rec.CommunityImpact.Connected)
	assert.Equal(t, 1, rec.CommunityImpact.Disconnected)
	assert.Equal(t, 1.0, rec.CommunityImpact.Score)
	assert.Equal(t, []int{1}, rec.CommunityImpact.Lost)
}

func TestLeafRemoval(t *testing.T) {
	edges := graphtest.Clique("A", "B", "C", "D")
	edges = append(edges, [2]string{"A", "L"})
	g := graphtest.FromEdges(edges)

	res, err := assessor().Assess(context.Background(), g, nil, targets("L"), false, 1)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Zero(t, rec.Impact.LargestCCRatio)
	assert.InDelta(t, 0.7, rec.Baseline.Density, 1e-12)
	assert.InDelta(t, 1.0, rec.Modified.Density, 1e-12)
	assert.InDelta(t, 100*(1-1/0.7), rec.Impact.Density, 1e-9, "density of 4 nodes and 6 edges")
	assert.InDelta(t, 20.0, rec.Impact.Nodes, 1e-12)
	assert.Nil(t, rec.CommunityImpact, "no partition supplied")
}

func TestCommunityStillConnected(t *testing.T) {
	edges := graphtest.Clique("A1", "A2", "A3")
	edges = append(edges, graphtest.Clique("B1", "B2", "B3")...)
	edges = append(edges, [2]string{"A1", "B1"}, [2]string{"A2", "B2"})
	g := graphtest.FromEdges(edges)
	p := community.NewPartition(map[string]int{"A1": 0, "A2": 0, "A3": 0, "B1": 1, "B2": 1, "B3": 1})

	res, err := assessor().Assess(context.Background(), g, p, targets("A1", "A3"), false, 1)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	a1 := res.Records[0].CommunityImpact
	assert.Equal(t, 1, a1.Connected)
	assert.Zero(t, a1.Disconnected, "A2-B2 still links the communities")
	assert.Zero(t, a1.Score)

	a3 := res.Records[1].CommunityImpact
	assert.Zero(t, a3.Connected)
	assert.Zero(t, a3.Score)
}

func TestFailuresAreIsolated(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	partial := graphtest.CliquePartition()
	delete(partial, "B2")
	p := community.NewPartition(partial)

	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			res, err := assessor().Assess(context.Background(), g, p, targets("X", "ghost", "A2", "B1"), parallel, 2)
			require.NoError(t, err)

			ids := make([]string, len(res.Records))
			for i, r := range res.Records {
				ids[i] = r.NodeID
			}
			assert.Equal(t, []string{"X", "A2"}, ids)

			require.Len(t, res.Failures, 2)
			assert.Equal(t, 1, res.Failures[0].Index)
			assert.Equal(t, "ghost", res.Failures[0].NodeID)
			assert.ErrorIs(t, res.Failures[0].Err, vulnerability.ErrNodeNotFound)
			assert.Equal(t, 3, res.Failures[1].Index)
			assert.ErrorIs(t, res.Failures[1].Err, vulnerability.ErrNotInPartition, "B1 neighbours the unassigned B2")
			assert.NotEmpty(t, res.Failures[1].Reason)
		})
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	edges := graphtest.Ring("R", 30)
	edges = append(edges, graphtest.Clique("R0", "R10", "R20")...)
	edges = append(edges, graphtest.Path("R5", "S1", "S2", "R25")...)
	g := graphtest.FromEdges(edges)
	p, err := community.NewDetector(community.DefaultOptions(), nil).Detect(g)
	require.NoError(t, err)
	r, err := critical.NewAnalyzer(critical.DefaultOptions(), nil).Identify(g, critical.Betweenness, 12, 0)
	require.NoError(t, err)

	a := assessor()
	seq, err := a.Assess(context.Background(), g, p, r.Nodes, false, 1)
	require.NoError(t, err)
	par, err := a.Assess(context.Background(), g, p, r.Nodes, true, 4)
	require.NoError(t, err)

	assert.Equal(t, seq, par)
	assert.Len(t, par.Records, 12)
	for i, rec := range par.Records {
		assert.Equal(t, r.Nodes[i].NodeID, rec.NodeID)
	}
}

func TestAssessHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := graphtest.TwoCliquesBridge()

	_, err := assessor().Assess(ctx, g, nil, targets("X", "A1"), false, 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = assessor().Assess(ctx, g, nil, targets("X", "A1"), true, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

type countingObserver struct {
	mu       sync.Mutex
	ok, fail int
}

func (o *countingObserver) ObserveTask(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.fail++
		return
	}
	o.ok++
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	a := assessor().WithObserver(obs)
	_, err := a.Assess(context.Background(), graphtest.TwoCliquesBridge(), nil, targets("X", "A1", "nope"), true, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, obs.ok)
	assert.Equal(t, 1, obs.fail)
}

func TestComputeMetrics(t *testing.T) {
	exact := vulnerability.DefaultMetricOptions()
	exact.ClusteringTrials = 0

	m := vulnerability.ComputeMetrics(graphtest.FromEdges(graphtest.Path("P0", "P1", "P2", "P3")), exact)
	assert.Equal(t, 4, m.Nodes)
	assert.Equal(t, 3, m.Edges)
	assert.InDelta(t, 20.0/12, m.AvgPathLength, 1e-12)
	assert.Zero(t, m.AvgClustering)

	m = vulnerability.ComputeMetrics(graphtest.TwoCliquesBridge(), exact)
	assert.InDelta(t, 7.0/9, m.AvgClustering, 1e-12)
	assert.Equal(t, 1.0, m.LargestCCRatio)

	empty := vulnerability.ComputeMetrics(graph.New(), exact)
	assert.Equal(t, vulnerability.Metrics{}, empty)
}

func TestComputeMetricsSampled(t *testing.T) {
	opts := vulnerability.DefaultMetricOptions()
	opts.PathSampleThreshold = 2
	opts.PathSamples = 3

	clique := graphtest.FromEdges(graphtest.Clique("A", "B", "C", "D", "E", "F"))
	m := vulnerability.ComputeMetrics(clique, opts)
	assert.Equal(t, 1.0, m.AvgPathLength)
	assert.Equal(t, 1.0, m.AvgClustering, "every sampled wedge is closed")

	star := graphtest.FromEdges(graphtest.Star("H", 6))
	m = vulnerability.ComputeMetrics(star, opts)
	assert.Zero(t, m.AvgClustering)
	assert.GreaterOrEqual(t, m.AvgPathLength, 1.0)
	assert.LessOrEqual(t, m.AvgPathLength, 2.0)
}

func TestCompareMetricsZeroBaseline(t *testing.T) {
	imp := vulnerability.CompareMetrics(vulnerability.Metrics{Nodes: 10}, vulnerability.Metrics{Nodes: 9, Edges: 3})
	assert.InDelta(t, 10.0, imp.Nodes, 1e-12)
	assert.Zero(t, imp.Edges, "zero baseline reports no impact")
}

// Computing the metric set twice on the same graph gives identical results,
// and so do sequential and parallel assessment.
func TestMetricsArePure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	const nodes = 10
	build := func(codes []int) *graph.Graph {
		var edges [][2]string
		for _, c := range codes {
			if a, b := c/nodes, c%nodes; a != b {
				edges = append(edges, [2]string{fmt.Sprintf("N%d", a), fmt.Sprintf("N%d", b)})
			}
		}
		if len(edges) == 0 {
			return nil
		}
		return graphtest.FromEdges(edges)
	}

	properties.Property("baseline round trip", prop.ForAll(
		func(codes []int) bool {
			g := build(codes)
			if g == nil {
				return true
			}
			opts := vulnerability.DefaultMetricOptions()
			opts.PathSampleThreshold = 4
			return vulnerability.ComputeMetrics(g, opts) == vulnerability.ComputeMetrics(g, opts)
		},
		gen.SliceOf(gen.IntRange(0, nodes*nodes-1)),
	))

	properties.Property("parallel equals sequential", prop.ForAll(
		func(codes []int) bool {
			g := build(codes)
			if g == nil {
				return true
			}
			var nodes []critical.Scored
			for _, id := range g.IDs() {
				nodes = append(nodes, critical.Scored{NodeID: id})
			}
			p, err := community.NewDetector(community.DefaultOptions(), nil).Detect(g)
			if err != nil {
				return false
			}
			a := assessor()
			seq, err1 := a.Assess(context.Background(), g, p, nodes, false, 1)
			par, err2 := a.Assess(context.Background(), g, p, nodes, true, 3)
			if err1 != nil || err2 != nil {
				return false
			}
			return reflect.DeepEqual(seq, par)
		},
		gen.SliceOf(gen.IntRange(0, nodes*nodes-1)),
	))

	properties.TestingRun(t)
}
