package equity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/equity"
	"gtfs-resilience/internal/graph"
	"gtfs-resilience/internal/graph/graphtest"
)

func TestGini(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{5}, 0},
		{"even", []float64{2, 2, 2}, 0},
		{"all zero", []float64{0, 0}, 0},
		{"one holds all", []float64{1, 0, 0, 0}, 0.75},
		{"star degrees", []float64{4, 1, 1, 1, 1}, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, equity.Gini(tt.values), 1e-12)
		})
	}
}

func TestServiceDistributionStar(t *testing.T) {
	g := graphtest.FromEdges(graphtest.Star("H", 4))
	svc, err := equity.ServiceDistribution(g, nil)
	require.NoError(t, err)

	d := svc.Degree
	assert.InDelta(t, 1.6, d.Mean, 1e-12)
	assert.Equal(t, 1.0, d.Median)
	assert.InDelta(t, 1.2, d.Std, 1e-12)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 4.0, d.Max)
	assert.InDelta(t, 0.3, d.Gini, 1e-12)
	assert.InDelta(t, 0.75, d.CV, 1e-12)
	assert.Equal(t, 0, svc.Underserved)
	assert.Nil(t, svc.Communities)
	assert.Nil(t, svc.BetweenCommunityGini)
	assert.Nil(t, svc.ServiceBalanceRatio)
}

func TestServiceDistributionByCommunity(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	p := community.NewPartition(graphtest.CliquePartition())

	svc, err := equity.ServiceDistribution(g, p)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.Underserved, "X has degree 2")
	assert.InDelta(t, 1.0/9, svc.UnderservedRatio, 1e-12)

	require.Len(t, svc.Communities, 2)
	assert.Equal(t, 5, svc.Communities[0].Size)
	assert.InDelta(t, 3.0, svc.Communities[0].Degree.Mean, 1e-12)
	assert.Equal(t, 4, svc.Communities[1].Size)
	assert.InDelta(t, 3.25, svc.Communities[1].Degree.Mean, 1e-12)

	require.NotNil(t, svc.BetweenCommunityGini)
	assert.InDelta(t, (3-2*9.25/6.25)/2, *svc.BetweenCommunityGini, 1e-12)
	require.NotNil(t, svc.ServiceBalanceRatio)
	assert.InDelta(t, 3/3.25, *svc.ServiceBalanceRatio, 1e-12)
}

func TestAccessibilityEquity(t *testing.T) {
	g := graphtest.TwoCliquesBridge()
	p := community.NewPartition(graphtest.CliquePartition())

	acc, err := equity.AccessibilityEquity(g, p)
	require.NoError(t, err)

	assert.InDelta(t, 8.0/14, acc.Closeness.Max, 1e-12, "X")
	assert.InDelta(t, 0.4, acc.Closeness.Min, 1e-12)
	assert.InDelta(t, 0.4, acc.Closeness.Median, 1e-12)
	assert.Equal(t, 0, acc.PoorAccess)

	require.Len(t, acc.Communities, 2)
	assert.InDelta(t, (8.0/15+8.0/14+1.2)/5, acc.Communities[0].Mean, 1e-12)
	assert.InDelta(t, (8.0/15+1.2)/4, acc.Communities[1].Mean, 1e-12)
	require.NotNil(t, acc.BetweenCommunityGini)
	assert.Greater(t, *acc.BetweenCommunityGini, 0.0)
}

func TestGapsOnStar(t *testing.T) {
	g := graphtest.FromEdges(graphtest.Star("H", 10))
	rep, err := equity.NewAnalyzer(nil).Analyze(g, nil)
	require.NoError(t, err)

	require.Len(t, rep.Gaps, 1)
	gap := rep.Gaps[0]
	assert.Equal(t, "service_inequality", gap.Type)
	assert.Equal(t, "gini_coefficient", gap.Metric)
	assert.InDelta(t, 4.5/11, gap.Value, 1e-12)
	assert.Equal(t, equity.SeverityMedium, gap.Severity)
	assert.Equal(t, "High inequality in service distribution (Gini = 0.41)", gap.Description)
}

func TestGapsThresholds(t *testing.T) {
	balance := 0.25
	between := 0.1
	svc := equity.Service{
		Degree:               equity.Distribution{Gini: 0.6},
		UnderservedRatio:     0.25,
		BetweenCommunityGini: &between,
		ServiceBalanceRatio:  &balance,
	}
	acc := equity.Accessibility{PoorAccessRatio: 0.35}

	gaps := equity.Gaps(svc, acc)
	got := map[string]string{}
	for _, g := range gaps {
		got[g.Type] = g.Severity
	}
	assert.Equal(t, map[string]string{
		"service_inequality": equity.SeverityHigh,
		"underserved":        equity.SeverityMedium,
		"service_imbalance":  equity.SeverityHigh,
		"poor_accessibility": equity.SeverityHigh,
	}, got)
	assert.Empty(t, equity.Gaps(equity.Service{}, equity.Accessibility{}))
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := equity.NewAnalyzer(nil).Analyze(graph.New(), nil)
	require.ErrorIs(t, err, graph.ErrEmptyGraph)

	g := graphtest.TwoCliquesBridge()
	partial := community.NewPartition(map[string]int{"A1": 0})
	_, err = equity.NewAnalyzer(nil).Analyze(g, partial)
	require.ErrorIs(t, err, community.ErrIncompletePartition)
}
