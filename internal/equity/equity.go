// Package equity measures how evenly service (stop degree) and
// accessibility (closeness) are spread over the stop network and, when a
// partition is given, between its communities.
package equity

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/critical"
	"gtfs-resilience/internal/graph"
)

const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Distribution summarises a set of per-stop values.
type Distribution struct {
	Mean   float64 `json:"avg"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Gini   float64 `json:"gini_coefficient"`
	CV     float64 `json:"coefficient_of_variation"`
}

type CommunityService struct {
	Size   int          `json:"size"`
	Degree Distribution `json:"degree"`
}

// Service describes how connections are distributed over stops. A stop is
// underserved when its degree is below mean minus one standard deviation.
type Service struct {
	Degree           Distribution `json:"degree"`
	Underserved      int          `json:"underserved_nodes"`
	UnderservedRatio float64      `json:"underserved_ratio"`

	Communities          map[int]CommunityService `json:"community_distribution,omitempty"`
	BetweenCommunityGini *float64                 `json:"between_community_gini,omitempty"`
	// ServiceBalanceRatio is the lowest community mean degree over the
	// highest.
	ServiceBalanceRatio *float64 `json:"service_balance_ratio,omitempty"`
}

// Accessibility describes how closeness is distributed over stops. A stop
// has poor access when its closeness is below mean minus one standard
// deviation.
type Accessibility struct {
	Closeness       Distribution `json:"accessibility"`
	PoorAccess      int          `json:"poor_access_nodes"`
	PoorAccessRatio float64      `json:"poor_access_ratio"`

	Communities          map[int]Distribution `json:"community_accessibility,omitempty"`
	BetweenCommunityGini *float64             `json:"between_community_access_gini,omitempty"`
}

// Gap is one inequality finding.
type Gap struct {
	Type        string  `json:"type"`
	Metric      string  `json:"metric"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
}

type Report struct {
	Service       Service       `json:"service_distribution"`
	Accessibility Accessibility `json:"accessibility_equity"`
	Gaps          []Gap         `json:"equity_gaps"`
}

type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger}
}

// Analyze computes the service and accessibility distributions and the gaps
// they reveal. p may be nil; the community breakdowns are then omitted.
func (a *Analyzer) Analyze(g *graph.Graph, p *community.Partition) (Report, error) {
	a.logger.Info("analyzing service distribution")
	svc, err := ServiceDistribution(g, p)
	if err != nil {
		return Report{}, err
	}
	a.logger.Info("analyzing accessibility equity")
	acc, err := AccessibilityEquity(g, p)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Service: svc, Accessibility: acc, Gaps: Gaps(svc, acc)}
	a.logger.Info("equity analysis complete",
		zap.Float64("degree_gini", svc.Degree.Gini),
		zap.Float64("accessibility_gini", acc.Closeness.Gini),
		zap.Int("gaps", len(rep.Gaps)))
	return rep, nil
}

func ServiceDistribution(g *graph.Graph, p *community.Partition) (Service, error) {
	if g.NodeCount() == 0 {
		return Service{}, graph.ErrEmptyGraph
	}
	degrees := make([]float64, g.Len())
	for i := range degrees {
		degrees[i] = float64(g.Degree(i))
	}
	svc := Service{Degree: describe(degrees)}
	svc.Underserved = below(degrees, svc.Degree.Mean-svc.Degree.Std)
	svc.UnderservedRatio = float64(svc.Underserved) / float64(len(degrees))

	if p == nil {
		return svc, nil
	}
	groups, err := groupBy(g, p, degrees)
	if err != nil {
		return Service{}, err
	}
	svc.Communities = make(map[int]CommunityService, len(groups))
	means := make([]float64, 0, len(groups))
	for _, c := range sortedKeys(groups) {
		d := describe(groups[c])
		svc.Communities[c] = CommunityService{Size: len(groups[c]), Degree: d}
		means = append(means, d.Mean)
	}
	gini := Gini(means)
	svc.BetweenCommunityGini = &gini
	lo, hi := minMax(means)
	balance := 0.0
	if hi > 0 {
		balance = lo / hi
	}
	svc.ServiceBalanceRatio = &balance
	return svc, nil
}

func AccessibilityEquity(g *graph.Graph, p *community.Partition) (Accessibility, error) {
	if g.NodeCount() == 0 {
		return Accessibility{}, graph.ErrEmptyGraph
	}
	closeness := critical.ClosenessScores(g)
	acc := Accessibility{Closeness: describe(closeness)}
	acc.PoorAccess = below(closeness, acc.Closeness.Mean-acc.Closeness.Std)
	acc.PoorAccessRatio = float64(acc.PoorAccess) / float64(len(closeness))

	if p == nil {
		return acc, nil
	}
	groups, err := groupBy(g, p, closeness)
	if err != nil {
		return Accessibility{}, err
	}
	acc.Communities = make(map[int]Distribution, len(groups))
	means := make([]float64, 0, len(groups))
	for _, c := range sortedKeys(groups) {
		d := describe(groups[c])
		acc.Communities[c] = d
		means = append(means, d.Mean)
	}
	gini := Gini(means)
	acc.BetweenCommunityGini = &gini
	return acc, nil
}

// Gaps flags the distributions that cross the inequality thresholds.
func Gaps(svc Service, acc Accessibility) []Gap {
	var gaps []Gap
	add := func(typ, metric string, v float64, high bool, desc string) {
		sev := SeverityMedium
		if high {
			sev = SeverityHigh
		}
		gaps = append(gaps, Gap{Type: typ, Metric: metric, Value: v, Description: desc, Severity: sev})
	}

	if v := svc.Degree.Gini; v > 0.3 {
		add("service_inequality", "gini_coefficient", v, v > 0.5,
			fmt.Sprintf("High inequality in service distribution (Gini = %.2f)", v))
	}
	if v := svc.UnderservedRatio; v > 0.2 {
		add("underserved", "underserved_ratio", v, v > 0.3,
			fmt.Sprintf("%.1f%% of stops are underserved with below-average connectivity", v*100))
	}
	if svc.BetweenCommunityGini != nil {
		if v := *svc.BetweenCommunityGini; v > 0.2 {
			add("community_inequality", "between_community_gini", v, v > 0.4,
				fmt.Sprintf("Uneven service distribution between communities (Gini = %.2f)", v))
		}
	}
	if svc.ServiceBalanceRatio != nil {
		if v := *svc.ServiceBalanceRatio; v < 0.5 {
			add("service_imbalance", "service_balance_ratio", v, v < 0.3,
				fmt.Sprintf("Large disparity in service levels between communities (Ratio = %.2f)", v))
		}
	}
	if v := acc.Closeness.Gini; v > 0.3 {
		add("accessibility_inequality", "accessibility_gini", v, v > 0.5,
			fmt.Sprintf("High inequality in network accessibility (Gini = %.2f)", v))
	}
	if v := acc.PoorAccessRatio; v > 0.2 {
		add("poor_accessibility", "poor_access_ratio", v, v > 0.3,
			fmt.Sprintf("%.1f%% of stops have poor accessibility to the rest of the network", v*100))
	}
	if acc.BetweenCommunityGini != nil {
		if v := *acc.BetweenCommunityGini; v > 0.2 {
			add("community_accessibility", "between_community_access_gini", v, v > 0.4,
				fmt.Sprintf("Uneven accessibility between communities (Gini = %.2f)", v))
		}
	}
	return gaps
}

// Gini is 0 for a perfectly even set and approaches 1 as one value takes
// everything. Empty, single-valued and all-zero sets score 0.
func Gini(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	cum, cumSum := 0.0, 0.0
	for _, v := range sorted {
		cum += v
		cumSum += cum
	}
	if cum == 0 {
		return 0
	}
	return (float64(n+1) - 2*cumSum/cum) / float64(n)
}

func describe(xs []float64) Distribution {
	if len(xs) == 0 {
		return Distribution{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)

	d := Distribution{Min: sorted[0], Max: sorted[n-1], Gini: Gini(sorted)}
	if n%2 == 1 {
		d.Median = sorted[n/2]
	} else {
		d.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	sum := 0.0
	for _, x := range sorted {
		sum += x
	}
	d.Mean = sum / float64(n)
	ss := 0.0
	for _, x := range sorted {
		ss += (x - d.Mean) * (x - d.Mean)
	}
	d.Std = math.Sqrt(ss / float64(n))
	if d.Mean > 0 {
		d.CV = d.Std / d.Mean
	}
	return d
}

func below(xs []float64, threshold float64) int {
	n := 0
	for _, x := range xs {
		if x < threshold {
			n++
		}
	}
	return n
}

func minMax(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return lo, hi
}

// groupBy splits per-node values by community.
func groupBy(g *graph.Graph, p *community.Partition, values []float64) (map[int][]float64, error) {
	member, err := p.Membership(g)
	if err != nil {
		return nil, err
	}
	groups := make(map[int][]float64)
	for i, c := range member {
		groups[c] = append(groups[c], values[i])
	}
	return groups, nil
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
