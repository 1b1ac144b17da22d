// Package efficiency measures how well the stop network moves passengers:
// global efficiency, path lengths, transfers between communities, the
// connections everything depends on and how reachable each community is.
package efficiency

import (
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/critical"
	"gtfs-resilience/internal/graph"
)

// Options bounds the sampled parts of the analysis. Every sample is drawn
// from streams seeded by Seed, so equal inputs give equal reports.
type Options struct {
	// PathSampleThreshold is the largest node count for which efficiency,
	// path length, diameter and edge betweenness use every source.
	PathSampleThreshold int
	// PathSamples is the number of sources used above the threshold.
	PathSamples int
	// TransferPairs caps the community pairs whose transfer distance is
	// measured; TransferNodes caps the stops drawn from each side.
	TransferPairs int
	TransferNodes int
	// RedundancySamples is the number of stops whose pairwise edge
	// connectivity is measured.
	RedundancySamples int
	TopConnections    int
	Bottlenecks       int
	Seed              uint64
}

func DefaultOptions() Options {
	return Options{
		PathSampleThreshold: 1000,
		PathSamples:         100,
		TransferPairs:       50,
		TransferNodes:       5,
		RedundancySamples:   100,
		TopConnections:      20,
		Bottlenecks:         10,
		Seed:                42,
	}
}

// Metrics is the network-wide efficiency summary. Path length and diameter
// are measured on the largest component.
type Metrics struct {
	GlobalEfficiency float64 `json:"global_efficiency"`
	AvgPathLength    float64 `json:"avg_path_length"`
	Diameter         int     `json:"diameter"`
	LargestCCRatio   float64 `json:"largest_cc_ratio"`
	Approximate      bool    `json:"approximate"`
	AvgDegree        float64 `json:"avg_degree"`
	MaxDegree        int     `json:"max_degree"`
	MinDegree        int     `json:"min_degree"`
	AvgClustering    float64 `json:"avg_clustering"`
	Density          float64 `json:"density"`

	Transfers *Transfers `json:"transfers,omitempty"`
}

// PairTransfer is the mean hop count between stops of two communities.
type PairTransfer struct {
	From    int     `json:"from_community"`
	To      int     `json:"to_community"`
	AvgHops float64 `json:"avg_hops"`
}

type Transfers struct {
	IntraEdgeRatio float64        `json:"intra_edge_ratio"`
	InterEdgeRatio float64        `json:"inter_edge_ratio"`
	AvgHops        float64        `json:"avg_community_transfers"`
	MaxHops        float64        `json:"max_community_transfers"`
	MinHops        float64        `json:"min_community_transfers"`
	Pairs          []PairTransfer `json:"community_transfers,omitempty"`
}

// Redundancy is the number of edge-disjoint paths between two stops.
type Redundancy struct {
	A            string `json:"a"`
	B            string `json:"b"`
	Connectivity int    `json:"edge_connectivity"`
}

type Quality struct {
	CriticalConnections []critical.EdgeScore `json:"critical_connections"`
	Bottlenecks         []critical.EdgeScore `json:"bottlenecks"`
	Approximate         bool                 `json:"approximate"`
	AvgRedundancy       float64              `json:"avg_redundancy"`
	Redundancy          []Redundancy         `json:"redundancy_samples"`
}

// CommunityAccess describes one community's internal reach and its links
// to the rest of the network.
type CommunityAccess struct {
	Size                 int     `json:"size"`
	InternalEdges        int     `json:"internal_edges"`
	Density              float64 `json:"density"`
	AvgInternalPath      float64 `json:"avg_internal_path"`
	LargestCCRatio       float64 `json:"largest_cc_ratio"`
	ExternalEdges        int     `json:"external_edges"`
	ConnectedCommunities int     `json:"connected_communities"`
	ExternalConnectivity float64 `json:"external_connectivity"`
	// AccessibilityScore averages 1/(1+AvgInternalPath) and
	// ExternalConnectivity.
	AccessibilityScore float64 `json:"accessibility_score"`
}

type Report struct {
	Metrics     Metrics                 `json:"efficiency_metrics"`
	Quality     Quality                 `json:"connection_quality"`
	Communities map[int]CommunityAccess `json:"community_accessibility,omitempty"`
}

type Analyzer struct {
	opts   Options
	logger *zap.Logger
}

func NewAnalyzer(opts Options, logger *zap.Logger) *Analyzer {
	d := DefaultOptions()
	if opts.PathSampleThreshold <= 0 {
		opts.PathSampleThreshold = d.PathSampleThreshold
	}
	if opts.PathSamples <= 0 {
		opts.PathSamples = d.PathSamples
	}
	if opts.TransferPairs <= 0 {
		opts.TransferPairs = d.TransferPairs
	}
	if opts.TransferNodes <= 0 {
		opts.TransferNodes = d.TransferNodes
	}
	if opts.RedundancySamples <= 0 {
		opts.RedundancySamples = d.RedundancySamples
	}
	if opts.TopConnections <= 0 {
		opts.TopConnections = d.TopConnections
	}
	if opts.Bottlenecks <= 0 {
		opts.Bottlenecks = d.Bottlenecks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{opts: opts, logger: logger}
}

// Analyze runs every efficiency measure. p may be nil; transfers and
// community accessibility are then omitted.
func (a *Analyzer) Analyze(g *graph.Graph, p *community.Partition) (Report, error) {
	m, err := a.Metrics(g, p)
	if err != nil {
		return Report{}, err
	}
	q, err := a.ConnectionQuality(g)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Metrics: m, Quality: q}
	if p != nil {
		if rep.Communities, err = a.CommunityAccessibility(g, p); err != nil {
			return Report{}, err
		}
	}
	return rep, nil
}

func (a *Analyzer) Metrics(g *graph.Graph, p *community.Partition) (Metrics, error) {
	n := g.NodeCount()
	if n == 0 {
		return Metrics{}, graph.ErrEmptyGraph
	}
	a.logger.Info("calculating efficiency metrics", zap.Int("nodes", n))
	rng := rand.New(rand.NewPCG(a.opts.Seed, 0))
	all := identity(n)
	bfs := graph.NewBFS(g)

	m := Metrics{Density: graph.Density(g), MinDegree: g.Degree(0)}
	sum := 0
	for i := 0; i < n; i++ {
		d := g.Degree(i)
		sum += d
		m.MaxDegree = max(m.MaxDegree, d)
		m.MinDegree = min(m.MinDegree, d)
		m.AvgClustering += graph.LocalClustering(g, i)
	}
	m.AvgDegree = float64(sum) / float64(n)
	m.AvgClustering /= float64(n)

	if n > 1 {
		sources := a.sample(rng, all)
		m.Approximate = len(sources) < n
		inv := 0.0
		for _, s := range sources {
			for _, v := range bfs.From(g, s) {
				if d := bfs.Dist(v); d > 0 {
					inv += 1 / float64(d)
				}
			}
		}
		m.GlobalEfficiency = inv / (float64(len(sources)) * float64(n-1))
	}

	lcc := graph.Largest(graph.Components(g))
	m.LargestCCRatio = float64(len(lcc)) / float64(n)
	if len(lcc) > 1 {
		sources := a.sample(rng, lcc)
		m.Approximate = m.Approximate || len(sources) < len(lcc)
		total := 0
		for _, s := range sources {
			for _, v := range bfs.From(g, s) {
				d := bfs.Dist(v)
				total += d
				m.Diameter = max(m.Diameter, d)
			}
		}
		m.AvgPathLength = float64(total) / (float64(len(sources)) * float64(len(lcc)-1))
	}

	if p != nil {
		t, err := a.transfers(g, p)
		if err != nil {
			return Metrics{}, err
		}
		m.Transfers = &t
	}
	return m, nil
}

func (a *Analyzer) transfers(g *graph.Graph, p *community.Partition) (Transfers, error) {
	a.logger.Info("calculating transfer metrics")
	member, err := p.Membership(g)
	if err != nil {
		return Transfers{}, err
	}
	var t Transfers
	intra, inter := 0, 0
	g.EachEdge(func(i, j int) {
		if member[i] == member[j] {
			intra++
		} else {
			inter++
		}
	})
	if total := intra + inter; total > 0 {
		t.IntraEdgeRatio = float64(intra) / float64(total)
		t.InterEdgeRatio = float64(inter) / float64(total)
	}

	groups := make(map[int][]int)
	for i, c := range member {
		groups[c] = append(groups[c], i)
	}
	ids := make([]int, 0, len(groups))
	for c := range groups {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	var pairs [][2]int
	for x := 0; x < len(ids); x++ {
		for y := x + 1; y < len(ids); y++ {
			pairs = append(pairs, [2]int{ids[x], ids[y]})
		}
	}

	rng := rand.New(rand.NewPCG(a.opts.Seed, 1))
	if len(pairs) > a.opts.TransferPairs {
		rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		pairs = pairs[:a.opts.TransferPairs]
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i][0] != pairs[j][0] {
				return pairs[i][0] < pairs[j][0]
			}
			return pairs[i][1] < pairs[j][1]
		})
	}

	bfs := graph.NewBFS(g)
	for _, pr := range pairs {
		from := pick(rng, groups[pr[0]], a.opts.TransferNodes)
		to := pick(rng, groups[pr[1]], a.opts.TransferNodes)
		hops, found := 0, 0
		for _, s := range from {
			bfs.From(g, s)
			for _, d := range to {
				if h := bfs.Dist(d); h >= 0 {
					hops += h
					found++
				}
			}
		}
		if found == 0 {
			continue
		}
		t.Pairs = append(t.Pairs, PairTransfer{From: pr[0], To: pr[1], AvgHops: float64(hops) / float64(found)})
	}

	if len(t.Pairs) > 0 {
		t.MinHops = t.Pairs[0].AvgHops
		sum := 0.0
		for _, pt := range t.Pairs {
			sum += pt.AvgHops
			t.MaxHops = max(t.MaxHops, pt.AvgHops)
			t.MinHops = min(t.MinHops, pt.AvgHops)
		}
		t.AvgHops = sum / float64(len(t.Pairs))
	}
	return t, nil
}

// ConnectionQuality ranks connections by edge betweenness and measures
// redundancy as the edge connectivity between sampled stop pairs.
func (a *Analyzer) ConnectionQuality(g *graph.Graph) (Quality, error) {
	n := g.NodeCount()
	if n == 0 {
		return Quality{}, graph.ErrEmptyGraph
	}
	a.logger.Info("analyzing connection quality", zap.Int("edges", g.EdgeCount()))

	var q Quality
	var sources []int
	if n > a.opts.PathSampleThreshold {
		sources = a.sample(rand.New(rand.NewPCG(a.opts.Seed, 2)), identity(n))
		q.Approximate = true
	}
	ranked := critical.EdgeBetweenness(g, sources)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].From != ranked[j].From {
			return ranked[i].From < ranked[j].From
		}
		return ranked[i].To < ranked[j].To
	})
	q.CriticalConnections = ranked[:min(a.opts.TopConnections, len(ranked))]
	q.Bottlenecks = ranked[:min(a.opts.Bottlenecks, len(ranked))]

	nodes := pick(rand.New(rand.NewPCG(a.opts.Seed, 3)), identity(n), a.opts.RedundancySamples)
	f := newFlow(g)
	total := 0
	for x := 0; x < len(nodes); x++ {
		for y := x + 1; y < len(nodes); y++ {
			c := f.edgeConnectivity(nodes[x], nodes[y])
			q.Redundancy = append(q.Redundancy, Redundancy{A: g.Stop(nodes[x]).ID, B: g.Stop(nodes[y]).ID, Connectivity: c})
			total += c
		}
	}
	if len(q.Redundancy) > 0 {
		q.AvgRedundancy = float64(total) / float64(len(q.Redundancy))
	}
	return q, nil
}

func (a *Analyzer) CommunityAccessibility(g *graph.Graph, p *community.Partition) (map[int]CommunityAccess, error) {
	if g.NodeCount() == 0 {
		return nil, graph.ErrEmptyGraph
	}
	member, err := p.Membership(g)
	if err != nil {
		return nil, err
	}
	a.logger.Info("analyzing community accessibility", zap.Int("communities", p.Count()))

	groups := make(map[int][]int)
	for i, c := range member {
		groups[c] = append(groups[c], i)
	}
	out := make(map[int]CommunityAccess, len(groups))
	bfs := graph.NewBFS(g)
	for c, nodes := range groups {
		sub := g.Induced(nodes)
		ca := CommunityAccess{
			Size:           len(nodes),
			InternalEdges:  sub.EdgeCount(),
			Density:        graph.Density(sub),
			LargestCCRatio: 1,
		}
		if len(nodes) > 1 {
			lcc := graph.Largest(graph.Components(sub))
			ca.LargestCCRatio = float64(len(lcc)) / float64(len(nodes))
			if len(lcc) > 1 {
				total := 0
				for _, s := range lcc {
					for _, v := range bfs.From(sub, s) {
						total += bfs.Dist(v)
					}
				}
				ca.AvgInternalPath = float64(total) / (float64(len(lcc)) * float64(len(lcc)-1))
			}
		}

		linked := make(map[int]struct{})
		for _, i := range nodes {
			g.EachNeighbor(i, func(j int) {
				if member[j] != c {
					ca.ExternalEdges++
					linked[member[j]] = struct{}{}
				}
			})
		}
		ca.ConnectedCommunities = len(linked)
		ca.ExternalConnectivity = float64(ca.ExternalEdges) / float64(len(nodes))
		ca.AccessibilityScore = (1/(1+ca.AvgInternalPath) + ca.ExternalConnectivity) / 2
		out[c] = ca
	}
	return out, nil
}

// sample returns every node when the set is within the threshold, otherwise
// PathSamples of them.
func (a *Analyzer) sample(rng *rand.Rand, nodes []int) []int {
	if len(nodes) <= a.opts.PathSampleThreshold {
		return nodes
	}
	return pick(rng, nodes, a.opts.PathSamples)
}

// pick draws k of nodes without replacement, sorted. k >= len(nodes)
// returns nodes unchanged.
func pick(rng *rand.Rand, nodes []int, k int) []int {
	if k >= len(nodes) {
		return nodes
	}
	out := make([]int, k)
	for i, j := range rng.Perm(len(nodes))[:k] {
		out[i] = nodes[j]
	}
	sort.Ints(out)
	return out
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
