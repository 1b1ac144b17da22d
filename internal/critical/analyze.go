package critical

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/graph"
)

// Link counts the edges from a node into another community.
type Link struct {
	Community int `json:"community"`
	Edges     int `json:"connections"`
}

// Record characterises one critical node. The community fields are only
// filled when a partition is supplied.
type Record struct {
	NodeID     string   `json:"node_id"`
	Name       string   `json:"name"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	Score      float64  `json:"centrality"`
	Degree     int      `json:"degree"`
	Clustering float64  `json:"clustering"`

	Community           *int    `json:"community,omitempty"`
	NeighborCommunities int     `json:"connected_communities"`
	ConnectorScore      float64 `json:"connector_score"`
	ConnectorScoreNorm  float64 `json:"connector_score_norm"`
	StrongestLinks      []Link  `json:"strongest_links,omitempty"`
}

const strongestLinks = 3

// Analyze describes each ranked node. Neighbouring communities are the
// distinct communities of the node's neighbours other than its own. The
// connector score is score times that count, normalised by the largest
// connector score in nodes.
func (a *Analyzer) Analyze(g *graph.Graph, p *community.Partition, nodes []Scored) ([]Record, error) {
	a.logger.Info("analyzing critical nodes", zap.Int("nodes", len(nodes)), zap.Bool("partition", p != nil))

	out := make([]Record, 0, len(nodes))
	maxConnector := 0.0
	for _, sc := range nodes {
		i, ok := g.Index(sc.NodeID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, sc.NodeID)
		}
		s := g.Stop(i)
		rec := Record{
			NodeID:     s.ID,
			Name:       s.Name,
			Score:      sc.Score,
			Degree:     g.Degree(i),
			Clustering: graph.LocalClustering(g, i),
		}
		if s.Located {
			lat, lon := s.Lat, s.Lon
			rec.Lat, rec.Lon = &lat, &lon
		}
		if p != nil {
			if err := describeCommunities(g, p, i, &rec); err != nil {
				return nil, err
			}
			maxConnector = max(maxConnector, rec.ConnectorScore)
		}
		out = append(out, rec)
	}
	if maxConnector > 0 {
		for k := range out {
			out[k].ConnectorScoreNorm = out[k].ConnectorScore / maxConnector
		}
	}
	return out, nil
}

func describeCommunities(g *graph.Graph, p *community.Partition, i int, rec *Record) error {
	own, ok := p.Of(rec.NodeID)
	if !ok {
		return fmt.Errorf("%w: %q", community.ErrIncompletePartition, rec.NodeID)
	}
	rec.Community = &own

	counts := make(map[int]int)
	var order []int
	for _, j := range g.Neighbors(i) {
		id := g.Stop(j).ID
		c, ok := p.Of(id)
		if !ok {
			return fmt.Errorf("%w: %q", community.ErrIncompletePartition, id)
		}
		if c == own {
			continue
		}
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}
	rec.NeighborCommunities = len(order)
	rec.ConnectorScore = rec.Score * float64(len(order))

	sort.SliceStable(order, func(x, y int) bool { return counts[order[x]] > counts[order[y]] })
	if len(order) > strongestLinks {
		order = order[:strongestLinks]
	}
	for _, c := range order {
		rec.StrongestLinks = append(rec.StrongestLinks, Link{Community: c, Edges: counts[c]})
	}
	return nil
}
