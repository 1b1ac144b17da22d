package vulnerability

import (
	"fmt"

	"gtfs-resilience/internal/community"
	"gtfs-resilience/internal/graph"
)

// CommunityImpact reports which neighbouring communities lose every direct
// edge to the removed node's community.
type CommunityImpact struct {
	Community    int     `json:"community"`
	Connected    int     `json:"connected_communities"`
	Disconnected int     `json:"disconnected_communities"`
	Score        float64 `json:"community_impact_score"`
	// Lost lists the disconnected community ids in neighbour order.
	Lost []int `json:"lost_communities,omitempty"`
}

type communityPair struct{ a, b int }

func pairOf(a, b int) communityPair {
	if a > b {
		a, b = b, a
	}
	return communityPair{a, b}
}

// linkCounts is the number of edges between each pair of distinct
// communities in the intact graph.
type linkCounts map[communityPair]int

// countLinks skips edges with an unassigned endpoint; assessing such a node
// fails on its own.
func countLinks(g *graph.Graph, p *community.Partition) linkCounts {
	links := make(linkCounts)
	g.EachEdge(func(i, j int) {
		ci, ok := p.Of(g.Stop(i).ID)
		if !ok {
			return
		}
		cj, ok := p.Of(g.Stop(j).ID)
		if !ok || ci == cj {
			return
		}
		links[pairOf(ci, cj)]++
	})
	return links
}

// communityImpact takes the communities of i's neighbours other than its
// own. A community is disconnected when every edge between it and i's
// community touches i. Only direct edges are considered, not paths through
// third communities.
func communityImpact(g *graph.Graph, p *community.Partition, links linkCounts, i int) (CommunityImpact, error) {
	id := g.Stop(i).ID
	own, ok := p.Of(id)
	if !ok {
		return CommunityImpact{}, fmt.Errorf("%w: %q", ErrNotInPartition, id)
	}

	through := make(map[int]int)
	var order []int
	for _, j := range g.Neighbors(i) {
		nid := g.Stop(j).ID
		c, ok := p.Of(nid)
		if !ok {
			return CommunityImpact{}, fmt.Errorf("%w: %q", ErrNotInPartition, nid)
		}
		if c == own {
			continue
		}
		if _, seen := through[c]; !seen {
			order = append(order, c)
		}
		through[c]++
	}

	ci := CommunityImpact{Community: own, Connected: len(order)}
	for _, c := range order {
		if links[pairOf(own, c)] == through[c] {
			ci.Lost = append(ci.Lost, c)
		}
	}
	ci.Disconnected = len(ci.Lost)
	ci.Score = float64(ci.Disconnected) / float64(max(1, ci.Connected))
	return ci, nil
}
