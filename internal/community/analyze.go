package community

import (
	"math"

	"gtfs-resilience/internal/graph"
)

// Record describes one community. The geographic fields are nil when none
// of its stops carry coordinates.
type Record struct {
	ID        int      `json:"community_id"`
	Size      int      `json:"size"`
	Density   float64  `json:"density"`
	AvgDegree float64  `json:"avg_degree"`
	CenterLat *float64 `json:"center_lat"`
	CenterLon *float64 `json:"center_lon"`
	Radius    *float64 `json:"radius"`
}

// Summary is the result of community detection plus per-community records.
type Summary struct {
	Modularity     float64        `json:"modularity"`
	NumCommunities int            `json:"num_communities"`
	Communities    map[int]Record `json:"communities"`
}

// Analyze computes a Record for every community of p, restricted to the
// subgraph induced by the community's members.
func Analyze(g *graph.Graph, p *Partition) (Summary, error) {
	member, err := p.Membership(g)
	if err != nil {
		return Summary{}, err
	}

	type acc struct {
		size, edges, located int
		lats, lons           []float64
	}
	accs := make(map[int]*acc)
	for i, c := range member {
		a, ok := accs[c]
		if !ok {
			a = &acc{}
			accs[c] = a
		}
		a.size++
		if s := g.Stop(i); s.Located {
			a.located++
			a.lats = append(a.lats, s.Lat)
			a.lons = append(a.lons, s.Lon)
		}
	}
	g.EachEdge(func(i, j int) {
		if member[i] == member[j] {
			accs[member[i]].edges++
		}
	})

	out := Summary{
		Modularity:     p.Modularity(),
		NumCommunities: len(accs),
		Communities:    make(map[int]Record, len(accs)),
	}
	for c, a := range accs {
		rec := Record{
			ID:        c,
			Size:      a.size,
			AvgDegree: 2 * float64(a.edges) / float64(a.size),
		}
		if a.size > 1 {
			rec.Density = 2 * float64(a.edges) / float64(a.size*(a.size-1))
		}
		if a.located > 0 {
			lat, latSD := meanStd(a.lats)
			lon, lonSD := meanStd(a.lons)
			radius := latSD + lonSD
			rec.CenterLat, rec.CenterLon, rec.Radius = &lat, &lon, &radius
		}
		out.Communities[c] = rec
	}
	return out, nil
}

// Members groups node ids by community, each list in graph order.
func Members(g *graph.Graph, p *Partition) (map[int][]string, error) {
	member, err := p.Membership(g)
	if err != nil {
		return nil, err
	}
	out := make(map[int][]string)
	for i, c := range member {
		out[c] = append(out[c], g.Stop(i).ID)
	}
	return out, nil
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
