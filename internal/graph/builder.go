package graph

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"

	"gtfs-resilience/internal/gtfs"
)

// BuildOptions controls trip selection.
type BuildOptions struct {
	// SampleSize limits how many trips are processed. Zero, or a value not
	// smaller than the trip count, processes every trip.
	SampleSize int
	// Seed fixes the trip sample. Nil draws a fresh seed per build.
	Seed *uint64
}

// BuildReport describes what a build did.
type BuildReport struct {
	TripsSelected  int   `json:"trips_selected"`
	TripsProcessed int   `json:"trips_processed"`
	EdgesAdded     int   `json:"edges_added"`
	SkippedPairs   int   `json:"skipped_pairs"`
	IsolatedPruned int   `json:"isolated_pruned"`
	Stats          Stats `json:"stats"`
}

// Builder turns a feed into a Graph.
type Builder struct {
	opts   BuildOptions
	logger *zap.Logger
}

func NewBuilder(opts BuildOptions, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{opts: opts, logger: logger}
}

// Build adds every stop as a node, connects consecutive stops of each
// selected trip and finally drops stops that no trip touched.
func (b *Builder) Build(feed *gtfs.Feed) (*Graph, BuildReport, error) {
	var rep BuildReport
	if err := feed.Validate(); err != nil {
		return nil, rep, err
	}
	b.logger.Info("building transport network graph", zap.Any("rows", feed.Sizes()))

	g := New()
	for _, s := range feed.Stops {
		err := g.AddStop(Stop{ID: s.StopID, Name: s.Name, Lat: s.Lat, Lon: s.Lon, Located: s.Located})
		if err != nil {
			return nil, rep, fmt.Errorf("add stop: %w", err)
		}
	}
	b.logger.Info("added stops as nodes", zap.Int("stops", g.NodeCount()))

	routeTypes := make(map[string]int, len(feed.Routes))
	for _, r := range feed.Routes {
		routeTypes[r.RouteID] = r.RouteType
	}
	sequences := groupStopTimes(feed.StopTimes)

	trips := b.selectTrips(feed.Trips)
	rep.TripsSelected = len(trips)

	for _, t := range trips {
		seq := sequences[t.TripID]
		if len(seq) < 2 {
			continue
		}
		routeType, ok := routeTypes[t.RouteID]
		if !ok {
			continue
		}
		for k := 0; k+1 < len(seq); k++ {
			from, to := seq[k].StopID, seq[k+1].StopID
			if _, ok := g.index[from]; !ok {
				rep.SkippedPairs++
				continue
			}
			if _, ok := g.index[to]; !ok {
				rep.SkippedPairs++
				continue
			}
			if from == to {
				rep.SkippedPairs++
				continue
			}
			added, err := g.Connect(from, to, t.TripID, t.RouteID, routeType)
			if err != nil {
				return nil, rep, err
			}
			if added {
				rep.EdgesAdded++
			}
		}
		rep.TripsProcessed++
		if rep.TripsProcessed%100 == 0 {
			b.logger.Debug("processing trips",
				zap.Int("processed", rep.TripsProcessed),
				zap.Int("selected", len(trips)),
				zap.Int("edges", rep.EdgesAdded))
		}
	}

	g, rep.IsolatedPruned = g.pruneIsolated()
	if stats, err := Summarize(g); err == nil {
		rep.Stats = stats
	} else {
		b.logger.Warn("graph is empty after construction", zap.Int("trips", rep.TripsProcessed))
	}

	b.logger.Info("graph construction complete",
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()),
		zap.Int("isolated_removed", rep.IsolatedPruned),
		zap.Int("skipped_pairs", rep.SkippedPairs))
	return g, rep, nil
}

// selectTrips returns either every trip or a uniform sample without
// replacement, kept in table order.
func (b *Builder) selectTrips(trips []gtfs.Trip) []gtfs.Trip {
	k := b.opts.SampleSize
	if k <= 0 || k >= len(trips) {
		return trips
	}
	var rng *rand.Rand
	if b.opts.Seed != nil {
		rng = rand.New(rand.NewPCG(*b.opts.Seed, 0))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	picked := rng.Perm(len(trips))[:k]
	sort.Ints(picked)

	b.logger.Info("sampling trips", zap.Int("sample", k), zap.Int("total", len(trips)))
	out := make([]gtfs.Trip, k)
	for n, i := range picked {
		out[n] = trips[i]
	}
	return out
}

// groupStopTimes indexes stop times by trip, each sorted by sequence.
func groupStopTimes(rows []gtfs.StopTime) map[string][]gtfs.StopTime {
	byTrip := make(map[string][]gtfs.StopTime)
	for _, st := range rows {
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}
	for _, seq := range byTrip {
		sort.SliceStable(seq, func(i, j int) bool { return seq[i].StopSequence < seq[j].StopSequence })
	}
	return byTrip
}
