package graph

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-resilience/internal/gtfs"
)

// sampleFeed has two trips over A->B, one trip A->B->C, an unused stop D and
// a stop time referencing an unknown stop Z.
func sampleFeed() *gtfs.Feed {
	return &gtfs.Feed{
		Stops: []gtfs.Stop{
			{StopID: "A", Name: "Alpha", Lat: 53.0, Lon: -2.0, Located: true},
			{StopID: "B", Name: "Beta", Lat: 53.1, Lon: -2.1, Located: true},
			{StopID: "C", Name: "Gamma", Lat: 53.2, Lon: -2.2, Located: true},
			{StopID: "D", Name: "Delta", Lat: 53.3, Lon: -2.3, Located: true},
		},
		Routes: []gtfs.Route{{RouteID: "R1", RouteType: 3}, {RouteID: "R2", RouteType: 0}},
		Trips: []gtfs.Trip{
			{TripID: "T1", RouteID: "R1", ServiceID: "WK"},
			{TripID: "T2", RouteID: "R1", ServiceID: "WK"},
			{TripID: "T3", RouteID: "R2", ServiceID: "WK"},
			{TripID: "T4", RouteID: "R2", ServiceID: "WK"},
		},
		StopTimes: []gtfs.StopTime{
			{TripID: "T1", StopID: "B", StopSequence: 2},
			{TripID: "T1", StopID: "A", StopSequence: 1},
			{TripID: "T2", StopID: "A", StopSequence: 1},
			{TripID: "T2", StopID: "B", StopSequence: 2},
			{TripID: "T3", StopID: "B", StopSequence: 10},
			{TripID: "T3", StopID: "C", StopSequence: 20},
			{TripID: "T3", StopID: "Z", StopSequence: 30},
			{TripID: "T4", StopID: "C", StopSequence: 1},
		},
	}
}

func TestBuildAccumulatesTraversals(t *testing.T) {
	g, rep, err := NewBuilder(BuildOptions{}, nil).Build(sampleFeed())
	require.NoError(t, err)

	ab, ok := g.Connection("A", "B")
	require.True(t, ok)
	assert.Equal(t, 2, ab.Trips)
	assert.Equal(t, "T1", ab.TripID, "first traversal names the edge")
	assert.Equal(t, 3, ab.RouteType)

	ba, ok := g.Connection("B", "A")
	require.True(t, ok)
	assert.Equal(t, ab, ba, "edges are unordered")

	bc, ok := g.Connection("B", "C")
	require.True(t, ok)
	assert.Equal(t, 1, bc.Trips)
	assert.Equal(t, "R2", bc.RouteID)

	assert.Equal(t, 2, g.EdgeCount())
	assert.Equal(t, 4, rep.TripsSelected)
	assert.Equal(t, 3, rep.TripsProcessed, "single-stop trip contributes nothing")
	assert.Equal(t, 2, rep.EdgesAdded)
	assert.Equal(t, 1, rep.SkippedPairs)
}

func TestBuildPrunesIsolatedStops(t *testing.T) {
	g, rep, err := NewBuilder(BuildOptions{}, nil).Build(sampleFeed())
	require.NoError(t, err)

	_, ok := g.Index("D")
	assert.False(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, g.IDs())
	assert.Equal(t, 1, rep.IsolatedPruned)

	stop, ok := g.StopByID("B")
	require.True(t, ok)
	assert.Equal(t, Stop{ID: "B", Name: "Beta", Lat: 53.1, Lon: -2.1, Located: true}, stop)

	assert.Equal(t, Stats{
		Nodes:                 3,
		Edges:                 2,
		Density:               2.0 / 3.0,
		Components:            1,
		AvgDegree:             4.0 / 3.0,
		LargestComponentSize:  3,
		LargestComponentRatio: 1,
	}, rep.Stats)
}

func TestBuildMissingTable(t *testing.T) {
	feed := sampleFeed()
	feed.Routes = nil
	_, _, err := NewBuilder(BuildOptions{}, nil).Build(feed)
	require.ErrorIs(t, err, gtfs.ErrMissingTable)
	assert.Contains(t, err.Error(), "routes")
}

func TestBuildSkipsRepeatedStopInSequence(t *testing.T) {
	feed := sampleFeed()
	feed.StopTimes = []gtfs.StopTime{
		{TripID: "T1", StopID: "A", StopSequence: 1},
		{TripID: "T1", StopID: "A", StopSequence: 2},
		{TripID: "T1", StopID: "B", StopSequence: 3},
	}
	g, rep, err := NewBuilder(BuildOptions{}, nil).Build(feed)
	require.NoError(t, err)
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, 1, rep.SkippedPairs)
}

func TestBuildSamplingIsReproducible(t *testing.T) {
	feed := sampleFeed()
	seed := uint64(7)
	opts := BuildOptions{SampleSize: 2, Seed: &seed}

	g1, rep1, err := NewBuilder(opts, nil).Build(feed)
	require.NoError(t, err)
	g2, rep2, err := NewBuilder(opts, nil).Build(feed)
	require.NoError(t, err)

	assert.Equal(t, 2, rep1.TripsSelected)
	assert.Equal(t, rep1, rep2)
	assert.Equal(t, g1.IDs(), g2.IDs())
	assert.Equal(t, g1.Connections(), g2.Connections())
}

func TestBuildSampleLargerThanTrips(t *testing.T) {
	_, rep, err := NewBuilder(BuildOptions{SampleSize: 100}, nil).Build(sampleFeed())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.TripsSelected)
}

// Any number of trips over the same consecutive pair yields exactly one
// connection whose trip count equals the number of trips.
func TestBuildWeightAccumulationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated traversals accumulate on one edge", prop.ForAll(
		func(trips int, reversed bool) bool {
			feed := &gtfs.Feed{
				Stops:  []gtfs.Stop{{StopID: "A"}, {StopID: "B"}},
				Routes: []gtfs.Route{{RouteID: "R", RouteType: 3}},
			}
			for i := 0; i < trips; i++ {
				id := string(rune('a'+i%26)) + string(rune('0'+i/26))
				feed.Trips = append(feed.Trips, gtfs.Trip{TripID: id, RouteID: "R"})
				first, second := "A", "B"
				if reversed && i%2 == 1 {
					first, second = second, first
				}
				feed.StopTimes = append(feed.StopTimes,
					gtfs.StopTime{TripID: id, StopID: first, StopSequence: 1},
					gtfs.StopTime{TripID: id, StopID: second, StopSequence: 2})
			}
			g, _, err := NewBuilder(BuildOptions{}, nil).Build(feed)
			if err != nil {
				return false
			}
			c, ok := g.Connection("A", "B")
			return ok && g.EdgeCount() == 1 && c.Trips == trips
		},
		gen.IntRange(1, 200),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
