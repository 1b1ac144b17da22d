package gtfs

import (
	"errors"
	"fmt"
)

// Table names as they appear in a feed (file name without .txt).
const (
	TableStops     = "stops"
	TableRoutes    = "routes"
	TableTrips     = "trips"
	TableStopTimes = "stop_times"
)

// ErrMissingTable is returned when a required table is absent or has no rows.
var ErrMissingTable = errors.New("gtfs: missing required table")

type Stop struct {
	StopID  string
	Name    string
	Lat     float64
	Lon     float64
	Located bool // false when the feed carried no usable coordinates
}

type Route struct {
	RouteID   string
	RouteType int
}

type Trip struct {
	TripID    string
	RouteID   string
	ServiceID string
}

type StopTime struct {
	TripID       string
	StopID       string
	StopSequence int
}

// Feed is the set of tables the graph builder consumes. The loader is
// expected to have cleaned and typed the rows already.
type Feed struct {
	Stops     []Stop
	Routes    []Route
	Trips     []Trip
	StopTimes []StopTime
}

// Validate reports the first required table that is missing or empty.
func (f *Feed) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: feed is nil", ErrMissingTable)
	}
	counts := []struct {
		name string
		n    int
	}{
		{TableStops, len(f.Stops)},
		{TableRoutes, len(f.Routes)},
		{TableTrips, len(f.Trips)},
		{TableStopTimes, len(f.StopTimes)},
	}
	for _, c := range counts {
		if c.n == 0 {
			return fmt.Errorf("%w: %s", ErrMissingTable, c.name)
		}
	}
	return nil
}

// Sizes returns row counts per table, keyed by table name.
func (f *Feed) Sizes() map[string]int {
	return map[string]int{
		TableStops:     len(f.Stops),
		TableRoutes:    len(f.Routes),
		TableTrips:     len(f.Trips),
		TableStopTimes: len(f.StopTimes),
	}
}
