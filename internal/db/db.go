package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"gtfs-resilience/internal/gtfs"
)

// FetchFeed reads the four tables the graph builder needs from a feed
// database created by postgis-gtfs-importer (or any schema with the
// standard GTFS column names).
func FetchFeed(ctx context.Context, db *sql.DB) (*gtfs.Feed, error) {
	feed := &gtfs.Feed{}
	var err error
	if feed.Stops, err = fetchStops(ctx, db); err != nil {
		return nil, err
	}
	if feed.Routes, err = fetchRoutes(ctx, db); err != nil {
		return nil, err
	}
	if feed.Trips, err = fetchTrips(ctx, db); err != nil {
		return nil, err
	}
	if feed.StopTimes, err = fetchStopTimes(ctx, db); err != nil {
		return nil, err
	}
	return feed, nil
}

func fetchStops(ctx context.Context, db *sql.DB) ([]gtfs.Stop, error) {
	// Prefer stop_lat/stop_lon; the importer may only keep a PostGIS stop_loc.
	cols, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	var q string
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		q = `SELECT stop_id, COALESCE(stop_name, ''), stop_lat, stop_lon FROM stops ORDER BY stop_id`
	case cols["stop_loc"]:
		q = `SELECT stop_id, COALESCE(stop_name, ''),
                    ST_Y(stop_loc::geometry), ST_X(stop_loc::geometry)
             FROM stops ORDER BY stop_id`
	default:
		q = `SELECT stop_id, COALESCE(stop_name, ''), NULL::float8, NULL::float8 FROM stops ORDER BY stop_id`
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var stops []gtfs.Stop
	for rows.Next() {
		var s gtfs.Stop
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&s.StopID, &s.Name, &lat, &lon); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid {
			s.Lat, s.Lon, s.Located = lat.Float64, lon.Float64, true
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func fetchRoutes(ctx context.Context, db *sql.DB) ([]gtfs.Route, error) {
	// route_type is an enum in some importer versions; read it as text.
	rows, err := db.QueryContext(ctx, `SELECT route_id, COALESCE(route_type::text, '') FROM routes ORDER BY route_id`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []gtfs.Route
	for rows.Next() {
		var r gtfs.Route
		var typ string
		if err := rows.Scan(&r.RouteID, &typ); err != nil {
			return nil, err
		}
		r.RouteType = parseRouteType(typ)
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func fetchTrips(ctx context.Context, db *sql.DB) ([]gtfs.Trip, error) {
	rows, err := db.QueryContext(ctx, `SELECT trip_id, route_id, service_id FROM trips ORDER BY trip_id`)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []gtfs.Trip
	for rows.Next() {
		var t gtfs.Trip
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.ServiceID); err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func fetchStopTimes(ctx context.Context, db *sql.DB) ([]gtfs.StopTime, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT trip_id, stop_id, stop_sequence FROM stop_times ORDER BY trip_id, stop_sequence`)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()

	var sts []gtfs.StopTime
	for rows.Next() {
		var st gtfs.StopTime
		if err := rows.Scan(&st.TripID, &st.StopID, &st.StopSequence); err != nil {
			return nil, err
		}
		sts = append(sts, st)
	}
	return sts, rows.Err()
}

// parseRouteType accepts either the numeric GTFS code or the importer's
// enum labels.
func parseRouteType(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	switch strings.ToLower(s) {
	case "tram", "streetcar", "light_rail":
		return 0
	case "subway", "metro":
		return 1
	case "rail":
		return 2
	case "bus":
		return 3
	case "ferry":
		return 4
	case "cable_tram":
		return 5
	case "aerial_lift", "gondola":
		return 6
	case "funicular":
		return 7
	case "trolleybus":
		return 11
	case "monorail":
		return 12
	}
	return -1
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
