package gtfs

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadDir reads stops.txt, routes.txt, trips.txt and stop_times.txt from a
// GTFS directory. Rows without an id are dropped; stops whose coordinates do
// not parse or fall outside valid bounds are kept but marked unlocated.
func LoadDir(dir string) (*Feed, error) {
	feed := &Feed{}

	err := readTable(filepath.Join(dir, TableStops+".txt"), func(get func(string) string) {
		s := Stop{StopID: get("stop_id"), Name: get("stop_name")}
		if s.StopID == "" {
			return
		}
		lat, errLat := strconv.ParseFloat(get("stop_lat"), 64)
		lon, errLon := strconv.ParseFloat(get("stop_lon"), 64)
		if errLat == nil && errLon == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
			s.Lat, s.Lon, s.Located = lat, lon, true
		}
		feed.Stops = append(feed.Stops, s)
	})
	if err != nil {
		return nil, err
	}

	err = readTable(filepath.Join(dir, TableRoutes+".txt"), func(get func(string) string) {
		r := Route{RouteID: get("route_id")}
		if r.RouteID == "" {
			return
		}
		r.RouteType, _ = strconv.Atoi(get("route_type"))
		feed.Routes = append(feed.Routes, r)
	})
	if err != nil {
		return nil, err
	}

	err = readTable(filepath.Join(dir, TableTrips+".txt"), func(get func(string) string) {
		t := Trip{TripID: get("trip_id"), RouteID: get("route_id"), ServiceID: get("service_id")}
		if t.TripID == "" {
			return
		}
		feed.Trips = append(feed.Trips, t)
	})
	if err != nil {
		return nil, err
	}

	err = readTable(filepath.Join(dir, TableStopTimes+".txt"), func(get func(string) string) {
		st := StopTime{TripID: get("trip_id"), StopID: get("stop_id")}
		if st.TripID == "" || st.StopID == "" {
			return
		}
		seq, err := strconv.Atoi(get("stop_sequence"))
		if err != nil {
			return
		}
		st.StopSequence = seq
		feed.StopTimes = append(feed.StopTimes, st)
	})
	if err != nil {
		return nil, err
	}

	return feed, nil
}

// readTable streams a CSV file and hands each row to fn through a
// header-keyed accessor. Missing columns read as "".
func readTable(path string, fn func(get func(string) string)) error {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMissingTable, name)
		}
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return fmt.Errorf("%w: %s", ErrMissingTable, name)
	}
	if err != nil {
		return fmt.Errorf("read %s header: %w", name, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		// feeds exported from spreadsheets often carry a BOM on the first column
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s row: %w", name, err)
		}
		fn(func(k string) string {
			i, ok := cols[k]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		})
	}
}
