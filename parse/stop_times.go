package parse

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type StopTimeCSV struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  uint32 `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	Headsign      string `csv:"stop_headsign"`
}

// Converts H:MM:SS or HH:MM:SS to HHMMSS. Hours past 23 are
// allowed for trips running past midnight.
func parseStopTimeTime(s string) (string, error) {
	split := strings.Split(strings.TrimSpace(s), ":")
	if len(split) != 3 {
		return "", errors.Errorf("found %d parts in '%s'", len(split), s)
	}

	var hms [3]int
	for i, str := range split {
		v, err := strconv.Atoi(str)
		if err != nil {
			return "", errors.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = v
	}

	switch {
	case hms[0] < 0 || hms[0] > 99:
		return "", errors.Errorf("invalid hour in '%s'", s)
	case hms[1] < 0 || hms[1] > 59:
		return "", errors.Errorf("invalid minute in '%s'", s)
	case hms[2] < 0 || hms[2] > 59:
		return "", errors.Errorf("invalid second in '%s'", s)
	}

	return fmt.Sprintf("%02d%02d%02d", hms[0], hms[1], hms[2]), nil
}

// Returns max arrival and max departure time as HHMMSS.
func ParseStopTimes(
	writer storage.FeedWriter,
	data io.Reader,
	trips map[string]bool,
	stops map[string]bool,
) (string, string, error) {

	type tripSeq struct {
		trip string
		seq  uint32
	}
	seen := map[tripSeq]bool{}

	maxArrival := "000000"
	maxDeparture := "000000"

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *StopTimeCSV) error {
		row++
		if !trips[st.TripID] {
			return errors.Errorf("unknown trip_id: '%s' (row %d)", st.TripID, row)
		}
		if st.StopID == "" {
			return errors.Errorf("missing stop_id (row %d)", row)
		}
		if !stops[st.StopID] {
			return errors.Errorf("unknown stop_id: '%s' (row %d)", st.StopID, row)
		}

		key := tripSeq{st.TripID, st.StopSequence}
		if seen[key] {
			return errors.Errorf("duplicate stop_sequence %d for trip_id '%s'", st.StopSequence, st.TripID)
		}
		seen[key] = true

		arrival, err := parseStopTimeTime(st.ArrivalTime)
		if err != nil {
			return errors.Wrapf(err, "parsing arrival_time (row %d)", row)
		}
		departure, err := parseStopTimeTime(st.DepartureTime)
		if err != nil {
			return errors.Wrapf(err, "parsing departure_time (row %d)", row)
		}
		if departure < arrival {
			return errors.Errorf("departure_time before arrival_time (row %d)", row)
		}

		if arrival > maxArrival {
			maxArrival = arrival
		}
		if departure > maxDeparture {
			maxDeparture = departure
		}

		err = writer.WriteStopTime(model.StopTime{
			TripID:       st.TripID,
			StopID:       st.StopID,
			Headsign:     st.Headsign,
			StopSequence: st.StopSequence,
			Arrival:      arrival,
			Departure:    departure,
		})
		return errors.Wrapf(err, "writing stop_time (row %d)", row)
	})
	if err != nil {
		return "", "", errors.Wrap(err, "unmarshaling stop_times csv")
	}

	return maxArrival, maxDeparture, nil
}
