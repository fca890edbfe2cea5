package parse

import (
	"archive/zip"
	"bytes"
	"io"
	"path"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"tidbyt.dev/transit/storage"
)

// Files read from a static feed. Either calendar.txt or
// calendar_dates.txt must be present.
var staticFiles = map[string]bool{
	"agency.txt":         true,
	"routes.txt":         true,
	"stops.txt":          true,
	"trips.txt":          true,
	"stop_times.txt":     true,
	"calendar.txt":       false,
	"calendar_dates.txt": false,
	"transfers.txt":      false,
}

func init() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// Min and max of a set of YYYYMMDD dates.
type DateRange struct {
	Start string
	End   string
}

func (r *DateRange) extend(start, end string) {
	if start != "" && (r.Start == "" || start < r.Start) {
		r.Start = start
	}
	if end != "" && (r.End == "" || end > r.End) {
		r.End = end
	}
}

// ParseStatic parses a GTFS zip archive into writer and returns a
// partial FeedMetadata. URL, Hash and RetrievedAt are left for the
// caller.
func ParseStatic(writer storage.FeedWriter, buf []byte) (*storage.FeedMetadata, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, errors.Wrap(err, "unzipping")
	}

	file := map[string]io.ReadCloser{}
	defer func() {
		for _, rc := range file {
			rc.Close()
		}
	}()

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		if _, found := staticFiles[name]; !found {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", f.Name)
		}
		file[name] = rc
	}

	for name, required := range staticFiles {
		if required && file[name] == nil {
			return nil, errors.Errorf("missing %s", name)
		}
	}
	if file["calendar.txt"] == nil && file["calendar_dates.txt"] == nil {
		return nil, errors.New("missing calendar.txt and calendar_dates.txt")
	}

	agency, timezone, err := ParseAgency(writer, file["agency.txt"])
	if err != nil {
		return nil, errors.Wrap(err, "parsing agency.txt")
	}

	routes, err := ParseRoutes(writer, file["routes.txt"], agency)
	if err != nil {
		return nil, errors.Wrap(err, "parsing routes.txt")
	}

	services := map[string]bool{}
	calendar := DateRange{}
	if file["calendar.txt"] != nil {
		found, dates, err := ParseCalendar(writer, file["calendar.txt"])
		if err != nil {
			return nil, errors.Wrap(err, "parsing calendar.txt")
		}
		for id := range found {
			services[id] = true
		}
		calendar.extend(dates.Start, dates.End)
	}
	if file["calendar_dates.txt"] != nil {
		found, dates, err := ParseCalendarDates(writer, file["calendar_dates.txt"])
		if err != nil {
			return nil, errors.Wrap(err, "parsing calendar_dates.txt")
		}
		for id := range found {
			services[id] = true
		}
		calendar.extend(dates.Start, dates.End)
	}

	if err := writer.BeginTrips(); err != nil {
		return nil, errors.Wrap(err, "beginning trips")
	}
	trips, err := ParseTrips(writer, file["trips.txt"], routes, services)
	if err != nil {
		return nil, errors.Wrap(err, "parsing trips.txt")
	}
	if err := writer.EndTrips(); err != nil {
		return nil, errors.Wrap(err, "ending trips")
	}

	stops, err := ParseStops(writer, file["stops.txt"])
	if err != nil {
		return nil, errors.Wrap(err, "parsing stops.txt")
	}

	if file["transfers.txt"] != nil {
		if err := ParseTransfers(writer, file["transfers.txt"], stops); err != nil {
			return nil, errors.Wrap(err, "parsing transfers.txt")
		}
	}

	if err := writer.BeginStopTimes(); err != nil {
		return nil, errors.Wrap(err, "beginning stop_times")
	}
	maxArrival, maxDeparture, err := ParseStopTimes(writer, file["stop_times.txt"], trips, stops)
	if err != nil {
		return nil, errors.Wrap(err, "parsing stop_times.txt")
	}
	if err := writer.EndStopTimes(); err != nil {
		return nil, errors.Wrap(err, "ending stop_times")
	}

	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "closing feed writer")
	}

	return &storage.FeedMetadata{
		CalendarStartDate: calendar.Start,
		CalendarEndDate:   calendar.End,
		Timezone:          timezone,
		MaxArrival:        maxArrival,
		MaxDeparture:      maxDeparture,
	}, nil
}
