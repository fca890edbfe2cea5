package transit

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"tidbyt.dev/transit/storage"
	"tidbyt.dev/transit/timetable"
)

// Static is a loaded static feed: its metadata, a reader for the
// stored records and the routing timetable derived from them.
type Static struct {
	Metadata  *storage.FeedMetadata
	Reader    storage.FeedReader
	Timetable *timetable.Timetable

	location     *time.Location
	maxDeparture time.Duration
}

func NewStatic(reader storage.FeedReader, metadata *storage.FeedMetadata, opts timetable.FeedOptions) (*Static, error) {
	location, err := time.LoadLocation(metadata.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	maxDeparture, err := parseHHMMSS(metadata.MaxDeparture)
	if err != nil {
		return nil, fmt.Errorf("parsing max departure: %w", err)
	}

	tt, err := timetable.FromFeed(reader, opts)
	if err != nil {
		return nil, fmt.Errorf("building timetable: %w", err)
	}

	return &Static{
		Metadata:     metadata,
		Reader:       reader,
		Timetable:    tt,
		location:     location,
		maxDeparture: maxDeparture,
	}, nil
}

// Parses GTFS style HHMMSS. Empty means zero.
func parseHHMMSS(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if len(s) != 6 {
		return 0, fmt.Errorf("malformed %q", s)
	}
	h, errH := strconv.Atoi(s[0:2])
	m, errM := strconv.Atoi(s[2:4])
	sec, errS := strconv.Atoi(s[4:6])
	if errH != nil || errM != nil || errS != nil {
		return 0, fmt.Errorf("malformed %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

func (s *Static) Location() *time.Location {
	return s.location
}

// MaxDays is the number of service days past the query date a search
// must consider to see every trip still running. Feeds whose trips
// run past midnight need more than the default.
func (s *Static) MaxDays(fallback int) int {
	days := int(s.maxDeparture/(24*time.Hour)) + 1
	if days < fallback {
		return fallback
	}
	return days
}

// Today is the current date in the feed's timezone, as YYYY-MM-DD.
func (s *Static) Today(now time.Time) string {
	return now.In(s.location).Format("2006-01-02")
}

// Active reports whether the feed's calendar covers the date at the
// given time, in the feed's timezone.
func (s *Static) Active(when time.Time) bool {
	// The timezone loaded in NewStatic, so this can't fail.
	ok, _ := feedActive(s.Metadata, when)
	return ok
}

// ActiveServices lists the GTFS service ids running on a YYYY-MM-DD
// date, calendar_dates exceptions included.
func (s *Static) ActiveServices(date string) ([]string, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parsing date: %w", err)
	}
	services, err := s.Reader.ActiveServices(d.Format("20060102"))
	if err != nil {
		return nil, fmt.Errorf("getting active services: %w", err)
	}
	return services, nil
}

// Returns stops ordered by distance from lat,lon.
//
// If limit is >0, at most limit stops are returned. Without a limit,
// all stops are returned ordered by name.
func (s *Static) NearbyStops(lat float64, lon float64, limit int) []timetable.Stop {
	if limit > 0 {
		return s.Timetable.NearbyStops(lat, lon, limit)
	}

	stops := append([]timetable.Stop{}, s.Timetable.Stops...)
	sort.SliceStable(stops, func(i, j int) bool {
		return stops[i].Name < stops[j].Name
	})
	return stops
}
