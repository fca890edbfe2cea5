package timetable

import (
	"math"
	"sort"
	"time"

	"github.com/kyroy/kdtree"
	"github.com/kyroy/kdtree/kdrange"
	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

// FeedOptions controls footpath generation when converting a stored
// GTFS feed.
type FeedOptions struct {
	// Seconds needed to change between stops sharing a name.
	PlatformChange int

	// Stops closer than this many metres are connected by walking
	// footpaths. Zero disables walking footpaths.
	MaxWalkDistance float64

	// Metres per second.
	WalkingSpeed float64

	// Longest walk, in seconds, made of several footpaths that gets
	// its own footpath. Zero for no limit, which on a large feed may
	// connect every pair of stops in a city.
	MaxTransferTime int
}

func DefaultFeedOptions() FeedOptions {
	return FeedOptions{
		PlatformChange:  120,
		MaxWalkDistance: 300,
		WalkingSpeed:    1.2,
		MaxTransferTime: 900,
	}
}

// FromFeed builds a Timetable from a parsed GTFS feed.
//
// Calendars become weekday masks. Date ranges are not considered.
// Services defined only through calendar_dates.txt run on the
// weekdays of their added dates.
func FromFeed(reader storage.FeedReader, opts FeedOptions) (*Timetable, error) {
	b := NewBuilder()

	stops, err := reader.Stops()
	if err != nil {
		return nil, errors.Wrap(err, "reading stops")
	}
	for _, s := range stops {
		if s.LocationType != model.LocationTypeStop && s.LocationType != model.LocationTypeBoardingArea {
			continue
		}
		b.AddStop(s.ID, s.Name, s.Lat, s.Lon)
	}

	services, err := serviceWeekdays(reader)
	if err != nil {
		return nil, err
	}
	serviceIDs := map[string]int{}
	codes := make([]string, 0, len(services))
	for code := range services {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		serviceIDs[code] = b.AddService(code, services[code])
	}

	routes, err := reader.Routes()
	if err != nil {
		return nil, errors.Wrap(err, "reading routes")
	}
	routeByID := map[string]model.Route{}
	for _, r := range routes {
		routeByID[r.ID] = r
	}

	stopTimes, err := reader.StopTimes()
	if err != nil {
		return nil, errors.Wrap(err, "reading stop times")
	}
	stopCount := map[string]int{}
	for _, st := range stopTimes {
		stopCount[st.TripID]++
	}

	trips, err := reader.Trips()
	if err != nil {
		return nil, errors.Wrap(err, "reading trips")
	}
	tripIDs := map[string]int{}
	for _, t := range trips {
		// A trip needs two stops to form a connection.
		if stopCount[t.ID] < 2 {
			continue
		}
		route, found := routeByID[t.RouteID]
		if !found {
			return nil, errors.Errorf("trip %s references unknown route %s", t.ID, t.RouteID)
		}
		service, found := serviceIDs[t.ServiceID]
		if !found {
			return nil, errors.Errorf("trip %s references unknown service %s", t.ID, t.ServiceID)
		}
		tripIDs[t.ID] = b.AddTrip(TripSpec{
			Code:         t.ID,
			RouteName:    route.Name(),
			ServiceID:    service,
			Direction:    t.DirectionID,
			Headsign:     t.Headsign,
			LongDistance: route.Type.LongDistance(),
		})
	}

	for _, st := range stopTimes {
		trip, found := tripIDs[st.TripID]
		if !found {
			continue
		}
		stop, found := b.StopID(st.StopID)
		if !found {
			return nil, errors.Errorf("trip %s stops at unknown stop %s", st.TripID, st.StopID)
		}
		err := b.AddStopTime(trip, stop, st.StopSequence, st.ArrivalSeconds(), st.DepartureSeconds())
		if err != nil {
			return nil, errors.Wrapf(err, "adding stop time for trip %s", st.TripID)
		}
	}

	b.LimitClosure(opts.MaxTransferTime)
	footpaths, err := feedFootpaths(reader, b, opts)
	if err != nil {
		return nil, err
	}
	keys := make([][2]int, 0, len(footpaths))
	for key := range footpaths {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, key := range keys {
		if err := b.AddFootpath(key[0], key[1], footpaths[key]); err != nil {
			return nil, errors.Wrap(err, "adding footpath")
		}
	}

	tt, err := b.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building timetable")
	}
	return tt, nil
}

func serviceWeekdays(reader storage.FeedReader) (map[string][7]bool, error) {
	services := map[string][7]bool{}

	calendars, err := reader.Calendars()
	if err != nil {
		return nil, errors.Wrap(err, "reading calendars")
	}
	for _, c := range calendars {
		var weekdays [7]bool
		for d := time.Sunday; d <= time.Saturday; d++ {
			weekdays[d] = c.Weekday&(1<<d) != 0
		}
		services[c.ServiceID] = weekdays
	}

	dates, err := reader.CalendarDates()
	if err != nil {
		return nil, errors.Wrap(err, "reading calendar dates")
	}
	added := map[string][7]bool{}
	for _, cd := range dates {
		if _, found := services[cd.ServiceID]; found {
			continue
		}
		weekdays := added[cd.ServiceID]
		if cd.ExceptionType == model.ExceptionTypeAdded {
			date, err := time.ParseInLocation("20060102", cd.Date, time.UTC)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing date of service %s", cd.ServiceID)
			}
			weekdays[date.Weekday()] = true
		}
		added[cd.ServiceID] = weekdays
	}
	for id, weekdays := range added {
		services[id] = weekdays
	}

	return services, nil
}

// Collects footpaths keyed by (from, to), keeping the shortest
// duration for each pair.
func feedFootpaths(reader storage.FeedReader, b *Builder, opts FeedOptions) (map[[2]int]int, error) {
	footpaths := map[[2]int]int{}
	add := func(from, to, duration int) {
		if from == to {
			return
		}
		key := [2]int{from, to}
		if d, found := footpaths[key]; !found || duration < d {
			footpaths[key] = duration
		}
	}

	walk := func(a, c Stop) int {
		return storage.WalkingTime(a.Lat, a.Lon, c.Lat, c.Lon, opts.WalkingSpeed)
	}

	transfers, err := reader.Transfers()
	if err != nil {
		return nil, errors.Wrap(err, "reading transfers")
	}
	for _, t := range transfers {
		if t.Type == model.TransferTypeNotPossible {
			continue
		}
		from, ok1 := b.StopID(t.FromStopID)
		to, ok2 := b.StopID(t.ToStopID)
		if !ok1 || !ok2 {
			continue
		}
		duration := t.MinTransferTime
		if duration == 0 && opts.WalkingSpeed > 0 {
			duration = walk(b.stops[from], b.stops[to])
		}
		add(from, to, duration)
	}

	byName := map[string][]int{}
	for _, s := range b.stops {
		if s.Name != "" {
			byName[s.Name] = append(byName[s.Name], s.ID)
		}
	}
	for _, ids := range byName {
		for _, from := range ids {
			for _, to := range ids {
				add(from, to, opts.PlatformChange)
			}
		}
	}

	if opts.MaxWalkDistance > 0 && opts.WalkingSpeed > 0 && len(b.stops) > 0 {
		points := make([]kdtree.Point, 0, len(b.stops))
		for _, s := range b.stops {
			points = append(points, &stopPoint{lat: s.Lat, lon: s.Lon, id: s.ID})
		}
		tree := kdtree.New(points)

		// Bounding box in degrees, widened for longitude away from
		// the equator.
		dLat := opts.MaxWalkDistance / 111320
		for _, s := range b.stops {
			dLon := dLat / math.Max(math.Cos(s.Lat*math.Pi/180), 0.01)
			box := kdrange.New(s.Lat-dLat, s.Lat+dLat, s.Lon-dLon, s.Lon+dLon)
			for _, p := range tree.RangeSearch(box) {
				other := b.stops[p.(*stopPoint).id]
				if other.ID == s.ID {
					continue
				}
				meters := storage.HaversineDistance(s.Lat, s.Lon, other.Lat, other.Lon)
				if meters > opts.MaxWalkDistance {
					continue
				}
				add(s.ID, other.ID, walk(s, other))
			}
		}
	}

	return footpaths, nil
}

type stopPoint struct {
	lat float64
	lon float64
	id  int
}

func (p *stopPoint) Dimensions() int {
	return 2
}

func (p *stopPoint) Dimension(i int) float64 {
	if i == 0 {
		return p.lat
	}
	return p.lon
}
