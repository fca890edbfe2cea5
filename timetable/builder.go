package timetable

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kyroy/kdtree"

	"tidbyt.dev/transit/util"
)

var ErrInvalidTimetable = errors.New("invalid timetable")

// TripSpec describes a trip handed to Builder.AddTrip.
type TripSpec struct {
	Code         string
	RouteName    string
	ServiceID    int
	Direction    int8
	Headsign     string
	LongDistance bool
	Delay        int
}

// Builder accumulates stops, services, trips and footpaths and
// produces an immutable Timetable.
type Builder struct {
	stops     []Stop
	services  []Service
	trips     []TripSpec
	stopTimes [][]StopTime
	footpaths []Footpath
	byCode    map[string]int

	// Longest footpath derived by chaining others, zero for no limit.
	closureLimit int
}

func NewBuilder() *Builder {
	return &Builder{byCode: map[string]int{}}
}

// AddStop adds a stop and returns its id. Codes must be unique.
func (b *Builder) AddStop(code, name string, lat, lon float64) int {
	id := len(b.stops)
	b.stops = append(b.stops, Stop{ID: id, Code: code, Name: name, Lat: lat, Lon: lon})
	b.byCode[code] = id
	return id
}

// StopID looks up a previously added stop by code.
func (b *Builder) StopID(code string) (int, bool) {
	id, ok := b.byCode[code]
	return id, ok
}

func (b *Builder) AddService(code string, weekdays [7]bool) int {
	id := len(b.services)
	b.services = append(b.services, Service{ID: id, Code: code, Weekdays: weekdays})
	return id
}

func (b *Builder) AddTrip(spec TripSpec) int {
	b.trips = append(b.trips, spec)
	b.stopTimes = append(b.stopTimes, nil)
	return len(b.trips) - 1
}

// AddStopTime adds a stop time to a trip. Stop times may be added in
// any order, they are sorted by sequence on Build.
func (b *Builder) AddStopTime(trip, stop int, sequence uint32, arrival, departure int) error {
	if trip < 0 || trip >= len(b.trips) {
		return fmt.Errorf("%w: unknown trip %d", ErrInvalidTimetable, trip)
	}
	if stop < 0 || stop >= len(b.stops) {
		return fmt.Errorf("%w: unknown stop %d", ErrInvalidTimetable, stop)
	}
	b.stopTimes[trip] = append(b.stopTimes[trip], StopTime{
		TripID:    trip,
		StopID:    stop,
		Sequence:  sequence,
		Arrival:   arrival,
		Departure: departure,
	})
	return nil
}

// AddFootpath adds a walking connection. Footpaths from a stop to
// itself are ignored, a stop is always reachable from itself.
func (b *Builder) AddFootpath(from, to, duration int) error {
	if from < 0 || from >= len(b.stops) || to < 0 || to >= len(b.stops) {
		return fmt.Errorf("%w: footpath %d->%d references unknown stop", ErrInvalidTimetable, from, to)
	}
	if duration < 0 {
		return fmt.Errorf("%w: footpath %d->%d has negative duration", ErrInvalidTimetable, from, to)
	}
	if from == to {
		return nil
	}
	b.footpaths = append(b.footpaths, Footpath{
		ID:            len(b.footpaths),
		DepartureStop: from,
		ArrivalStop:   to,
		Duration:      duration,
	})
	return nil
}

// LimitClosure caps the duration of footpaths derived by chaining
// footpaths. Footpaths added directly are kept whatever their
// duration. Zero, the default, closes footpaths completely.
func (b *Builder) LimitClosure(seconds int) {
	b.closureLimit = seconds
}

func (b *Builder) Build() (*Timetable, error) {
	tt := &Timetable{
		Stops:    b.stops,
		Services: b.services,
		byName:   map[string][]int{},
		byCode:   map[string]int{},
	}

	for _, s := range b.stops {
		tt.byName[s.Name] = append(tt.byName[s.Name], s.ID)
		tt.byCode[s.Code] = s.ID
	}

	// Stop times, sorted and validated per trip.
	tt.Trips = make([]Trip, len(b.trips))
	tt.tripFirst = make([]int, len(b.trips)+1)
	for i, spec := range b.trips {
		if spec.ServiceID < 0 || spec.ServiceID >= len(b.services) {
			return nil, fmt.Errorf("%w: trip %q has unknown service %d", ErrInvalidTimetable, spec.Code, spec.ServiceID)
		}
		tt.Trips[i] = Trip{
			ID:           i,
			Code:         spec.Code,
			ServiceID:    spec.ServiceID,
			Direction:    spec.Direction,
			Headsign:     spec.Headsign,
			LongDistance: spec.LongDistance,
			Delay:        spec.Delay,
		}

		sts := b.stopTimes[i]
		sort.SliceStable(sts, func(a, c int) bool {
			return sts[a].Sequence < sts[c].Sequence
		})
		if len(sts) < 2 {
			return nil, fmt.Errorf("%w: trip %q has %d stop times", ErrInvalidTimetable, spec.Code, len(sts))
		}
		for j, st := range sts {
			if st.Arrival > st.Departure {
				return nil, fmt.Errorf("%w: trip %q departs stop %d before arriving", ErrInvalidTimetable, spec.Code, j)
			}
			if j > 0 {
				prev := sts[j-1]
				if prev.Sequence == st.Sequence {
					return nil, fmt.Errorf("%w: trip %q repeats sequence %d", ErrInvalidTimetable, spec.Code, st.Sequence)
				}
				if prev.Departure > st.Arrival {
					return nil, fmt.Errorf("%w: trip %q goes back in time at sequence %d", ErrInvalidTimetable, spec.Code, st.Sequence)
				}
			}
		}

		tt.tripFirst[i] = len(tt.StopTimes)
		tt.StopTimes = append(tt.StopTimes, sts...)
	}
	tt.tripFirst[len(b.trips)] = len(tt.StopTimes)

	tt.buildRoutes(b.trips)
	tt.buildConnections()
	tt.buildFootpaths(closeFootpaths(len(b.stops), b.footpaths, b.closureLimit))

	points := make([]kdtree.Point, 0, len(tt.Stops))
	for _, s := range tt.Stops {
		points = append(points, &stopPoint{lat: s.Lat, lon: s.Lon, id: s.ID})
	}
	if len(points) > 0 {
		tt.tree = kdtree.New(points)
	}

	return tt, nil
}

// Groups trips with identical stop patterns. A trip that would
// overtake the previous trip of a group starts a new route with the
// same pattern.
func (tt *Timetable) buildRoutes(specs []TripSpec) {
	order := make([]int, len(tt.Trips))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool {
		return tt.TripStopTimes(order[a])[0].Departure < tt.TripStopTimes(order[c])[0].Departure
	})

	byPattern := map[string][]int{}
	for _, trip := range order {
		sts := tt.TripStopTimes(trip)
		key := patternKey(sts)

		routeID := -1
		for _, candidate := range byPattern[key] {
			route := tt.Routes[candidate]
			if !overtakes(tt.TripStopTimes(route.Trips[len(route.Trips)-1]), sts) {
				routeID = candidate
				break
			}
		}

		if routeID == -1 {
			routeID = len(tt.Routes)
			stops := make([]int, len(sts))
			for i, st := range sts {
				stops[i] = st.StopID
			}
			tt.Routes = append(tt.Routes, Route{
				ID:    routeID,
				Name:  specs[trip].RouteName,
				Stops: stops,
			})
			byPattern[key] = append(byPattern[key], routeID)
		}

		tt.Routes[routeID].Trips = append(tt.Routes[routeID].Trips, trip)
		tt.Trips[trip].RouteID = routeID
	}

	tt.routesServing = make([][]RouteStop, len(tt.Stops))
	for _, r := range tt.Routes {
		for i, stop := range r.Stops {
			tt.routesServing[stop] = append(tt.routesServing[stop], RouteStop{Route: r.ID, Index: i})
		}
	}
}

func patternKey(sts []StopTime) string {
	var sb strings.Builder
	for _, st := range sts {
		sb.WriteString(strconv.Itoa(st.StopID))
		sb.WriteByte(',')
	}
	return sb.String()
}

// Reports whether next arrives or departs anywhere before prev.
func overtakes(prev, next []StopTime) bool {
	for i := range prev {
		if next[i].Arrival < prev[i].Arrival || next[i].Departure < prev[i].Departure {
			return true
		}
	}
	return false
}

func (tt *Timetable) buildConnections() {
	for trip := range tt.Trips {
		sts := tt.TripStopTimes(trip)
		for i := 0; i < len(sts)-1; i++ {
			tt.Connections = append(tt.Connections, Connection{
				DepartureStop: sts[i].StopID,
				ArrivalStop:   sts[i+1].StopID,
				DepartureTime: sts[i].Departure,
				ArrivalTime:   sts[i+1].Arrival,
				TripID:        trip,
				Index:         i,
			})
		}
	}

	sort.Slice(tt.Connections, func(a, c int) bool {
		ca, cc := tt.Connections[a], tt.Connections[c]
		if ca.DepartureTime != cc.DepartureTime {
			return ca.DepartureTime < cc.DepartureTime
		}
		if ca.ArrivalTime != cc.ArrivalTime {
			return ca.ArrivalTime < cc.ArrivalTime
		}
		if ca.TripID != cc.TripID {
			return ca.TripID < cc.TripID
		}
		return ca.Index < cc.Index
	})
	for i := range tt.Connections {
		tt.Connections[i].ID = i
	}
}

// Closes footpaths transitively: a stop that can walk to another
// through a chain of footpaths gets a direct footpath taking the
// shortest chain's duration. Each pair of stops keeps one footpath.
// Searches never need to walk twice in a row.
func closeFootpaths(n int, footpaths []Footpath, limit int) []Footpath {
	adj := make([][]Footpath, n)
	direct := map[[2]int]bool{}
	for _, fp := range footpaths {
		adj[fp.DepartureStop] = append(adj[fp.DepartureStop], fp)
		direct[[2]int{fp.DepartureStop, fp.ArrivalStop}] = true
	}

	type reached struct{ stop, duration int }

	closed := []Footpath{}
	dist := make([]int, n)
	for i := range dist {
		dist[i] = -1
	}
	touched := []int{}
	pq := util.NewPriorityQueue[reached, int](16)

	for from := 0; from < n; from++ {
		if len(adj[from]) == 0 {
			continue
		}

		dist[from] = 0
		touched = append(touched[:0], from)
		pq.Enqueue(reached{from, 0}, 0)
		for {
			r, ok := pq.Dequeue()
			if !ok {
				break
			}
			if r.duration > dist[r.stop] {
				continue
			}
			for _, fp := range adj[r.stop] {
				to, d := fp.ArrivalStop, r.duration+fp.Duration
				if limit > 0 && d > limit && !direct[[2]int{from, to}] {
					continue
				}
				if dist[to] == -1 {
					touched = append(touched, to)
				} else if d >= dist[to] {
					continue
				}
				dist[to] = d
				pq.Enqueue(reached{to, d}, d)
			}
		}

		sort.Ints(touched)
		for _, to := range touched {
			if to != from {
				closed = append(closed, Footpath{
					ID:            len(closed),
					DepartureStop: from,
					ArrivalStop:   to,
					Duration:      dist[to],
				})
			}
			dist[to] = -1
		}
	}

	return closed
}

func (tt *Timetable) buildFootpaths(footpaths []Footpath) {
	tt.Footpaths = footpaths

	tt.footpathsFrom = append([]Footpath(nil), footpaths...)
	sort.SliceStable(tt.footpathsFrom, func(a, c int) bool {
		return tt.footpathsFrom[a].DepartureStop < tt.footpathsFrom[c].DepartureStop
	})
	tt.fromFirst = firstIndex(len(tt.Stops), tt.footpathsFrom, func(f Footpath) int { return f.DepartureStop })

	tt.footpathsTo = append([]Footpath(nil), footpaths...)
	sort.SliceStable(tt.footpathsTo, func(a, c int) bool {
		return tt.footpathsTo[a].ArrivalStop < tt.footpathsTo[c].ArrivalStop
	})
	tt.toFirst = firstIndex(len(tt.Stops), tt.footpathsTo, func(f Footpath) int { return f.ArrivalStop })
}

// Builds the offsets of each stop's run in a slice sorted by key.
// Entry n holds len(sorted).
func firstIndex(n int, sorted []Footpath, key func(Footpath) int) []int {
	first := make([]int, n+1)
	j := 0
	for stop := 0; stop <= n; stop++ {
		for j < len(sorted) && key(sorted[j]) < stop {
			j++
		}
		first[stop] = j
	}
	return first
}
