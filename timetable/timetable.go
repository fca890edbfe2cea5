package timetable

import (
	"sort"
	"time"

	"github.com/kyroy/kdtree"
)

// Timetable is an immutable index over a static schedule. All ids are
// dense and zero based, so they double as offsets into the exported
// slices. A Timetable is safe for concurrent use once built.
type Timetable struct {
	Stops       []Stop
	Trips       []Trip
	Routes      []Route
	Services    []Service
	StopTimes   []StopTime
	Connections []Connection
	Footpaths   []Footpath

	tripFirst []int

	footpathsFrom []Footpath
	fromFirst     []int
	footpathsTo   []Footpath
	toFirst       []int

	routesServing [][]RouteStop

	byName map[string][]int
	byCode map[string]int

	tree *kdtree.KDTree
}

type Stop struct {
	ID   int
	Code string
	Name string
	Lat  float64
	Lon  float64
}

type Trip struct {
	ID        int
	Code      string
	RouteID   int
	ServiceID int
	Direction int8
	Headsign  string

	// Selects the long distance delay distribution.
	LongDistance bool

	// Fixed delay in seconds applied to every arrival when delays
	// are simulated.
	Delay int
}

// Route is a stop pattern shared by all its trips. Trips are sorted
// by departure and never overtake each other.
type Route struct {
	ID    int
	Name  string
	Stops []int
	Trips []int
}

type StopTime struct {
	TripID    int
	StopID    int
	Sequence  uint32
	Arrival   int
	Departure int
}

// Connection is one hop of a trip between consecutive stop times.
// Index is the position of the departure stop time within the trip.
type Connection struct {
	ID            int
	DepartureStop int
	ArrivalStop   int
	DepartureTime int
	ArrivalTime   int
	TripID        int
	Index         int
}

type Footpath struct {
	ID            int
	DepartureStop int
	ArrivalStop   int
	Duration      int
}

// Position of a stop within a route's pattern.
type RouteStop struct {
	Route int
	Index int
}

type Service struct {
	ID       int
	Code     string
	Weekdays [7]bool
}

func (tt *Timetable) StopsByName(name string) []int {
	return tt.byName[name]
}

func (tt *Timetable) StopByCode(code string) (int, bool) {
	id, ok := tt.byCode[code]
	return id, ok
}

// TripStopTimes returns the stop times of a trip ordered by sequence.
func (tt *Timetable) TripStopTimes(trip int) []StopTime {
	return tt.StopTimes[tt.tripFirst[trip]:tt.tripFirst[trip+1]]
}

func (tt *Timetable) StopTime(trip int, index int) StopTime {
	return tt.StopTimes[tt.tripFirst[trip]+index]
}

// FirstConnectionAt returns the index of the first connection
// departing at or after t, or len(Connections) if there is none.
func (tt *Timetable) FirstConnectionAt(t int) int {
	return sort.Search(len(tt.Connections), func(i int) bool {
		return tt.Connections[i].DepartureTime >= t
	})
}

// MaxDeparture is the latest connection departure, 0 for an empty
// timetable.
func (tt *Timetable) MaxDeparture() int {
	if len(tt.Connections) == 0 {
		return 0
	}
	return tt.Connections[len(tt.Connections)-1].DepartureTime
}

func (tt *Timetable) FootpathsFrom(stop int) []Footpath {
	return tt.footpathsFrom[tt.fromFirst[stop]:tt.fromFirst[stop+1]]
}

func (tt *Timetable) FootpathsTo(stop int) []Footpath {
	return tt.footpathsTo[tt.toFirst[stop]:tt.toFirst[stop+1]]
}

func (tt *Timetable) RoutesServing(stop int) []RouteStop {
	return tt.routesServing[stop]
}

// Available reports whether a service runs on the given weekday.
func (tt *Timetable) Available(weekday time.Weekday, service int) bool {
	return tt.Services[service].Weekdays[weekday]
}

// TripAvailable reports whether a trip runs on the service day that
// is offset days from a day with the given weekday.
func (tt *Timetable) TripAvailable(trip int, base time.Weekday, offset int) bool {
	return tt.Available(Weekday(base, offset), tt.Trips[trip].ServiceID)
}

// NearbyStops returns up to k stops ordered by distance from the
// given coordinate.
func (tt *Timetable) NearbyStops(lat, lon float64, k int) []Stop {
	if tt.tree == nil || k <= 0 {
		return nil
	}
	points := tt.tree.KNN(&stopPoint{lat: lat, lon: lon, id: -1}, k)
	stops := make([]Stop, 0, len(points))
	for _, p := range points {
		stops = append(stops, tt.Stops[p.(*stopPoint).id])
	}
	return stops
}
