// Package raptor implements round based searches over the routes of a
// timetable: earliest arrival, multi-criteria earliest arrival with
// transfer reliability, and transfer optimal minimum expected arrival
// time.
package raptor

import (
	"errors"
	"math"
	"time"

	"tidbyt.dev/transit/timetable"
)

var ErrNoConnection = errors.New("no connection found")

// Unreachable.
const infinity = math.MaxInt

const (
	// DefaultMaxDays bounds how many days past the query date a
	// search may look.
	DefaultMaxDays = 2

	// DefaultMaxRounds bounds the number of trips in a journey.
	DefaultMaxRounds = 16
)

// Query describes a search from any of Sources to any of Targets.
type Query struct {
	Sources []int
	Targets []int

	// Earliest departure, seconds past midnight of the query date.
	Time int

	Weekday time.Weekday

	// Zero means DefaultMaxDays.
	MaxDays int

	// Zero means DefaultMaxRounds.
	MaxRounds int
}

func maxDays(n int) int {
	if n <= 0 {
		return DefaultMaxDays
	}
	return n
}

func maxRounds(n int) int {
	if n <= 0 {
		return DefaultMaxRounds
	}
	return n
}

func checkStops(tt *timetable.Timetable, stops ...[]int) error {
	for _, list := range stops {
		if len(list) == 0 {
			return errors.New("no stops given")
		}
		for _, s := range list {
			if s < 0 || s >= len(tt.Stops) {
				return errors.New("stop out of range")
			}
		}
	}
	return nil
}

func stopSet(n int, stops []int) []bool {
	set := make([]bool, n)
	for _, s := range stops {
		set[s] = true
	}
	return set
}

func fill[T any](n int, v T) []T {
	s := make([]T, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// Queue of routes to scan in a round, each with the index its scan
// starts at.
type routeQueue struct {
	start  []int
	routes []int
}

func newRouteQueue(n int) *routeQueue {
	return &routeQueue{start: fill(n, -1)}
}

// Add keeps the lowest index per route, or the highest if latest.
func (q *routeQueue) Add(route, index int, latest bool) {
	cur := q.start[route]
	switch {
	case cur == -1:
		q.start[route] = index
		q.routes = append(q.routes, route)
	case latest && index > cur, !latest && index < cur:
		q.start[route] = index
	}
}

// Drain calls fn for every queued route and empties the queue.
func (q *routeQueue) Drain(fn func(route, index int)) {
	for _, r := range q.routes {
		fn(r, q.start[r])
		q.start[r] = -1
	}
	q.routes = q.routes[:0]
}
