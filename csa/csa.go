// Package csa implements Connection Scan searches over a timetable:
// earliest arrival, earliest safe arrival, Pareto profiles and
// minimum expected arrival time.
package csa

import (
	"context"
	"errors"
	"math"
	"time"

	"tidbyt.dev/transit/timetable"
)

var ErrNoConnection = errors.New("no connection found")

// Unreachable.
const infinity = math.MaxInt

// DefaultMaxDays bounds how many days past the query date a search
// may look.
const DefaultMaxDays = 2

// Connections between context checks.
const checkEvery = 4096

// Query describes a search from any of Sources to any of Targets.
type Query struct {
	Sources []int
	Targets []int

	// Earliest departure, seconds past midnight of the query date.
	Time int

	// Weekday of the query date.
	Weekday time.Weekday

	// Trips of service days up to MaxDays after the query date
	// are considered. Zero means DefaultMaxDays.
	MaxDays int

	// Apply each trip's fixed Delay to its arrivals.
	ApplyDelays bool
}

func (q Query) maxDays() int {
	if q.MaxDays <= 0 {
		return DefaultMaxDays
	}
	return q.MaxDays
}

func stopSet(n int, stops []int) []bool {
	set := make([]bool, n)
	for _, s := range stops {
		set[s] = true
	}
	return set
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

func fill[T any](n int, v T) []T {
	s := make([]T, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// Runs connection c of day d.
func absolute(c *timetable.Connection, day int) (int, int) {
	return day*timetable.Day + c.DepartureTime, day*timetable.Day + c.ArrivalTime
}

func canceled(ctx context.Context, n int) error {
	if n%checkEvery != 0 {
		return nil
	}
	return ctx.Err()
}
