package raptor

import (
	"sort"
	"time"

	"tidbyt.dev/transit/timetable"
)

// A trip running on the service day offset days from the query date.
type tripInstance struct {
	trip int
	day  int
}

// tripFinder looks up trips of a route running on service days first
// through last.
type tripFinder struct {
	tt      *timetable.Timetable
	weekday time.Weekday
	first   int
	last    int
}

func (f *tripFinder) departure(inst tripInstance, index int) int {
	return inst.day*timetable.Day + f.tt.StopTime(inst.trip, index).Departure
}

func (f *tripFinder) arrival(inst tripInstance, index int) int {
	return inst.day*timetable.Day + f.tt.StopTime(inst.trip, index).Arrival
}

// EarliestTrip returns the trip of route that departs the stop at
// index first, at or after t. Service days from the one before t up
// to a week after it are searched. On a tie, the trip of t's own
// service day wins.
func (f *tripFinder) EarliestTrip(route, index, t int) (tripInstance, bool) {
	trips := f.tt.Routes[route].Trips
	base := timetable.DayOffset(t)

	var best tripInstance
	bestDep, found := 0, false
	for d := max(f.first, base-1); d <= min(f.last, base+7); d++ {
		if found && d*timetable.Day >= bestDep && d != base {
			break
		}

		local := t - d*timetable.Day
		i := sort.Search(len(trips), func(i int) bool {
			return f.tt.StopTime(trips[i], index).Departure >= local
		})
		for i < len(trips) && !f.tt.TripAvailable(trips[i], f.weekday, d) {
			i++
		}
		if i == len(trips) {
			continue
		}

		inst := tripInstance{trip: trips[i], day: d}
		dep := f.departure(inst, index)
		if !found || dep < bestDep || (dep == bestDep && d == base) {
			best, bestDep, found = inst, dep, true
		}
	}

	return best, found
}

// TripsOfInterval returns the trips of route arriving at the stop at
// index between from and to inclusive, ordered by arrival.
func (f *tripFinder) TripsOfInterval(route, index, from, to int) []tripInstance {
	if from > to {
		return nil
	}

	trips := f.tt.Routes[route].Trips
	out := []tripInstance{}
	for d := f.first; d <= f.last; d++ {
		lo, hi := from-d*timetable.Day, to-d*timetable.Day
		i := sort.Search(len(trips), func(i int) bool {
			return f.tt.StopTime(trips[i], index).Arrival >= lo
		})
		for ; i < len(trips) && f.tt.StopTime(trips[i], index).Arrival <= hi; i++ {
			if f.tt.TripAvailable(trips[i], f.weekday, d) {
				out = append(out, tripInstance{trip: trips[i], day: d})
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return f.arrival(out[a], index) < f.arrival(out[b], index)
	})
	return out
}
