package csa

import (
	"context"
	"fmt"

	"tidbyt.dev/transit/reliability"
	"tidbyt.dev/transit/timetable"
)

type pointerKind int8

const (
	pointerNone pointerKind = iota
	pointerSource
	pointerTrip
	pointerFootpath
)

// How a stop was reached. A trip pointer may end with a walk to a
// target, or -1.
type pointer struct {
	kind     pointerKind
	enter    int
	exit     int
	day      int
	footpath int
	walk     int
}

// EarliestArrival finds the journey reaching a target first.
func EarliestArrival(ctx context.Context, tt *timetable.Timetable, q Query) (*timetable.Journey, error) {
	return earliest(ctx, tt, q, func(int) int { return 0 })
}

// EarliestSafeArrival finds the earliest journey in which every
// transfer holds even if the incoming trip runs its maximum delay.
func EarliestSafeArrival(ctx context.Context, tt *timetable.Timetable, rel *reliability.Model, q Query) (*timetable.Journey, error) {
	return earliest(ctx, tt, q, func(trip int) int {
		return rel.MaxDelay(tt.Trips[trip].LongDistance)
	})
}

// Scans connections forward from the query time. slack is the time
// that must pass after arriving on a trip before another trip can be
// boarded.
func earliest(ctx context.Context, tt *timetable.Timetable, q Query, slack func(trip int) int) (*timetable.Journey, error) {
	if err := checkStops(tt, q.Sources, q.Targets); err != nil {
		return nil, fmt.Errorf("earliest arrival: %w", err)
	}

	isTarget := stopSet(len(tt.Stops), q.Targets)
	for _, s := range q.Sources {
		if isTarget[s] {
			return &timetable.Journey{Start: q.Time}, nil
		}
	}

	// ready is when a stop can be departed from, arrival is when it
	// was reached.
	ready := fill(len(tt.Stops), infinity)
	arrival := fill(len(tt.Stops), infinity)
	j := make([]pointer, len(tt.Stops))
	tripDay := fill(len(tt.Trips), infinity)
	tripEnter := make([]int, len(tt.Trips))
	best := infinity

	reach := func(stop, at, readyAt int, p pointer) {
		arrival[stop] = at
		ready[stop] = readyAt
		j[stop] = p
		if isTarget[stop] && at < best {
			best = at
		}
	}

	for _, s := range q.Sources {
		reach(s, q.Time, q.Time, pointer{kind: pointerSource})
	}
	for _, s := range q.Sources {
		for _, fp := range tt.FootpathsFrom(s) {
			t := q.Time + fp.Duration
			if t < arrival[fp.ArrivalStop] {
				reach(fp.ArrivalStop, t, t, pointer{kind: pointerFootpath, footpath: fp.ID})
			}
		}
	}

	first := timetable.DayOffset(q.Time) - 1
	sc := newForwardScanner(tt, q.Weekday, q.Time, first, q.maxDays())

	for n := 0; ; n++ {
		if err := canceled(ctx, n); err != nil {
			return nil, err
		}

		c, day, ok := sc.Next()
		if !ok {
			break
		}
		dep, arr := absolute(c, day)
		if dep >= best {
			break
		}

		if tripDay[c.TripID] != day {
			if ready[c.DepartureStop] > dep {
				continue
			}
			tripDay[c.TripID] = day
			tripEnter[c.TripID] = c.ID
		}

		if q.ApplyDelays {
			arr += tt.Trips[c.TripID].Delay
		}

		stop := c.ArrivalStop
		trip := pointer{
			kind:  pointerTrip,
			enter: tripEnter[c.TripID],
			exit:  c.ID,
			day:   day,
			walk:  -1,
		}

		// Walking to a target isn't a transfer, no slack needed.
		for _, fp := range tt.FootpathsFrom(stop) {
			if t := arr + fp.Duration; isTarget[fp.ArrivalStop] && t < arrival[fp.ArrivalStop] {
				p := trip
				p.walk = fp.ID
				reach(fp.ArrivalStop, t, t, p)
			}
		}

		var improved bool
		if isTarget[stop] {
			improved = arr < arrival[stop]
		} else {
			improved = arr+slack(c.TripID) < ready[stop]
		}
		if !improved {
			continue
		}

		readyAt := arr + slack(c.TripID)
		reach(stop, arr, readyAt, trip)

		for _, fp := range tt.FootpathsFrom(stop) {
			if isTarget[fp.ArrivalStop] {
				continue
			}
			if t := readyAt + fp.Duration; t < ready[fp.ArrivalStop] {
				reach(fp.ArrivalStop, t, t, pointer{kind: pointerFootpath, footpath: fp.ID})
			}
		}
	}

	if best == infinity {
		return nil, ErrNoConnection
	}

	target := -1
	for _, t := range q.Targets {
		if arrival[t] == best {
			target = t
			break
		}
	}

	return reconstruct(tt, q, j, arrival, target)
}

// Follows journey pointers back from target.
func reconstruct(tt *timetable.Timetable, q Query, j []pointer, arrival []int, target int) (*timetable.Journey, error) {
	legs := []timetable.Leg{}
	stop := target
	for steps := 0; j[stop].kind != pointerSource; steps++ {
		if steps > 2*len(tt.Stops) {
			return nil, fmt.Errorf("reconstructing journey: pointer cycle at stop %d", stop)
		}

		p := j[stop]
		switch p.kind {
		case pointerFootpath:
			fp := tt.Footpaths[p.footpath]
			legs = append(legs, timetable.Leg{
				Type:          timetable.LegFootpath,
				TripID:        -1,
				DepartureStop: fp.DepartureStop,
				ArrivalStop:   fp.ArrivalStop,
				DepartureTime: arrival[stop] - fp.Duration,
				ArrivalTime:   arrival[stop],
			})
			stop = fp.DepartureStop

		case pointerTrip:
			enter := &tt.Connections[p.enter]
			exit := &tt.Connections[p.exit]
			dep, _ := absolute(enter, p.day)
			_, arr := absolute(exit, p.day)
			if q.ApplyDelays {
				arr += tt.Trips[exit.TripID].Delay
			}
			if p.walk >= 0 {
				fp := tt.Footpaths[p.walk]
				legs = append(legs, timetable.Leg{
					Type:          timetable.LegFootpath,
					TripID:        -1,
					DepartureStop: fp.DepartureStop,
					ArrivalStop:   fp.ArrivalStop,
					DepartureTime: arr,
					ArrivalTime:   arr + fp.Duration,
				})
			}
			legs = append(legs, timetable.Leg{
				Type:          timetable.LegTrain,
				TripID:        enter.TripID,
				DepartureStop: enter.DepartureStop,
				ArrivalStop:   exit.ArrivalStop,
				DepartureTime: dep,
				ArrivalTime:   arr,
			})
			stop = enter.DepartureStop

		default:
			return nil, fmt.Errorf("reconstructing journey: stop %d has no pointer", stop)
		}
	}

	for i, k := 0, len(legs)-1; i < k; i, k = i+1, k-1 {
		legs[i], legs[k] = legs[k], legs[i]
	}
	return &timetable.Journey{Legs: legs, Start: q.Time}, nil
}
