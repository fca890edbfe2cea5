package raptor

import (
	"context"
	"fmt"
	"slices"

	"tidbyt.dev/transit/timetable"
	"tidbyt.dev/transit/util"
)

type pointerKind int8

const (
	pointerNone pointerKind = iota
	pointerSource
	pointerTrip
	pointerFootpath
)

// How a stop was reached in a round. A stop without a pointer in a
// round kept its arrival from an earlier round.
type pointer struct {
	kind     pointerKind
	inst     tripInstance
	route    int
	board    int
	alight   int
	footpath int
}

// Per query state of an earliest arrival search.
type earliestSearch struct {
	tt       *timetable.Timetable
	trips    *tripFinder
	isTarget []bool

	// Drop arrivals later than the best known target arrival.
	prune bool

	arrivals [][]int
	best     []int

	// Per round, how stops were reached by trip and then on foot.
	// Walks start from trip arrivals, so a walk never replaces the
	// trip pointer it starts from.
	parents [][]pointer
	walks   [][]pointer

	target   int

	marked *util.BitSet
	queue  *routeQueue
}

func newEarliestSearch(tt *timetable.Timetable, trips *tripFinder, isTarget []bool, prune bool) *earliestSearch {
	return &earliestSearch{
		tt:       tt,
		trips:    trips,
		isTarget: isTarget,
		prune:    prune,
		best:     fill(len(tt.Stops), infinity),
		target:   infinity,
		marked:   util.NewBitSet(len(tt.Stops)),
		queue:    newRouteQueue(len(tt.Routes)),
	}
}

// EarliestArrival finds the journey reaching a target first, using
// at most MaxRounds trips.
func EarliestArrival(ctx context.Context, tt *timetable.Timetable, q Query) (*timetable.Journey, error) {
	if err := checkStops(tt, q.Sources, q.Targets); err != nil {
		return nil, fmt.Errorf("earliest arrival: %w", err)
	}

	isTarget := stopSet(len(tt.Stops), q.Targets)
	for _, s := range q.Sources {
		if isTarget[s] {
			return &timetable.Journey{Start: q.Time}, nil
		}
	}

	trips := &tripFinder{
		tt:      tt,
		weekday: q.Weekday,
		first:   timetable.DayOffset(q.Time) - 1,
		last:    maxDays(q.MaxDays),
	}
	s := newEarliestSearch(tt, trips, isTarget, true)
	if err := s.run(ctx, q.Sources, q.Time, maxRounds(q.MaxRounds)); err != nil {
		return nil, err
	}
	if s.target == infinity {
		return nil, ErrNoConnection
	}

	for k := range s.arrivals {
		for _, t := range q.Targets {
			if s.arrivals[k][t] == s.target {
				return s.journey(k, t, q.Time)
			}
		}
	}
	return nil, fmt.Errorf("earliest arrival: target arrival %d not found in any round", s.target)
}

func (s *earliestSearch) bound(stop int) int {
	if s.prune {
		return min(s.best[stop], s.target)
	}
	return s.best[stop]
}

func (s *earliestSearch) reach(k, stop, t int, p pointer) {
	s.arrivals[k][stop] = t
	if p.kind == pointerFootpath {
		s.walks[k][stop] = p
	} else {
		s.parents[k][stop] = p
		s.walks[k][stop] = pointer{}
	}
	s.best[stop] = t
	s.marked.Set(stop)
	if s.isTarget[stop] && t < s.target {
		s.target = t
	}
}

// Runs rounds until no stop improves or rounds trips have been
// taken.
func (s *earliestSearch) run(ctx context.Context, sources []int, at int, rounds int) error {
	n := len(s.tt.Stops)
	s.arrivals = [][]int{fill(n, infinity)}
	s.parents = [][]pointer{make([]pointer, n)}
	s.walks = [][]pointer{make([]pointer, n)}

	for _, src := range sources {
		s.reach(0, src, at, pointer{kind: pointerSource})
	}
	for _, src := range sources {
		for _, fp := range s.tt.FootpathsFrom(src) {
			if t := at + fp.Duration; t < s.bound(fp.ArrivalStop) {
				s.reach(0, fp.ArrivalStop, t, pointer{kind: pointerFootpath, footpath: fp.ID})
			}
		}
	}

	type reached struct{ stop, at int }
	walks := []reached{}

	for k := 1; k <= rounds && s.marked.Len() > 0; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.arrivals = append(s.arrivals, slices.Clone(s.arrivals[k-1]))
		s.parents = append(s.parents, make([]pointer, n))
		s.walks = append(s.walks, make([]pointer, n))

		for _, stop := range s.marked.Items() {
			for _, rs := range s.tt.RoutesServing(stop) {
				s.queue.Add(rs.Route, rs.Index, false)
			}
		}
		s.marked.Clear()

		s.queue.Drain(func(route, start int) {
			s.scanRoute(k, route, start)
		})

		// Walks start from trip arrivals only.
		walks = walks[:0]
		for _, stop := range s.marked.Items() {
			walks = append(walks, reached{stop, s.arrivals[k][stop]})
		}
		for _, w := range walks {
			for _, fp := range s.tt.FootpathsFrom(w.stop) {
				if t := w.at + fp.Duration; t < s.bound(fp.ArrivalStop) {
					s.reach(k, fp.ArrivalStop, t, pointer{kind: pointerFootpath, footpath: fp.ID})
				}
			}
		}
	}

	return nil
}

func (s *earliestSearch) scanRoute(k, route, start int) {
	r := &s.tt.Routes[route]
	prev := s.arrivals[k-1]

	var inst tripInstance
	riding := false
	board := 0
	for i := start; i < len(r.Stops); i++ {
		stop := r.Stops[i]

		if riding {
			if t := s.trips.arrival(inst, i); t < s.bound(stop) {
				s.reach(k, stop, t, pointer{
					kind:   pointerTrip,
					inst:   inst,
					route:  route,
					board:  board,
					alight: i,
				})
			}
		}

		if i == len(r.Stops)-1 || prev[stop] == infinity {
			continue
		}
		if riding && prev[stop] > s.trips.departure(inst, i) {
			continue
		}
		next, ok := s.trips.EarliestTrip(route, i, prev[stop])
		if ok && (!riding || s.trips.departure(next, i) < s.trips.departure(inst, i)) {
			inst, board, riding = next, i, true
		}
	}
}

// Follows pointers back from stop as reached in round k.
func (s *earliestSearch) journey(k, stop, start int) (*timetable.Journey, error) {
	tt := s.tt
	legs := []timetable.Leg{}
	walked := false
	for steps := 0; ; steps++ {
		if steps > 2*len(tt.Stops) {
			return nil, fmt.Errorf("reconstructing journey: pointer cycle at stop %d", stop)
		}
		for k > 0 && s.parents[k][stop].kind == pointerNone && s.walks[k][stop].kind == pointerNone {
			k--
		}

		// A walk starts where the same round's trip or the source
		// left off.
		p := s.parents[k][stop]
		if !walked && s.walks[k][stop].kind == pointerFootpath {
			p = s.walks[k][stop]
		}
		walked = p.kind == pointerFootpath

		switch p.kind {
		case pointerSource:
			slices.Reverse(legs)
			return &timetable.Journey{Legs: legs, Start: start}, nil

		case pointerTrip:
			from := tt.Routes[p.route].Stops[p.board]
			legs = append(legs, timetable.Leg{
				Type:          timetable.LegTrain,
				TripID:        p.inst.trip,
				DepartureStop: from,
				ArrivalStop:   stop,
				DepartureTime: s.trips.departure(p.inst, p.board),
				ArrivalTime:   s.trips.arrival(p.inst, p.alight),
			})
			stop = from
			k--

		case pointerFootpath:
			fp := tt.Footpaths[p.footpath]
			at := s.arrivals[k][stop]
			legs = append(legs, timetable.Leg{
				Type:          timetable.LegFootpath,
				TripID:        -1,
				DepartureStop: fp.DepartureStop,
				ArrivalStop:   fp.ArrivalStop,
				DepartureTime: at - fp.Duration,
				ArrivalTime:   at,
			})
			stop = fp.DepartureStop

		default:
			return nil, fmt.Errorf("reconstructing journey: stop %d has no pointer in round %d", stop, k)
		}
	}
}

