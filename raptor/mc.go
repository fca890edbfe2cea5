package raptor

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"tidbyt.dev/transit/reliability"
	"tidbyt.dev/transit/timetable"
	"tidbyt.dev/transit/util"
)

// Option is a journey on the Pareto front of arrival time and
// reliability. Reliability is the probability that every transfer of
// the journey is caught.
type Option struct {
	Journey     *timetable.Journey
	Reliability float64
}

type mcLabel struct {
	stop int
	arr  int
	rel  float64

	// Set once a trip has been taken. Delays of the last trip decide
	// whether the next one is caught.
	rode bool
	long bool

	parent   int
	kind     pointerKind
	inst     tripInstance
	route    int
	board    int
	alight   int
	footpath int

	dead bool
}

func (l *mcLabel) dominates(o *mcLabel) bool {
	return l.arr <= o.arr && l.rel >= o.rel
}

// A trip boarded during a route scan.
type routeLabel struct {
	inst   tripInstance
	board  int
	parent int
	rel    float64
}

type mcSearch struct {
	tt       *timetable.Timetable
	trips    *tripFinder
	rel      *reliability.Model
	targets  []int
	isTarget []bool

	labels []mcLabel
	bags   [][]int

	// Labels created in the previous round and in this one.
	fresh [][]int
	next  [][]int

	marked *util.BitSet
	queue  *routeQueue
}

// MultiCriteria finds the journeys that are Pareto optimal in arrival
// time and reliability. A traveller may board the first trip after
// arriving at a stop, or any later trip departing within the maximum
// delay of the trip they arrived on.
func MultiCriteria(ctx context.Context, tt *timetable.Timetable, rel *reliability.Model, q Query) ([]Option, error) {
	if err := checkStops(tt, q.Sources, q.Targets); err != nil {
		return nil, fmt.Errorf("multi-criteria: %w", err)
	}

	isTarget := stopSet(len(tt.Stops), q.Targets)
	for _, s := range q.Sources {
		if isTarget[s] {
			return []Option{{Journey: &timetable.Journey{Start: q.Time}, Reliability: 1}}, nil
		}
	}

	n := len(tt.Stops)
	s := &mcSearch{
		tt: tt,
		trips: &tripFinder{
			tt:      tt,
			weekday: q.Weekday,
			first:   timetable.DayOffset(q.Time) - 1,
			last:    maxDays(q.MaxDays),
		},
		rel:      rel,
		targets:  q.Targets,
		isTarget: isTarget,
		bags:     make([][]int, n),
		fresh:    make([][]int, n),
		next:     make([][]int, n),
		marked:   util.NewBitSet(n),
		queue:    newRouteQueue(len(tt.Routes)),
	}

	if err := s.run(ctx, q.Sources, q.Time, maxRounds(q.MaxRounds)); err != nil {
		return nil, err
	}

	found := []int{}
	for _, t := range q.Targets {
		found = append(found, s.bags[t]...)
	}
	front := []int{}
	for _, id := range found {
		dominated := false
		for _, o := range found {
			if o != id && s.labels[o].dominates(&s.labels[id]) &&
				(s.labels[o].arr < s.labels[id].arr || s.labels[o].rel > s.labels[id].rel || o < id) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, id)
		}
	}
	if len(front) == 0 {
		return nil, ErrNoConnection
	}

	sort.Slice(front, func(a, b int) bool {
		la, lb := &s.labels[front[a]], &s.labels[front[b]]
		if la.arr != lb.arr {
			return la.arr < lb.arr
		}
		return la.rel > lb.rel
	})

	options := make([]Option, 0, len(front))
	for _, id := range front {
		j, err := s.journey(id, q.Time)
		if err != nil {
			return nil, err
		}
		options = append(options, Option{Journey: j, Reliability: s.labels[id].rel})
	}
	return options, nil
}

func (s *mcSearch) run(ctx context.Context, sources []int, at int, rounds int) error {
	for _, src := range sources {
		id := len(s.labels)
		if !s.insert(mcLabel{stop: src, arr: at, rel: 1, parent: -1, kind: pointerSource}) {
			continue
		}
		for _, fp := range s.tt.FootpathsFrom(src) {
			s.insert(mcLabel{
				stop:     fp.ArrivalStop,
				arr:      at + fp.Duration,
				rel:      1,
				parent:   id,
				kind:     pointerFootpath,
				footpath: fp.ID,
			})
		}
	}

	created := []int{}
	for k := 1; k <= rounds && s.marked.Len() > 0; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		stops := slices.Clone(s.marked.Items())
		s.marked.Clear()
		for _, stop := range stops {
			s.fresh[stop], s.next[stop] = s.next[stop], nil
			for _, rs := range s.tt.RoutesServing(stop) {
				s.queue.Add(rs.Route, rs.Index, false)
			}
		}

		s.queue.Drain(s.scanRoute)

		// Walks start from trip arrivals only.
		created = created[:0]
		for _, stop := range s.marked.Items() {
			created = append(created, s.next[stop]...)
		}
		for _, id := range created {
			l := s.labels[id]
			if l.dead {
				continue
			}
			for _, fp := range s.tt.FootpathsFrom(l.stop) {
				s.insert(mcLabel{
					stop:     fp.ArrivalStop,
					arr:      l.arr + fp.Duration,
					rel:      l.rel,
					rode:     l.rode,
					long:     l.long,
					parent:   id,
					kind:     pointerFootpath,
					footpath: fp.ID,
				})
			}
		}

		for _, stop := range stops {
			s.fresh[stop] = nil
		}
	}

	return nil
}

// Adds l to its stop's bag unless a label there or at a target
// dominates it.
func (s *mcSearch) insert(l mcLabel) bool {
	for _, t := range s.targets {
		for _, id := range s.bags[t] {
			if s.labels[id].dominates(&l) {
				return false
			}
		}
	}
	bag := s.bags[l.stop]
	if !s.isTarget[l.stop] {
		for _, id := range bag {
			if s.labels[id].dominates(&l) {
				return false
			}
		}
	}

	kept := bag[:0]
	for _, id := range bag {
		if l.dominates(&s.labels[id]) {
			s.labels[id].dead = true
		} else {
			kept = append(kept, id)
		}
	}

	id := len(s.labels)
	s.labels = append(s.labels, l)
	s.bags[l.stop] = append(kept, id)
	s.next[l.stop] = append(s.next[l.stop], id)
	s.marked.Set(l.stop)
	return true
}

func (s *mcSearch) scanRoute(route, start int) {
	r := &s.tt.Routes[route]
	bag := []routeLabel{}

	for i := start; i < len(r.Stops); i++ {
		stop := r.Stops[i]

		for _, rl := range bag {
			s.insert(mcLabel{
				stop:   stop,
				arr:    s.trips.arrival(rl.inst, i),
				rel:    rl.rel,
				rode:   true,
				long:   s.tt.Trips[rl.inst.trip].LongDistance,
				parent: rl.parent,
				kind:   pointerTrip,
				inst:   rl.inst,
				route:  route,
				board:  rl.board,
				alight: i,
			})
		}

		if i == len(r.Stops)-1 {
			break
		}
		for _, id := range s.fresh[stop] {
			if !s.labels[id].dead {
				bag = s.board(bag, route, i, id)
			}
		}
	}
}

// Adds the trips label id may board at index i of route to bag: the
// first departing trip, and later ones until one departs after the
// label's trip could possibly arrive.
func (s *mcSearch) board(bag []routeLabel, route, i, id int) []routeLabel {
	l := s.labels[id]
	limit := l.arr
	if l.rode {
		limit += s.rel.MaxDelay(l.long)
	}

	for t := l.arr; ; {
		inst, ok := s.trips.EarliestTrip(route, i, t)
		if !ok {
			break
		}
		dep := s.trips.departure(inst, i)

		p := l.rel
		if l.rode {
			p *= s.rel.CDF(dep-l.arr, l.long)
		}
		bag = s.addRouteLabel(bag, i, routeLabel{inst: inst, board: i, parent: id, rel: p})

		if dep >= limit {
			break
		}
		t = dep + 1
	}

	return bag
}

// Trips of a route never overtake, so a trip departing earlier at i
// arrives no later anywhere after i.
func (s *mcSearch) addRouteLabel(bag []routeLabel, i int, rl routeLabel) []routeLabel {
	dep := s.trips.departure(rl.inst, i)
	for _, o := range bag {
		if s.trips.departure(o.inst, i) <= dep && o.rel >= rl.rel {
			return bag
		}
	}

	kept := bag[:0]
	for _, o := range bag {
		if !(dep <= s.trips.departure(o.inst, i) && rl.rel >= o.rel) {
			kept = append(kept, o)
		}
	}
	return append(kept, rl)
}

func (s *mcSearch) journey(id, start int) (*timetable.Journey, error) {
	tt := s.tt
	legs := []timetable.Leg{}
	for steps := 0; ; steps++ {
		if id < 0 || steps > len(s.labels) {
			return nil, fmt.Errorf("reconstructing journey: broken label chain")
		}

		l := &s.labels[id]
		switch l.kind {
		case pointerSource:
			slices.Reverse(legs)
			return &timetable.Journey{Legs: legs, Start: start}, nil

		case pointerTrip:
			legs = append(legs, timetable.Leg{
				Type:          timetable.LegTrain,
				TripID:        l.inst.trip,
				DepartureStop: tt.Routes[l.route].Stops[l.board],
				ArrivalStop:   l.stop,
				DepartureTime: s.trips.departure(l.inst, l.board),
				ArrivalTime:   l.arr,
			})

		case pointerFootpath:
			fp := tt.Footpaths[l.footpath]
			legs = append(legs, timetable.Leg{
				Type:          timetable.LegFootpath,
				TripID:        -1,
				DepartureStop: fp.DepartureStop,
				ArrivalStop:   fp.ArrivalStop,
				DepartureTime: l.arr - fp.Duration,
				ArrivalTime:   l.arr,
			})

		default:
			return nil, fmt.Errorf("reconstructing journey: label %d has no pointer", id)
		}
		id = l.parent
	}
}
