package raptor

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"tidbyt.dev/transit/decisiongraph"
	"tidbyt.dev/transit/reliability"
	"tidbyt.dev/transit/timetable"
	"tidbyt.dev/transit/util"
)

// TransferPenalty is the expected arrival time, in seconds, an extra
// trip must save to be worth taking.
const TransferPenalty = 120

// Upper bound on labels expanded when collecting decision graph edges.
const maxHarvest = 10000

type MEATQuery struct {
	Sources []int
	Targets []int

	// Earliest departure, seconds past midnight of the query date.
	Time int

	// Trips arriving after Horizon are ignored.
	Horizon int

	Weekday   time.Weekday
	MaxDays   int
	MaxRounds int
}

type MEATResult struct {
	Source    int
	Departure int
	Expected  float64

	// Arrival if no trip is delayed.
	Arrival int

	// Trips allowed in the chosen strategy.
	Round int

	// Rounds[k] is the minimum expected arrival taking at most k
	// trips, absent if the targets can't be reached that way.
	Rounds []util.Optional[float64]

	Edges []decisiongraph.Edge
}

type meatLabel struct {
	dep   int
	exp   float64
	arr   int
	round int

	// Footpath walked to the boarding stop, or -1.
	walk int

	inst   tripInstance
	route  int
	board  int
	alight int

	// If final, alighting reaches a target, walking exitWalk if it
	// isn't -1.
	final    bool
	exitWalk int
}

func (l meatLabel) Departure() int { return l.dep }

func (l meatLabel) Covers(o meatLabel) bool {
	return l.exp < o.exp || (l.exp == o.exp && l.round <= o.round)
}

var meatSentinel = meatLabel{dep: infinity, exp: math.Inf(1), arr: infinity, walk: -1, exitWalk: -1}

// Best known stop to get off a trip, found while scanning its route
// backward.
type alightOption struct {
	inst     tripInstance
	exp      float64
	arr      int
	alight   int
	final    bool
	exitWalk int
}

type targetWalk struct {
	ok       bool
	footpath int
	duration int
}

type meatSearch struct {
	tt    *timetable.Timetable
	trips *tripFinder
	rel   *reliability.Model
	q     MEATQuery

	// Earliest arrival at each stop. Nothing happens at a stop before
	// the traveller can be there.
	ea []int

	toTarget []targetWalk

	// hist[k] holds the labels of journeys taking at most k trips.
	// Rounds share fronts that didn't change.
	hist [][]util.Front[meatLabel]

	marked *util.BitSet
	queue  *routeQueue
}

// MEAT computes the minimum expected arrival time at the targets,
// running one round per trip taken backward from the targets. The
// result comes from the round with the fewest trips whose expected
// arrival is within TransferPenalty per trip of every later round.
func MEAT(ctx context.Context, tt *timetable.Timetable, rel *reliability.Model, q MEATQuery) (*MEATResult, error) {
	if err := checkStops(tt, q.Sources, q.Targets); err != nil {
		return nil, fmt.Errorf("meat: %w", err)
	}

	n := len(tt.Stops)
	isTarget := stopSet(n, q.Targets)
	for _, src := range q.Sources {
		if isTarget[src] {
			at := float64(q.Time)
			return &MEATResult{Source: src, Departure: q.Time, Expected: at, Arrival: q.Time, Rounds: []util.Optional[float64]{util.Some(at)}}, nil
		}
	}

	s := &meatSearch{
		tt: tt,
		trips: &tripFinder{
			tt:      tt,
			weekday: q.Weekday,
			first:   timetable.DayOffset(q.Time) - 1,
			last:    min(timetable.DayOffset(q.Horizon), maxDays(q.MaxDays)),
		},
		rel:      rel,
		q:        q,
		toTarget: make([]targetWalk, n),
		marked:   util.NewBitSet(n),
		queue:    newRouteQueue(len(tt.Routes)),
	}

	forward := newEarliestSearch(tt, s.trips, isTarget, false)
	if err := forward.run(ctx, q.Sources, q.Time, n+1); err != nil {
		return nil, err
	}
	s.ea = forward.best

	for stop := range tt.Stops {
		if isTarget[stop] {
			s.toTarget[stop] = targetWalk{ok: true, footpath: -1}
			continue
		}
		for _, fp := range tt.FootpathsFrom(stop) {
			tw := &s.toTarget[stop]
			if isTarget[fp.ArrivalStop] && (!tw.ok || fp.Duration < tw.duration) {
				*tw = targetWalk{ok: true, footpath: fp.ID, duration: fp.Duration}
			}
		}
	}

	rounds, err := s.run(ctx)
	if err != nil {
		return nil, err
	}

	k := TransferOptimalRound(rounds)
	if k < 0 {
		return nil, ErrNoConnection
	}

	var res *MEATResult
	var chosen meatLabel
	for _, src := range q.Sources {
		f := &s.hist[k][src]
		idx := f.Lookup(q.Time)
		if idx == 0 {
			continue
		}
		l := f.Entries[idx]
		if res == nil || l.exp < res.Expected {
			res = &MEATResult{Source: src, Departure: l.dep, Expected: l.exp, Arrival: l.arr}
			chosen = l
		}
	}
	if res == nil {
		return nil, fmt.Errorf("meat: round %d has no label at any source", k)
	}

	res.Round = k
	res.Rounds = make([]util.Optional[float64], len(rounds))
	for i, exp := range rounds {
		if !math.IsInf(exp, 1) {
			res.Rounds[i] = util.Some(exp)
		}
	}
	res.Edges = s.harvest(res.Source, chosen)
	return res, nil
}

// TransferOptimalRound returns the smallest k such that no later
// round improves on round k's expected arrival by more than
// TransferPenalty per extra trip, or -1 if every round is +Inf.
func TransferOptimalRound(rounds []float64) int {
	for k, exp := range rounds {
		if math.IsInf(exp, 1) {
			continue
		}
		ok := true
		for j := k + 1; j < len(rounds); j++ {
			if exp-rounds[j] > float64(TransferPenalty*(j-k)) {
				ok = false
				break
			}
		}
		if ok {
			return k
		}
	}
	return -1
}

// Runs rounds until no stop improves, returning the expected arrival
// at the sources after each.
func (s *meatSearch) run(ctx context.Context) ([]float64, error) {
	tt := s.tt
	n := len(tt.Stops)

	empty := make([]util.Front[meatLabel], n)
	for i := range empty {
		empty[i] = util.NewFront(meatSentinel)
	}
	s.hist = [][]util.Front[meatLabel]{empty}
	rounds := []float64{math.Inf(1)}

	for stop := range tt.Stops {
		if s.toTarget[stop].ok {
			for _, rs := range tt.RoutesServing(stop) {
				s.queue.Add(rs.Route, rs.Index, true)
			}
		}
	}

	type walkFrom struct {
		stop  int
		label meatLabel
	}
	walks := []walkFrom{}

	for k := 1; k <= maxRounds(s.q.MaxRounds); k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, stop := range s.marked.Items() {
			for _, rs := range tt.RoutesServing(stop) {
				s.queue.Add(rs.Route, rs.Index, true)
			}
		}
		s.marked.Clear()

		cur := make([]util.Front[meatLabel], n)
		created := util.NewBitSet(n)
		s.queue.Drain(func(route, start int) {
			s.scanRoute(k, route, start, cur, created)
		})

		// Walks lead to trip labels only.
		walks = walks[:0]
		for _, stop := range created.Items() {
			for _, l := range cur[stop].Entries[1:] {
				if l.walk == -1 {
					walks = append(walks, walkFrom{stop, l})
				}
			}
		}
		for _, w := range walks {
			for _, fp := range tt.FootpathsTo(w.stop) {
				l := w.label
				l.dep -= fp.Duration
				l.walk = fp.ID
				if l.dep >= s.q.Time && l.dep >= s.ea[fp.DepartureStop] {
					s.add(cur, created, fp.DepartureStop, l)
				}
			}
		}

		prev := s.hist[k-1]
		next := slices.Clone(prev)
		for _, stop := range created.Items() {
			f := prev[stop].Clone()
			improved := false
			for _, l := range cur[stop].Entries[1:] {
				if f.Insert(l) {
					improved = true
				}
			}
			next[stop] = f
			if improved {
				s.marked.Set(stop)
			}
		}
		s.hist = append(s.hist, next)
		rounds = append(rounds, s.sourceExpectation(next))

		if s.marked.Len() == 0 {
			break
		}
	}

	return rounds, nil
}

func (s *meatSearch) add(cur []util.Front[meatLabel], created *util.BitSet, stop int, l meatLabel) {
	if cur[stop].Entries == nil {
		cur[stop] = util.NewFront(meatSentinel)
	}
	if cur[stop].Insert(l) {
		created.Set(stop)
	}
}

func (s *meatSearch) sourceExpectation(fronts []util.Front[meatLabel]) float64 {
	best := math.Inf(1)
	for _, src := range s.q.Sources {
		f := &fronts[src]
		if idx := f.Lookup(s.q.Time); idx > 0 {
			best = math.Min(best, f.Entries[idx].exp)
		}
	}
	return best
}

// Scans route backward from start. Each trip remembers the best stop
// to get off seen so far, which becomes a label at every stop it can
// be boarded at.
func (s *meatSearch) scanRoute(k, route, start int, cur []util.Front[meatLabel], created *util.BitSet) {
	tt := s.tt
	r := &tt.Routes[route]
	prev := s.hist[k-1]

	bag := []alightOption{}
	index := map[tripInstance]int{}
	offer := func(o alightOption) {
		i, found := index[o.inst]
		if !found {
			index[o.inst] = len(bag)
			bag = append(bag, o)
			return
		}
		if o.exp < bag[i].exp || (o.exp == bag[i].exp && o.arr < bag[i].arr) {
			bag[i] = o
		}
	}

	for i := start; i >= 0; i-- {
		stop := r.Stops[i]

		for _, o := range bag {
			dep := s.trips.departure(o.inst, i)
			if dep < s.q.Time || dep < s.ea[stop] {
				continue
			}
			s.add(cur, created, stop, meatLabel{
				dep:      dep,
				exp:      o.exp,
				arr:      o.arr,
				round:    k,
				walk:     -1,
				inst:     o.inst,
				route:    route,
				board:    i,
				alight:   o.alight,
				final:    o.final,
				exitWalk: o.exitWalk,
			})
		}

		if i == 0 {
			break
		}

		if tw := s.toTarget[stop]; tw.ok {
			for _, inst := range s.trips.TripsOfInterval(route, i, s.ea[stop], s.q.Horizon) {
				arr := s.trips.arrival(inst, i) + tw.duration
				offer(alightOption{
					inst:     inst,
					exp:      float64(arr) + s.rel.ExpectedValue(tt.Trips[inst.trip].LongDistance),
					arr:      arr,
					alight:   i,
					final:    true,
					exitWalk: tw.footpath,
				})
			}
		}

		f := &prev[stop]
		if f.Len() == 0 {
			continue
		}
		latest := f.Entries[1].dep
		for _, inst := range s.trips.TripsOfInterval(route, i, s.ea[stop], latest) {
			exp, arr := s.expect(f, s.trips.arrival(inst, i), tt.Trips[inst.trip].LongDistance)
			if math.IsInf(exp, 1) {
				continue
			}
			offer(alightOption{inst: inst, exp: exp, arr: arr, alight: i, exitWalk: -1})
		}
	}
}

// Expected arrival after getting off a trip at time a, taking the
// first label of f departing after the trip's actual arrival, and
// the arrival if the trip is on time.
func (s *meatSearch) expect(f *util.Front[meatLabel], a int, long bool) (float64, int) {
	idx := f.Lookup(a)
	if idx == 0 {
		return math.Inf(1), infinity
	}

	maxDelay := s.rel.MaxDelay(long)
	exp := 0.0
	prev := -1
	for i := idx; i > 0; i-- {
		l := f.Entries[i]
		slack := l.dep - a
		if p := s.rel.ProbabilityOfInterval(prev, slack, long); p > 0 {
			exp += p * l.exp
		}
		if slack >= maxDelay {
			return exp, f.Entries[idx].arr
		}
		prev = slack
	}

	if s.rel.CDF(prev, long) < 1 {
		return math.Inf(1), infinity
	}
	return exp, f.Entries[idx].arr
}

type harvestItem struct {
	stop  int
	label meatLabel
}

// Collects every ride and walk the traveller may take when following
// the chosen label.
func (s *meatSearch) harvest(source int, start meatLabel) []decisiongraph.Edge {
	tt := s.tt
	edges := []decisiongraph.Edge{}
	seen := map[[2]int]bool{{source, start.dep}: true}
	pq := util.NewPriorityQueue[harvestItem, int](64)
	pq.Enqueue(harvestItem{source, start}, start.dep)

	for n := 0; n < maxHarvest; n++ {
		item, ok := pq.Dequeue()
		if !ok {
			break
		}
		l := item.label
		r := &tt.Routes[l.route]

		if l.walk >= 0 {
			edges = append(edges, footpathEdge(tt.Footpaths[l.walk], l.dep))
		}

		arr := s.trips.arrival(l.inst, l.alight)
		edges = append(edges, decisiongraph.Edge{
			DepartureStop: r.Stops[l.board],
			ArrivalStop:   r.Stops[l.alight],
			DepartureTime: s.trips.departure(l.inst, l.board),
			ArrivalTime:   arr,
			Type:          decisiongraph.Train,
			TripID:        l.inst.trip,
		})

		if l.final {
			if l.exitWalk >= 0 {
				edges = append(edges, footpathEdge(tt.Footpaths[l.exitWalk], arr))
			}
			continue
		}

		long := tt.Trips[l.inst.trip].LongDistance
		maxDelay := s.rel.MaxDelay(long)
		next := r.Stops[l.alight]
		f := &s.hist[l.round-1][next]
		prev := -1
		for i := f.Lookup(arr); i > 0; i-- {
			succ := f.Entries[i]
			slack := succ.dep - arr
			if s.rel.ProbabilityOfInterval(prev, slack, long) > 0 {
				key := [2]int{next, succ.dep}
				if !seen[key] {
					seen[key] = true
					pq.Enqueue(harvestItem{next, succ}, succ.dep)
				}
			}
			if slack >= maxDelay {
				break
			}
			prev = slack
		}
	}

	return edges
}

func footpathEdge(fp timetable.Footpath, at int) decisiongraph.Edge {
	return decisiongraph.Edge{
		DepartureStop: fp.DepartureStop,
		ArrivalStop:   fp.ArrivalStop,
		DepartureTime: at,
		ArrivalTime:   at + fp.Duration,
		Type:          decisiongraph.Footpath,
		TripID:        -1,
	}
}
