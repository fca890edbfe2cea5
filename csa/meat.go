package csa

import (
	"context"
	"fmt"
	"math"
	"time"

	"tidbyt.dev/transit/decisiongraph"
	"tidbyt.dev/transit/reliability"
	"tidbyt.dev/transit/timetable"
	"tidbyt.dev/transit/util"
)

// Upper bound on profile entries expanded when collecting decision
// graph edges.
const maxHarvest = 10000

type MEATQuery struct {
	Sources []int
	Targets []int

	// Earliest departure, seconds past midnight of the query date.
	Time int

	// Connections arriving after Horizon are ignored.
	Horizon int

	Weekday time.Weekday
	MaxDays int
}

type MEATResult struct {
	Source    int
	Departure int

	// Expected arrival in seconds past midnight of the query date.
	Expected float64

	// Arrival if no trip is delayed.
	Arrival int

	// Every ride and walk the traveller may take.
	Edges []decisiongraph.Edge
}

// Like profileEntry, with exp the expected arrival at the target. If
// final, the target is reached after exit and exitWalk.
type meatEntry struct {
	dep      int
	exp      float64
	arr      int
	walk     int
	enter    int
	exit     int
	day      int
	exitWalk int
	final    bool
}

func (e meatEntry) Departure() int { return e.dep }

func (e meatEntry) Covers(o meatEntry) bool {
	return e.exp < o.exp || (e.exp == o.exp && e.arr <= o.arr)
}

var meatSentinel = meatEntry{dep: infinity, exp: math.Inf(1), arr: infinity, walk: -1, exitWalk: -1}

type tripExpectation struct {
	exp      float64
	arr      int
	exit     int
	exitWalk int
	final    bool
	day      int
}

type meatSearch struct {
	tt       *timetable.Timetable
	rel      *reliability.Model
	profiles []util.Front[meatEntry]
	isTarget []bool
}

// MEAT computes the minimum expected arrival time at the targets when
// trips are delayed according to rel, and the traveller picks the
// best onward connection after each arrival.
func MEAT(ctx context.Context, tt *timetable.Timetable, rel *reliability.Model, q MEATQuery) (*MEATResult, error) {
	if err := checkStops(tt, q.Sources, q.Targets); err != nil {
		return nil, fmt.Errorf("meat: %w", err)
	}

	for _, src := range q.Sources {
		for _, t := range q.Targets {
			if src == t {
				at := float64(q.Time)
				return &MEATResult{Source: src, Departure: q.Time, Expected: at, Arrival: q.Time}, nil
			}
		}
	}

	s := &meatSearch{
		tt:       tt,
		rel:      rel,
		profiles: make([]util.Front[meatEntry], len(tt.Stops)),
		isTarget: stopSet(len(tt.Stops), q.Targets),
	}
	for i := range s.profiles {
		s.profiles[i] = util.NewFront(meatSentinel)
	}
	trips := fill(len(tt.Trips), tripExpectation{exp: math.Inf(1), arr: infinity, day: infinity})

	maxDays := q.MaxDays
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}
	last := min(timetable.DayOffset(q.Horizon), maxDays)
	sc := newBackwardScanner(tt, q.Weekday, q.Horizon, timetable.DayOffset(q.Time)-1, last)

	for n := 0; ; n++ {
		if err := canceled(ctx, n); err != nil {
			return nil, err
		}

		c, day, ok := sc.Next()
		if !ok {
			break
		}
		dep, arr := absolute(c, day)
		if dep < q.Time {
			break
		}
		if arr > q.Horizon {
			continue
		}

		best := &trips[c.TripID]
		if best.day != day {
			*best = tripExpectation{exp: math.Inf(1), arr: infinity, day: day}
		}

		long := tt.Trips[c.TripID].LongDistance
		stop := c.ArrivalStop
		offer := func(exp float64, at, exitWalk int, final bool) {
			if exp < best.exp || (exp == best.exp && at < best.arr) {
				*best = tripExpectation{exp: exp, arr: at, exit: c.ID, exitWalk: exitWalk, final: final, day: day}
			}
		}

		delay := rel.ExpectedValue(long)
		if s.isTarget[stop] {
			offer(float64(arr)+delay, arr, -1, true)
		}
		for _, fp := range tt.FootpathsFrom(stop) {
			if s.isTarget[fp.ArrivalStop] {
				offer(float64(arr+fp.Duration)+delay, arr+fp.Duration, fp.ID, true)
			}
		}
		// Transfers walking elsewhere are entries of stop's profile.
		exp, at := s.expect(stop, arr, long)
		offer(exp, at, -1, false)

		if math.IsInf(best.exp, 1) {
			continue
		}

		e := meatEntry{
			dep:      dep,
			exp:      best.exp,
			arr:      best.arr,
			walk:     -1,
			enter:    c.ID,
			exit:     best.exit,
			day:      day,
			exitWalk: best.exitWalk,
			final:    best.final,
		}
		s.profiles[c.DepartureStop].Insert(e)
		for _, fp := range tt.FootpathsTo(c.DepartureStop) {
			w := e
			w.dep = dep - fp.Duration
			w.walk = fp.ID
			s.profiles[fp.DepartureStop].Insert(w)
		}
	}

	var res *MEATResult
	var chosen meatEntry
	for _, src := range q.Sources {
		f := &s.profiles[src]
		idx := f.Lookup(q.Time)
		if idx == 0 {
			continue
		}
		e := f.Entries[idx]
		if res == nil || e.exp < res.Expected {
			res = &MEATResult{Source: src, Departure: e.dep, Expected: e.exp, Arrival: e.arr}
			chosen = e
		}
	}
	if res == nil {
		return nil, ErrNoConnection
	}

	res.Edges = s.harvest(res.Source, chosen)
	return res, nil
}

// Expected arrival when getting off a trip at stop at time a, and
// the arrival when the trip is on time. The traveller takes the first
// entry departing after the trip's actual arrival.
func (s *meatSearch) expect(stop, a int, long bool) (float64, int) {
	f := &s.profiles[stop]
	idx := f.Lookup(a)
	if idx == 0 {
		return math.Inf(1), infinity
	}

	maxDelay := s.rel.MaxDelay(long)
	exp := 0.0
	prev := -1
	for i := idx; i > 0; i-- {
		e := f.Entries[i]
		slack := e.dep - a
		if p := s.rel.ProbabilityOfInterval(prev, slack, long); p > 0 {
			exp += p * e.exp
		}
		if slack >= maxDelay {
			return exp, f.Entries[idx].arr
		}
		prev = slack
	}

	// The remaining probability mass has no onward connection.
	if s.rel.CDF(prev, long) < 1 {
		return math.Inf(1), infinity
	}
	return exp, f.Entries[idx].arr
}

type harvestItem struct {
	stop  int
	entry meatEntry
}

// Collects every ride and walk reachable from the chosen entry when
// following the expected value strategy.
func (s *meatSearch) harvest(source int, start meatEntry) []decisiongraph.Edge {
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
		e := item.entry

		if e.walk >= 0 {
			fp := tt.Footpaths[e.walk]
			edges = append(edges, footpathEdge(fp, e.dep))
		}

		enter := &tt.Connections[e.enter]
		exit := &tt.Connections[e.exit]
		dep, _ := absolute(enter, e.day)
		_, arr := absolute(exit, e.day)
		edges = append(edges, decisiongraph.Edge{
			DepartureStop: enter.DepartureStop,
			ArrivalStop:   exit.ArrivalStop,
			DepartureTime: dep,
			ArrivalTime:   arr,
			Type:          decisiongraph.Train,
			TripID:        enter.TripID,
		})

		next, w := exit.ArrivalStop, 0
		if e.exitWalk >= 0 {
			fp := tt.Footpaths[e.exitWalk]
			edges = append(edges, footpathEdge(fp, arr))
			next, w = fp.ArrivalStop, fp.Duration
		}
		if e.final {
			continue
		}

		long := tt.Trips[exit.TripID].LongDistance
		maxDelay := s.rel.MaxDelay(long)
		f := &s.profiles[next]
		prev := -1
		for i := f.Lookup(arr + w); i > 0; i-- {
			succ := f.Entries[i]
			slack := succ.dep - arr - w
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
