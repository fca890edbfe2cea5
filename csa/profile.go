package csa

import (
	"context"
	"fmt"
	"time"

	"tidbyt.dev/transit/timetable"
	"tidbyt.dev/transit/util"
)

type ProfileQuery struct {
	Sources []int
	Targets []int

	// Earliest departure, seconds past midnight of the query date.
	Time int

	// Connections departing after Horizon are ignored.
	Horizon int

	Weekday time.Weekday
	MaxDays int
}

// ProfileEntry is one Pareto optimal journey departing Stop.
type ProfileEntry struct {
	Stop      int
	Departure int
	Arrival   int
}

type ProfileResult struct {
	// Pareto optimal entries over all sources, latest departure
	// first.
	Entries []ProfileEntry

	tt       *timetable.Timetable
	profiles []util.Front[profileEntry]
	isTarget []bool
}

// The first ride of a journey is on the trip of enter until exit, on
// service day day. walk and exitWalk are footpaths before boarding
// and after alighting, or -1.
type profileEntry struct {
	dep      int
	arr      int
	walk     int
	enter    int
	exit     int
	day      int
	exitWalk int
}

func (e profileEntry) Departure() int { return e.dep }

func (e profileEntry) Covers(o profileEntry) bool { return e.arr <= o.arr }

var profileSentinel = profileEntry{dep: infinity, arr: infinity, walk: -1, exitWalk: -1}

type tripBest struct {
	arr      int
	exit     int
	exitWalk int
	day      int
}

// Profile computes, for every stop, the Pareto set of departure and
// arrival times towards the targets, by scanning connections
// backwards from the horizon.
func Profile(ctx context.Context, tt *timetable.Timetable, q ProfileQuery) (*ProfileResult, error) {
	if err := checkStops(tt, q.Sources, q.Targets); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	isTarget := stopSet(len(tt.Stops), q.Targets)
	profiles := make([]util.Front[profileEntry], len(tt.Stops))
	for i := range profiles {
		profiles[i] = util.NewFront(profileSentinel)
	}
	trips := fill(len(tt.Trips), tripBest{arr: infinity, day: infinity})

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

		best := &trips[c.TripID]
		if best.day != day {
			*best = tripBest{arr: infinity, day: day}
		}

		// Alight here, towards the target or to transfer.
		stop := c.ArrivalStop
		offer := func(at, exitWalk int) {
			if at < best.arr {
				*best = tripBest{arr: at, exit: c.ID, exitWalk: exitWalk, day: day}
			}
		}
		if isTarget[stop] {
			offer(arr, -1)
		}
		for _, fp := range tt.FootpathsFrom(stop) {
			if isTarget[fp.ArrivalStop] {
				offer(arr+fp.Duration, fp.ID)
			}
		}
		f := &profiles[stop]
		offer(f.Entries[f.Lookup(arr)].arr, -1)
		for _, fp := range tt.FootpathsFrom(stop) {
			f := &profiles[fp.ArrivalStop]
			offer(f.Entries[f.Lookup(arr+fp.Duration)].arr, fp.ID)
		}

		if best.arr == infinity {
			continue
		}

		e := profileEntry{
			dep:      dep,
			arr:      best.arr,
			walk:     -1,
			enter:    c.ID,
			exit:     best.exit,
			day:      day,
			exitWalk: best.exitWalk,
		}
		profiles[c.DepartureStop].Insert(e)
		for _, fp := range tt.FootpathsTo(c.DepartureStop) {
			w := e
			w.dep = dep - fp.Duration
			w.walk = fp.ID
			profiles[fp.DepartureStop].Insert(w)
		}
	}

	res := &ProfileResult{tt: tt, profiles: profiles, isTarget: isTarget}

	merged := util.NewFront(profileSentinel)
	stopOf := map[profileEntry]int{}
	for _, s := range q.Sources {
		for _, e := range profiles[s].Entries[1:] {
			if e.dep >= q.Time && merged.Insert(e) {
				stopOf[e] = s
			}
		}
	}
	for _, e := range merged.Entries[1:] {
		res.Entries = append(res.Entries, ProfileEntry{
			Stop:      stopOf[e],
			Departure: e.dep,
			Arrival:   e.arr,
		})
	}

	return res, nil
}

// Profile returns the entries retained at a stop, latest departure
// first.
func (r *ProfileResult) Profile(stop int) []ProfileEntry {
	entries := []ProfileEntry{}
	for _, e := range r.profiles[stop].Entries[1:] {
		entries = append(entries, ProfileEntry{Stop: stop, Departure: e.dep, Arrival: e.arr})
	}
	return entries
}

// Journey reconstructs the journey behind an entry.
func (r *ProfileResult) Journey(entry ProfileEntry) (*timetable.Journey, error) {
	f := &r.profiles[entry.Stop]
	idx := f.Lookup(entry.Departure)
	if idx == 0 || f.Entries[idx].dep != entry.Departure {
		return nil, fmt.Errorf("no profile entry at stop %d departing %d", entry.Stop, entry.Departure)
	}

	tt := r.tt
	cur := f.Entries[idx]
	stop := entry.Stop
	legs := []timetable.Leg{}

	for steps := 0; ; steps++ {
		if steps > len(tt.Trips)+1 {
			return nil, fmt.Errorf("reconstructing profile journey: too many legs")
		}

		if cur.walk >= 0 {
			fp := tt.Footpaths[cur.walk]
			legs = append(legs, walkLeg(fp, cur.dep))
			stop = fp.ArrivalStop
		}

		enter := &tt.Connections[cur.enter]
		exit := &tt.Connections[cur.exit]
		if enter.DepartureStop != stop || enter.TripID != exit.TripID {
			return nil, fmt.Errorf("reconstructing profile journey: inconsistent entry at stop %d", stop)
		}
		dep, _ := absolute(enter, cur.day)
		_, arr := absolute(exit, cur.day)
		legs = append(legs, timetable.Leg{
			Type:          timetable.LegTrain,
			TripID:        enter.TripID,
			DepartureStop: enter.DepartureStop,
			ArrivalStop:   exit.ArrivalStop,
			DepartureTime: dep,
			ArrivalTime:   arr,
		})
		stop = exit.ArrivalStop
		t := arr

		if cur.exitWalk >= 0 {
			fp := tt.Footpaths[cur.exitWalk]
			legs = append(legs, walkLeg(fp, arr))
			stop = fp.ArrivalStop
			t = arr + fp.Duration
		}

		if r.isTarget[stop] {
			break
		}

		f := &r.profiles[stop]
		idx := f.Lookup(t)
		if idx == 0 {
			return nil, fmt.Errorf("reconstructing profile journey: dead end at stop %d", stop)
		}
		cur = f.Entries[idx]
	}

	return &timetable.Journey{Legs: legs, Start: entry.Departure}, nil
}

func walkLeg(fp timetable.Footpath, at int) timetable.Leg {
	return timetable.Leg{
		Type:          timetable.LegFootpath,
		TripID:        -1,
		DepartureStop: fp.DepartureStop,
		ArrivalStop:   fp.ArrivalStop,
		DepartureTime: at,
		ArrivalTime:   at + fp.Duration,
	}
}
