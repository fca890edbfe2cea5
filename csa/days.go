package csa

import (
	"time"

	"tidbyt.dev/transit/timetable"
)

// A trip running past midnight shows up in the connections of two
// calendar days, so a scan over several days merges one cursor per
// service day.
type dayCursor struct {
	day  int
	next int
}

// scanner yields connections of several service days ordered by
// absolute departure time. Connections of trips not running on their
// service day are skipped.
type scanner struct {
	tt       *timetable.Timetable
	weekday  time.Weekday
	cursors  []dayCursor
	backward bool
}

// Scans connections departing at or after from, for service days
// first through last relative to the query date.
func newForwardScanner(tt *timetable.Timetable, weekday time.Weekday, from, first, last int) *scanner {
	s := &scanner{tt: tt, weekday: weekday}
	for d := first; d <= last; d++ {
		s.cursors = append(s.cursors, dayCursor{
			day:  d,
			next: tt.FirstConnectionAt(from - d*timetable.Day),
		})
	}
	return s
}

// Scans connections departing at or before to, latest first.
func newBackwardScanner(tt *timetable.Timetable, weekday time.Weekday, to, first, last int) *scanner {
	s := &scanner{tt: tt, weekday: weekday, backward: true}
	for d := last; d >= first; d-- {
		s.cursors = append(s.cursors, dayCursor{
			day:  d,
			next: tt.FirstConnectionAt(to-d*timetable.Day+1) - 1,
		})
	}
	return s
}

// Next returns the next connection and its service day.
func (s *scanner) Next() (*timetable.Connection, int, bool) {
	for {
		best := -1
		var bestDep, bestArr int
		for i, cur := range s.cursors {
			if cur.next < 0 || cur.next >= len(s.tt.Connections) {
				continue
			}
			c := &s.tt.Connections[cur.next]
			dep, arr := absolute(c, cur.day)
			if best == -1 || s.before(dep, arr, bestDep, bestArr) {
				best, bestDep, bestArr = i, dep, arr
			}
		}
		if best == -1 {
			return nil, 0, false
		}

		cur := &s.cursors[best]
		c := &s.tt.Connections[cur.next]
		if s.backward {
			cur.next--
		} else {
			cur.next++
		}

		if s.tt.TripAvailable(c.TripID, s.weekday, cur.day) {
			return c, cur.day, true
		}
	}
}

func (s *scanner) before(dep, arr, otherDep, otherArr int) bool {
	if s.backward {
		return dep > otherDep || (dep == otherDep && arr > otherArr)
	}
	return dep < otherDep || (dep == otherDep && arr < otherArr)
}
