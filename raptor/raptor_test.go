package raptor

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/csa"
	"tidbyt.dev/transit/testutil"
	"tidbyt.dev/transit/timetable"
)

func tripID(t *testing.T, tt *timetable.Timetable, code string) int {
	for _, trip := range tt.Trips {
		if trip.Code == code {
			return trip.ID
		}
	}
	require.Fail(t, "unknown trip", code)
	return -1
}

func TestEarliestTrip(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B"},
		Trips: []testutil.Trip{
			{ID: "morning", StopTimes: []string{"A 08:00:00", "B 08:30:00"}},
			{ID: "night", StopTimes: []string{"A 23:30:00", "B 23:55:00"}},
		},
	})
	route := tt.Trips[tripID(t, tt, "morning")].RouteID
	f := &tripFinder{tt: tt, weekday: time.Monday, first: -1, last: 2}

	for _, tc := range []struct {
		name string
		at   string
		trip string
		day  int
	}{
		{"same day", "07:00:00", "morning", 0},
		{"exact", "08:00:00", "morning", 0},
		{"evening", "12:00:00", "night", 0},
		{"next day", "23:40:00", "morning", 1},
		{"day after", "32:30:00", "night", 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			at, err := timetable.ParseClock(tc.at)
			require.NoError(t, err)
			inst, ok := f.EarliestTrip(route, 0, at)
			require.True(t, ok)
			assert.Equal(t, tripID(t, tt, tc.trip), inst.trip)
			assert.Equal(t, tc.day, inst.day)
		})
	}

	// Nothing after the last service day.
	_, ok := f.EarliestTrip(route, 0, 2*timetable.Day+23*3600+40*60)
	assert.False(t, ok)
}

func TestEarliestTripPrefersSameDay(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B"},
		Trips: []testutil.Trip{
			{ID: "early", StopTimes: []string{"A 00:00:00", "B 00:10:00"}},
			{ID: "late", StopTimes: []string{"A 24:00:00", "B 24:10:00"}},
		},
	})
	route := tt.Trips[tripID(t, tt, "early")].RouteID
	f := &tripFinder{tt: tt, weekday: time.Monday, first: -1, last: 2}

	inst, ok := f.EarliestTrip(route, 0, timetable.Day)
	require.True(t, ok)
	assert.Equal(t, tripInstance{trip: tripID(t, tt, "early"), day: 1}, inst)
}

func TestEarliestTripCalendar(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops:    []string{"A", "B"},
		Services: map[string][7]bool{"weekend": {true, false, false, false, false, false, true}},
		Trips: []testutil.Trip{
			{ID: "sat", Service: "weekend", StopTimes: []string{"A 10:00:00", "B 10:30:00"}},
		},
	})
	route := tt.Trips[tripID(t, tt, "sat")].RouteID

	// Thursday: nothing within two days. Friday: Saturday's trip.
	f := &tripFinder{tt: tt, weekday: time.Thursday, first: -1, last: 1}
	_, ok := f.EarliestTrip(route, 0, 9*3600)
	assert.False(t, ok)

	f.weekday = time.Friday
	inst, ok := f.EarliestTrip(route, 0, 9*3600)
	require.True(t, ok)
	assert.Equal(t, 1, inst.day)
	assert.Equal(t, timetable.Day+10*3600, f.departure(inst, 0))
}

func TestTripsOfInterval(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B"},
		Trips: []testutil.Trip{
			{ID: "t8", StopTimes: []string{"A 08:00:00", "B 08:10:00"}},
			{ID: "t9", StopTimes: []string{"A 09:00:00", "B 09:10:00"}},
			{ID: "t10", StopTimes: []string{"A 10:00:00", "B 10:10:00"}},
		},
	})
	route := tt.Trips[tripID(t, tt, "t8")].RouteID
	f := &tripFinder{tt: tt, weekday: time.Monday, first: -1, last: 1}

	got := f.TripsOfInterval(route, 1, 8*3600+30*60, 10*3600+10*60)
	assert.Equal(t, []tripInstance{
		{trip: tripID(t, tt, "t9"), day: 0},
		{trip: tripID(t, tt, "t10"), day: 0},
	}, got)

	got = f.TripsOfInterval(route, 1, 10*3600+30*60, timetable.Day+9*3600+10*60)
	assert.Equal(t, []tripInstance{
		{trip: tripID(t, tt, "t8"), day: 1},
		{trip: tripID(t, tt, "t9"), day: 1},
	}, got)

	assert.Empty(t, f.TripsOfInterval(route, 1, 11*3600, 10*3600))
}

func threeStops(t *testing.T, extra ...testutil.Trip) *timetable.Timetable {
	return testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B", "C", "A'"},
		Trips: append([]testutil.Trip{{
			ID:        "t1",
			StopTimes: []string{"A 12:00:00", "B 12:05:00 12:06:00", "C 12:10:00"},
		}}, extra...),
		Footpaths: []string{"A A' 120"},
	})
}

func TestEarliestArrivalBoardThrough(t *testing.T) {
	tt := threeStops(t)

	j, err := EarliestArrival(context.Background(), tt, Query{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "C")},
		Time:    43200,
		Weekday: time.Monday,
	})
	require.NoError(t, err)

	assert.Equal(t, 43800, j.Arrival())
	require.Equal(t, 1, len(j.Legs))
	assert.Equal(t, testutil.Stop(t, tt, "A"), j.Legs[0].DepartureStop)
	assert.Equal(t, testutil.Stop(t, tt, "C"), j.Legs[0].ArrivalStop)
	assert.Equal(t, 0, j.Changes())
}

func TestEarliestArrivalInitialFootpath(t *testing.T) {
	tt := threeStops(t, testutil.Trip{
		ID:        "t2",
		StopTimes: []string{"A' 12:02:30", "C 12:08:00"},
	})

	j, err := EarliestArrival(context.Background(), tt, Query{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "C")},
		Time:    43200,
		Weekday: time.Monday,
	})
	require.NoError(t, err)

	assert.Equal(t, 43680, j.Arrival())
	require.Equal(t, 2, len(j.Legs))
	assert.Equal(t, timetable.LegFootpath, j.Legs[0].Type)
	assert.Equal(t, 43200, j.Legs[0].DepartureTime)
	assert.Equal(t, 43320, j.Legs[0].ArrivalTime)
	assert.Equal(t, timetable.LegTrain, j.Legs[1].Type)
}

func TestEarliestArrivalRounds(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B", "C", "D"},
		Trips: []testutil.Trip{
			{ID: "ab", StopTimes: []string{"A 08:00:00", "B 08:10:00"}},
			{ID: "bc", StopTimes: []string{"B 08:15:00", "C 08:25:00"}},
			{ID: "cd", StopTimes: []string{"C 08:30:00", "D 08:40:00"}},
			{ID: "ad", StopTimes: []string{"A 08:00:00", "D 09:30:00"}},
		},
	})
	q := Query{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "D")},
		Time:    7 * 3600,
	}

	j, err := EarliestArrival(context.Background(), tt, q)
	require.NoError(t, err)
	assert.Equal(t, 8*3600+40*60, j.Arrival())
	assert.Equal(t, 2, j.Changes())

	q.MaxRounds = 2
	j, err = EarliestArrival(context.Background(), tt, q)
	require.NoError(t, err)
	assert.Equal(t, 9*3600+30*60, j.Arrival())
	assert.Equal(t, 0, j.Changes())
}

func TestEarliestArrivalOvernight(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops:    []string{"X", "Y"},
		Services: map[string][7]bool{"mon": {false, true, false, false, false, false, false}},
		Trips: []testutil.Trip{
			{ID: "night", Service: "mon", StopTimes: []string{"X 23:50:00", "Y 24:10:00"}},
		},
	})
	q := Query{
		Sources: []int{testutil.Stop(t, tt, "X")},
		Targets: []int{testutil.Stop(t, tt, "Y")},
		Time:    23 * 3600,
		Weekday: time.Monday,
	}

	j, err := EarliestArrival(context.Background(), tt, q)
	require.NoError(t, err)
	assert.Equal(t, timetable.Day+600, j.Arrival())
	assert.Greater(t, j.Arrival(), j.Departure())

	// Sunday's query catches Monday's train.
	q.Weekday = time.Sunday
	j, err = EarliestArrival(context.Background(), tt, q)
	require.NoError(t, err)
	assert.Equal(t, 2*timetable.Day+600, j.Arrival())

	q.Weekday = time.Tuesday
	_, err = EarliestArrival(context.Background(), tt, q)
	assert.Equal(t, ErrNoConnection, err)
}

func TestEarliestArrivalChainedFootpaths(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"S", "X", "Y", "T"},
		Trips: []testutil.Trip{
			{ID: "t1", StopTimes: []string{"S 11:50:00", "X 12:00:00"}},
			{ID: "t2", StopTimes: []string{"S 11:55:00", "Y 12:10:00"}},
		},
		Footpaths: []string{"X Y 60", "Y T 60"},
	})

	j, err := EarliestArrival(context.Background(), tt, Query{
		Sources: []int{testutil.Stop(t, tt, "S")},
		Targets: []int{testutil.Stop(t, tt, "T")},
		Time:    11 * 3600,
	})
	require.NoError(t, err)
	assert.Equal(t, 12*3600+120, j.Arrival())
	require.Len(t, j.Legs, 2)
	assert.Equal(t, tripID(t, tt, "t1"), j.Legs[0].TripID)
	assert.Equal(t, timetable.LegFootpath, j.Legs[1].Type)
	assert.Equal(t, testutil.Stop(t, tt, "X"), j.Legs[1].DepartureStop)
	assert.Equal(t, 120, j.Legs[1].Duration())
}

func TestEarliestArrivalWalkAfterImprovedStop(t *testing.T) {
	// X-Y-T is not closed, so T is only reached walking from Y after
	// t2, while walking from X reaches Y earlier in the same round.
	b := timetable.NewBuilder()
	s := b.AddStop("S", "S", 52, 13)
	x := b.AddStop("X", "X", 52.01, 13)
	y := b.AddStop("Y", "Y", 52.02, 13)
	target := b.AddStop("T", "T", 52.03, 13)
	daily := b.AddService("daily", testutil.Daily)
	t1 := b.AddTrip(timetable.TripSpec{Code: "t1", ServiceID: daily})
	require.NoError(t, b.AddStopTime(t1, s, 0, 12*3600, 12*3600))
	require.NoError(t, b.AddStopTime(t1, x, 1, 12*3600+600, 12*3600+600))
	t2 := b.AddTrip(timetable.TripSpec{Code: "t2", ServiceID: daily})
	require.NoError(t, b.AddStopTime(t2, s, 0, 12*3600, 12*3600))
	require.NoError(t, b.AddStopTime(t2, y, 1, 12*3600+1200, 12*3600+1200))
	require.NoError(t, b.AddFootpath(x, y, 60))
	require.NoError(t, b.AddFootpath(y, target, 60))
	b.LimitClosure(100)
	tt, err := b.Build()
	require.NoError(t, err)
	require.Len(t, tt.Footpaths, 2)

	q := Query{Sources: []int{s}, Targets: []int{target}, Time: 11 * 3600}
	j, err := EarliestArrival(context.Background(), tt, q)
	require.NoError(t, err)
	assert.Equal(t, 12*3600+1260, j.Arrival())
	assertLegsConnect(t, j, s, target, q.Time)

	require.Len(t, j.Legs, 2)
	assert.Equal(t, timetable.LegTrain, j.Legs[0].Type)
	assert.Equal(t, tripID(t, tt, "t2"), j.Legs[0].TripID)
	assert.Equal(t, timetable.Leg{
		Type:          timetable.LegFootpath,
		TripID:        -1,
		DepartureStop: y,
		ArrivalStop:   target,
		DepartureTime: 12*3600 + 1200,
		ArrivalTime:   12*3600 + 1260,
	}, j.Legs[1])

	want, err := csa.EarliestArrival(context.Background(), tt, csa.Query{
		Sources: q.Sources, Targets: q.Targets, Time: q.Time,
	})
	require.NoError(t, err)
	assert.Equal(t, want.Legs, j.Legs)
}

func TestEarliestArrivalSourceIsTarget(t *testing.T) {
	tt := threeStops(t)
	a := testutil.Stop(t, tt, "A")

	j, err := EarliestArrival(context.Background(), tt, Query{Sources: []int{a}, Targets: []int{a}, Time: 1000})
	require.NoError(t, err)
	assert.Empty(t, j.Legs)
	assert.Equal(t, 1000, j.Arrival())
}

func TestEarliestArrivalErrors(t *testing.T) {
	tt := threeStops(t)

	_, err := EarliestArrival(context.Background(), tt, Query{Sources: []int{99}, Targets: []int{0}})
	assert.Error(t, err)
	_, err = EarliestArrival(context.Background(), tt, Query{Sources: []int{0}})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EarliestArrival(ctx, tt, Query{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "C")},
		Time:    43200,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEarliestArrivalMatchesConnectionScan(t *testing.T) {
	found := 0
	for _, seed := range []int64{42, 1, 2, 3, 4} {
		rng := rand.New(rand.NewSource(seed))
		tt := testutil.RandomTimetable(t, rng, 30, 150, 40)

		for i := 0; i < 100; i++ {
			src, dst := rng.Intn(30), rng.Intn(30)
			at := rng.Intn(timetable.Day)
			weekday := time.Weekday(rng.Intn(7))

			want, wantErr := csa.EarliestArrival(context.Background(), tt, csa.Query{
				Sources: []int{src}, Targets: []int{dst}, Time: at, Weekday: weekday,
			})
			got, err := EarliestArrival(context.Background(), tt, Query{
				Sources: []int{src}, Targets: []int{dst}, Time: at, Weekday: weekday, MaxRounds: 64,
			})

			if wantErr == csa.ErrNoConnection {
				assert.Equal(t, ErrNoConnection, err, "seed %d query %d", seed, i)
				continue
			}
			require.NoError(t, wantErr)
			require.NoError(t, err, "seed %d query %d", seed, i)
			assert.Equal(t, want.Arrival(), got.Arrival(), "seed %d query %d: %d -> %d at %d", seed, i, src, dst, at)
			found++
			assertLegsConnect(t, got, src, dst, at)
		}
	}
	assert.Greater(t, found, 100)
}

// assertLegsConnect checks that each leg leaves from where the last
// one arrived, no earlier, and that walks follow rides directly.
func assertLegsConnect(t *testing.T, j *timetable.Journey, src, dst, at int) {
	stop, clock := src, at
	for k, leg := range j.Legs {
		assert.Equal(t, stop, leg.DepartureStop)
		assert.GreaterOrEqual(t, leg.DepartureTime, clock)
		assert.GreaterOrEqual(t, leg.ArrivalTime, leg.DepartureTime)
		if k > 0 && leg.Type == timetable.LegFootpath {
			prev := j.Legs[k-1]
			assert.NotEqual(t, timetable.LegFootpath, prev.Type, "consecutive walks")
			assert.Equal(t, prev.ArrivalTime, leg.DepartureTime)
		}
		stop, clock = leg.ArrivalStop, leg.ArrivalTime
	}
	assert.Equal(t, dst, stop)
	assert.Equal(t, clock, j.Arrival())
}
