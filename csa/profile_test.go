package csa

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/testutil"
	"tidbyt.dev/transit/timetable"
)

func TestProfileParetoEntries(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B", "C"},
		Trips: []testutil.Trip{
			{ID: "fast", StopTimes: []string{"A 08:00:00", "C 08:30:00"}},
			{ID: "slow", StopTimes: []string{"A 08:10:00", "B 08:40:00", "C 09:00:00"}},
			{ID: "slower", StopTimes: []string{"A 08:05:00", "C 09:30:00"}},
			{ID: "late", StopTimes: []string{"A 09:00:00", "C 09:20:00"}},
		},
	})

	res, err := Profile(context.Background(), tt, ProfileQuery{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "C")},
		Time:    8 * 3600,
		Horizon: 12 * 3600,
		Weekday: time.Friday,
	})
	require.NoError(t, err)

	clocks := [][2]string{}
	for _, e := range res.Entries {
		clocks = append(clocks, [2]string{timetable.FormatClock(e.Departure), timetable.FormatClock(e.Arrival)})
	}
	assert.Equal(t, [][2]string{
		{"09:00:00", "09:20:00"},
		{"08:10:00", "09:00:00"},
		{"08:00:00", "08:30:00"},
	}, clocks)

	for _, e := range res.Entries {
		j, err := res.Journey(e)
		require.NoError(t, err)
		assert.Equal(t, e.Departure, j.Departure())
		assert.Equal(t, e.Arrival, j.Arrival())
	}
}

func TestProfileTransfersAndFootpaths(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B", "B2", "C"},
		Trips: []testutil.Trip{
			{ID: "ab", StopTimes: []string{"A 08:00:00", "B 08:20:00"}},
			{ID: "b2c", StopTimes: []string{"B2 08:25:00", "C 08:45:00"}},
			{ID: "ab2", StopTimes: []string{"A 08:30:00", "B 08:50:00"}},
			{ID: "bc", StopTimes: []string{"B 09:00:00", "C 09:10:00"}},
		},
		Footpaths: []string{"B B2 180"},
	})

	res, err := Profile(context.Background(), tt, ProfileQuery{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "C")},
		Time:    7 * 3600,
		Horizon: 10 * 3600,
	})
	require.NoError(t, err)
	require.Equal(t, 2, len(res.Entries))

	latest, earliest := res.Entries[0], res.Entries[1]
	assert.Equal(t, "08:30:00", timetable.FormatClock(latest.Departure))
	assert.Equal(t, "09:10:00", timetable.FormatClock(latest.Arrival))
	assert.Equal(t, "08:00:00", timetable.FormatClock(earliest.Departure))
	assert.Equal(t, "08:45:00", timetable.FormatClock(earliest.Arrival))

	j, err := res.Journey(earliest)
	require.NoError(t, err)
	require.Equal(t, 3, len(j.Legs))
	assert.Equal(t, timetable.LegFootpath, j.Legs[1].Type)
	assert.Equal(t, 1, j.Changes())
}

func TestProfileSoundness(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tt := testutil.RandomTimetable(t, rng, 25, 150, 30)

	for i := 0; i < 20; i++ {
		res, err := Profile(context.Background(), tt, ProfileQuery{
			Sources: []int{rng.Intn(25)},
			Targets: []int{rng.Intn(25)},
			Time:    rng.Intn(12 * 3600),
			Horizon: 24 * 3600,
			Weekday: time.Weekday(rng.Intn(7)),
		})
		require.NoError(t, err)

		for stop := range tt.Stops {
			entries := res.Profile(stop)
			for a := range entries {
				for b := range entries {
					if a == b {
						continue
					}
					p, q := entries[a], entries[b]
					assert.False(t, p.Departure >= q.Departure && p.Arrival <= q.Arrival,
						"%v dominates %v at stop %d", p, q, stop)
				}
			}
		}

		for _, e := range res.Entries {
			j, err := res.Journey(e)
			require.NoError(t, err)
			assert.Equal(t, e.Arrival, j.Arrival())
			assert.Equal(t, e.Departure, j.Departure())
		}
	}
}

func TestProfileMatchesEarliestArrival(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tt := testutil.RandomTimetable(t, rng, 20, 100, 0)

	for i := 0; i < 100; i++ {
		src, dst := rng.Intn(20), rng.Intn(20)
		if src == dst {
			continue
		}
		at := rng.Intn(12 * 3600)
		weekday := time.Weekday(rng.Intn(7))
		horizon := at + 12*3600

		ea, err := EarliestArrival(context.Background(), tt, Query{
			Sources: []int{src}, Targets: []int{dst}, Time: at, Weekday: weekday,
		})
		if err == ErrNoConnection || (err == nil && ea.Arrival() > horizon) {
			continue
		}
		require.NoError(t, err)

		res, err := Profile(context.Background(), tt, ProfileQuery{
			Sources: []int{src}, Targets: []int{dst}, Time: at, Horizon: horizon, Weekday: weekday,
		})
		require.NoError(t, err)
		require.NotEmpty(t, res.Entries)

		// The earliest departure has the earliest arrival.
		first := res.Entries[len(res.Entries)-1]
		assert.Equal(t, ea.Arrival(), first.Arrival, "query %d", i)
	}
}
