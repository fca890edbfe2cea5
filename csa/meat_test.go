package csa

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/decisiongraph"
	"tidbyt.dev/transit/reliability"
	"tidbyt.dev/transit/testutil"
	"tidbyt.dev/transit/timetable"
)

// A to C via B, with a tight and a safe connection at B.
func connectingTrips(t *testing.T) *fixture {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B", "C"},
		Trips: []testutil.Trip{
			{ID: "ab", StopTimes: []string{"A 08:00:00", "B 08:30:00"}},
			{ID: "bc1", StopTimes: []string{"B 08:35:00", "C 09:00:00"}},
			{ID: "bc2", StopTimes: []string{"B 08:50:00", "C 09:10:00"}},
		},
	})
	return &fixture{tt, testutil.Stop(t, tt, "A"), testutil.Stop(t, tt, "C")}
}

func TestMEATSingleTrip(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "C"},
		Trips: []testutil.Trip{
			{ID: "ac", StopTimes: []string{"A 08:00:00", "C 08:40:00"}},
		},
	})
	rel := reliability.New()

	res, err := MEAT(context.Background(), tt, rel, MEATQuery{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "C")},
		Time:    7 * 3600,
		Horizon: 12 * 3600,
	})
	require.NoError(t, err)

	assert.Equal(t, 8*3600, res.Departure)
	assert.Equal(t, 8*3600+40*60, res.Arrival)
	assert.InDelta(t, float64(8*3600+40*60)+rel.ExpectedValue(false), res.Expected, 1e-6)
	require.Equal(t, 1, len(res.Edges))
	assert.Equal(t, decisiongraph.Train, res.Edges[0].Type)
}

func TestMEATWeighsConnections(t *testing.T) {
	f := connectingTrips(t)
	rel := reliability.New()

	res, err := MEAT(context.Background(), f.tt, rel, MEATQuery{
		Sources: []int{f.from},
		Targets: []int{f.to},
		Time:    7 * 3600,
		Horizon: 12 * 3600,
	})
	require.NoError(t, err)

	// bc1 is caught with the probability of at most 5 minutes delay,
	// otherwise bc2 arrives 10 minutes later.
	p := rel.CDF(300, false)
	want := p*9*3600 + (1-p)*(9*3600+600) + rel.ExpectedValue(false)
	assert.InDelta(t, want, res.Expected, 1e-6)
	assert.Equal(t, 9*3600, res.Arrival)
	assert.Equal(t, 8*3600, res.Departure)

	trips := map[int]bool{}
	for _, e := range res.Edges {
		assert.Equal(t, decisiongraph.Train, e.Type)
		trips[e.TripID] = true
	}
	assert.Equal(t, 3, len(trips))
	assert.Equal(t, 3, len(res.Edges))
}

func TestMEATUnsafeTransfer(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B", "C"},
		Trips: []testutil.Trip{
			{ID: "ab", StopTimes: []string{"A 08:00:00", "B 08:30:00"}},
			{ID: "bc", StopTimes: []string{"B 08:30:00", "C 09:00:00"}},
		},
	})

	// Any delay on ab misses bc, and nothing comes after it.
	_, err := MEAT(context.Background(), tt, reliability.New(), MEATQuery{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "C")},
		Time:    7 * 3600,
		Horizon: 12 * 3600,
	})
	assert.Equal(t, ErrNoConnection, err)
}

func TestMEATHorizon(t *testing.T) {
	f := connectingTrips(t)

	// bc2 arrives after the horizon, leaving no safe connection.
	_, err := MEAT(context.Background(), f.tt, reliability.New(), MEATQuery{
		Sources: []int{f.from},
		Targets: []int{f.to},
		Time:    7 * 3600,
		Horizon: 9 * 3600,
	})
	assert.Equal(t, ErrNoConnection, err)
}

func TestMEATFootpaths(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "A2", "B", "C", "C2"},
		Trips: []testutil.Trip{
			{ID: "a2b", StopTimes: []string{"A2 08:05:00", "B 08:30:00"}},
			{ID: "bc", StopTimes: []string{"B 08:50:00", "C 09:10:00"}},
		},
		Footpaths: []string{"A A2 180", "C C2 240"},
	})
	rel := reliability.New()

	res, err := MEAT(context.Background(), tt, rel, MEATQuery{
		Sources: []int{testutil.Stop(t, tt, "A")},
		Targets: []int{testutil.Stop(t, tt, "C2")},
		Time:    7 * 3600,
		Horizon: 12 * 3600,
	})
	require.NoError(t, err)

	assert.InDelta(t, float64(9*3600+600+240)+rel.ExpectedValue(false), res.Expected, 1e-6)
	assert.Equal(t, 8*3600+5*60-180, res.Departure)

	types := []decisiongraph.EdgeType{}
	for _, e := range res.Edges {
		types = append(types, e.Type)
	}
	assert.Equal(t, []decisiongraph.EdgeType{
		decisiongraph.Footpath,
		decisiongraph.Train,
		decisiongraph.Train,
		decisiongraph.Footpath,
	}, types)
}

func TestMEATRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	tt := testutil.RandomTimetable(t, rng, 20, 200, 0)
	rel := reliability.New()

	checked := 0
	for i := 0; i < 100; i++ {
		src, dst := rng.Intn(20), rng.Intn(20)
		if src == dst {
			continue
		}
		at := 5*3600 + rng.Intn(8*3600)
		weekday := time.Weekday(rng.Intn(7))

		esa, err := EarliestSafeArrival(context.Background(), tt, rel, Query{
			Sources: []int{src}, Targets: []int{dst}, Time: at, Weekday: weekday,
		})
		if err == ErrNoConnection {
			continue
		}
		require.NoError(t, err)
		ea, err := EarliestArrival(context.Background(), tt, Query{
			Sources: []int{src}, Targets: []int{dst}, Time: at, Weekday: weekday,
		})
		require.NoError(t, err)

		last := math.Inf(1)
		for _, alpha := range []float64{1, 1.5, 2, 3} {
			horizon := at + int(alpha*float64(esa.Arrival()-at))
			res, err := MEAT(context.Background(), tt, rel, MEATQuery{
				Sources: []int{src}, Targets: []int{dst}, Time: at, Horizon: horizon, Weekday: weekday,
			})
			if alpha > 1 {
				require.NoError(t, err, "query %d alpha %v", i, alpha)
			}
			if err == ErrNoConnection {
				continue
			}
			require.NoError(t, err)

			assert.False(t, math.IsInf(res.Expected, 0))
			assert.GreaterOrEqual(t, res.Expected, float64(ea.Arrival()))
			assert.GreaterOrEqual(t, res.Arrival, ea.Arrival())
			assert.LessOrEqual(t, res.Expected, last+1e-6, "query %d alpha %v", i, alpha)
			assert.NotEmpty(t, res.Edges)
			assert.Equal(t, src, res.Edges[0].DepartureStop)
			last = res.Expected
		}
		checked++
	}
	assert.Greater(t, checked, 10)
}

type fixture struct {
	tt       *timetable.Timetable
	from, to int
}
