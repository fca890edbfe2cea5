package testutil

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/timetable"
)

var Daily = [7]bool{true, true, true, true, true, true, true}

// Trip in a Spec. Each stop time is "STOP HH:MM:SS" or
// "STOP ARRIVAL DEPARTURE".
type Trip struct {
	ID           string
	Route        string
	Service      string
	LongDistance bool
	Delay        int
	StopTimes    []string
}

// Spec is a compact description of a timetable.
type Spec struct {
	// Stop codes. Names default to the code.
	Stops []string
	Names map[string]string

	// Services by code. "daily" runs every day and is always
	// defined.
	Services map[string][7]bool

	Trips []Trip

	// "FROM TO SECONDS"
	Footpaths []string
}

// BuildTimetable builds the Timetable described by spec. Trips
// without a service run daily.
func BuildTimetable(t testing.TB, spec Spec) *timetable.Timetable {
	b := timetable.NewBuilder()

	for i, code := range spec.Stops {
		name := code
		if n, found := spec.Names[code]; found {
			name = n
		}
		b.AddStop(code, name, 52+float64(i)*0.01, 13)
	}

	services := map[string]int{"daily": b.AddService("daily", Daily)}
	for code, weekdays := range spec.Services {
		services[code] = b.AddService(code, weekdays)
	}

	for _, trip := range spec.Trips {
		service := trip.Service
		if service == "" {
			service = "daily"
		}
		svc, found := services[service]
		require.True(t, found, "trip %s has unknown service %s", trip.ID, service)

		id := b.AddTrip(timetable.TripSpec{
			Code:         trip.ID,
			RouteName:    trip.Route,
			ServiceID:    svc,
			LongDistance: trip.LongDistance,
			Delay:        trip.Delay,
		})

		for seq, st := range trip.StopTimes {
			fields := strings.Fields(st)
			require.True(t, len(fields) == 2 || len(fields) == 3, "malformed stop time %q", st)
			stop, found := b.StopID(fields[0])
			require.True(t, found, "unknown stop %q", fields[0])
			arr, err := timetable.ParseClock(fields[1])
			require.NoError(t, err)
			dep := arr
			if len(fields) == 3 {
				dep, err = timetable.ParseClock(fields[2])
				require.NoError(t, err)
			}
			require.NoError(t, b.AddStopTime(id, stop, uint32(seq), arr, dep))
		}
	}

	for _, fp := range spec.Footpaths {
		fields := strings.Fields(fp)
		require.Equal(t, 3, len(fields), "malformed footpath %q", fp)
		from, found := b.StopID(fields[0])
		require.True(t, found, "unknown stop %q", fields[0])
		to, found := b.StopID(fields[1])
		require.True(t, found, "unknown stop %q", fields[1])
		d, err := strconv.Atoi(fields[2])
		require.NoError(t, err)
		require.NoError(t, b.AddFootpath(from, to, d))
	}

	tt, err := b.Build()
	require.NoError(t, err)
	return tt
}

// Stop returns the id of a stop by code.
func Stop(t testing.TB, tt *timetable.Timetable, code string) int {
	id, found := tt.StopByCode(code)
	require.True(t, found, "unknown stop %q", code)
	return id
}

// RandomTimetable builds a timetable with trips between random stops,
// running on random weekdays. Trips start between 05:00 and 27:00, so
// late ones run past midnight into the next service day.
func RandomTimetable(t testing.TB, rng *rand.Rand, stops, trips, footpaths int) *timetable.Timetable {
	spec := Spec{
		Services: map[string][7]bool{},
	}
	for i := 0; i < stops; i++ {
		spec.Stops = append(spec.Stops, fmt.Sprintf("s%d", i))
	}
	for i := 0; i < 4; i++ {
		var weekdays [7]bool
		for d := range weekdays {
			weekdays[d] = rng.Intn(3) > 0
		}
		spec.Services[fmt.Sprintf("svc%d", i)] = weekdays
	}

	for i := 0; i < trips; i++ {
		n := 2 + rng.Intn(5)
		perm := rng.Perm(stops)[:n]
		at := 5*3600 + rng.Intn(22*3600)
		times := []string{}
		for j, s := range perm {
			arr := at
			dep := arr + 60*rng.Intn(3)
			if j == n-1 {
				dep = arr
			}
			times = append(times, fmt.Sprintf("s%d %s %s", s, clock(arr), clock(dep)))
			at = dep + 60*(1+rng.Intn(20))
		}
		service := "daily"
		if rng.Intn(2) == 0 {
			service = fmt.Sprintf("svc%d", rng.Intn(4))
		}
		spec.Trips = append(spec.Trips, Trip{
			ID:           fmt.Sprintf("t%d", i),
			Service:      service,
			LongDistance: rng.Intn(4) == 0,
			StopTimes:    times,
		})
	}

	for i := 0; i < footpaths; i++ {
		a, c := rng.Intn(stops), rng.Intn(stops)
		if a == c {
			continue
		}
		spec.Footpaths = append(spec.Footpaths, fmt.Sprintf("s%d s%d %d", a, c, 60+rng.Intn(540)))
	}

	return BuildTimetable(t, spec)
}

// Like timetable.FormatClock, without wrapping past midnight.
func clock(s int) string {
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
