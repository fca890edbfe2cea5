package decisiongraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/testutil"
	"tidbyt.dev/transit/timetable"
)

func clock(t *testing.T, s string) int {
	v, err := timetable.ParseClock(s)
	require.NoError(t, err)
	return v
}

func TestBuild(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B", "C", "B2"},
		Names: map[string]string{"B": "Bee", "B2": "Bee"},
		Trips: []testutil.Trip{
			{ID: "t", StopTimes: []string{"A 08:00:00", "B 08:30:00"}},
		},
	})
	a, b, c, b2 := testutil.Stop(t, tt, "A"), testutil.Stop(t, tt, "B"), testutil.Stop(t, tt, "C"), testutil.Stop(t, tt, "B2")

	edges := []Edge{
		{a, b, clock(t, "08:00:00"), clock(t, "08:30:00"), Train, 0},
		{b, c, clock(t, "08:50:00"), clock(t, "09:10:00"), Train, 2},
		{b, c, clock(t, "08:35:00"), clock(t, "09:00:00"), Train, 1},
		{b, b2, clock(t, "08:40:00"), clock(t, "08:42:00"), Footpath, -1},
		{b2, c, clock(t, "08:45:00"), clock(t, "09:05:00"), Train, 3},
		{a, b, clock(t, "08:00:00"), clock(t, "08:30:00"), Train, 0},
	}

	g := Build(tt, edges, []int{c})

	t.Run("expanded", func(t *testing.T) {
		ex := g.Expanded
		assert.Equal(t, 10, len(ex.Nodes))
		assert.Equal(t, 5, len(ex.Links))

		// The walk starts as soon as the train arrives.
		var walk *Link
		for i := range ex.Links {
			if ex.Links[i].Type == Footpath {
				walk = &ex.Links[i]
			}
		}
		require.NotNil(t, walk)
		assert.Equal(t, Node{ID: walk.Source, Stop: b, Time: clock(t, "08:30:00"), Role: RoleDeparture}, ex.Nodes[walk.Source])
		assert.Equal(t, clock(t, "08:32:00"), ex.Nodes[walk.Target].Time)

		names := map[string]int{}
		for _, cl := range ex.Clusters {
			names[cl.Name] = len(cl.Nodes)
		}
		assert.Equal(t, map[string]int{"A": 1, "Bee": 6, "C": 3}, names)
	})

	t.Run("compact", func(t *testing.T) {
		cg := g.Compact
		assert.Equal(t, 4, len(cg.Nodes))
		require.Equal(t, 4, len(cg.Edges))

		var bc *CompactEdge
		for i := range cg.Edges {
			e := &cg.Edges[i]
			if cg.Nodes[e.Source].Stop == b && cg.Nodes[e.Target].Stop == c {
				bc = e
			}
		}
		require.NotNil(t, bc)
		assert.Equal(t, clock(t, "08:35:00"), bc.FirstDeparture)
		assert.Equal(t, clock(t, "08:50:00"), bc.LastDeparture)
		assert.Equal(t, []int{1, 2}, bc.TripIDs)
		assert.Equal(t, []int{clock(t, "08:35:00"), clock(t, "08:50:00")}, bc.Departures)

		for _, n := range cg.Nodes {
			if n.Stop == c {
				assert.True(t, n.Target)
				assert.Equal(t, clock(t, "09:00:00"), n.FirstArrival)
				assert.Equal(t, clock(t, "09:10:00"), n.LastArrival)
			} else {
				assert.False(t, n.Target)
			}
		}
	})
}

func TestBuildEmpty(t *testing.T) {
	tt := testutil.BuildTimetable(t, testutil.Spec{
		Stops: []string{"A", "B"},
		Trips: []testutil.Trip{
			{ID: "t", StopTimes: []string{"A 08:00:00", "B 08:30:00"}},
		},
	})

	g := Build(tt, nil, []int{1})
	assert.Empty(t, g.Expanded.Nodes)
	assert.Empty(t, g.Compact.Edges)
}
