package transit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit"
)

func loadStatic(t *testing.T, files map[string][]string) *transit.Static {
	m := buildManager(t, "memory", summer)
	static, err := m.LoadFeed(context.Background(), writeFeed(t, files), nil)
	require.NoError(t, err)
	return static
}

func TestStaticNearbyStops(t *testing.T) {
	static := loadStatic(t, fixtureFeed())

	codes := func(n int) []string {
		out := []string{}
		for _, s := range static.NearbyStops(52.021, 13.0, n) {
			out = append(out, s.Code)
		}
		return out
	}

	assert.Equal(t, []string{"C"}, codes(1))
	assert.Equal(t, []string{"C", "B"}, codes(2))
	assert.Equal(t, []string{"C", "B", "A"}, codes(10))

	// Without limit, everything by name.
	assert.Equal(t, []string{"A", "B", "C"}, codes(0))
}

func TestStaticMaxDays(t *testing.T) {
	static := loadStatic(t, fixtureFeed())
	assert.Equal(t, 2, static.MaxDays(2))
	assert.Equal(t, 1, static.MaxDays(0))

	files := fixtureFeed()
	files["stop_times.txt"] = []string{
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"t1,23:50:00,23:50:00,A,1",
		"t1,25:30:00,25:31:00,B,2",
		"t1,26:00:00,26:00:00,C,3",
	}
	static = loadStatic(t, files)
	assert.Equal(t, "260000", static.Metadata.MaxDeparture)
	assert.Equal(t, 2, static.MaxDays(1))
	assert.Equal(t, 3, static.MaxDays(3))
}

func TestStaticToday(t *testing.T) {
	static := loadStatic(t, fixtureFeed())

	// Berlin is ahead of UTC.
	assert.Equal(t, "2024-06-04", static.Today(time.Date(2024, 6, 3, 22, 30, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-03", static.Today(time.Date(2024, 6, 3, 21, 30, 0, 0, time.UTC)))
}

func TestStaticActiveServices(t *testing.T) {
	files := fixtureFeed()
	files["calendar_dates.txt"] = []string{
		"service_id,date,exception_type",
		"daily,20240603,2",
		"extra,20240603,1",
	}
	static := loadStatic(t, files)

	services, err := static.ActiveServices("2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, []string{"extra"}, services)

	services, err = static.ActiveServices("2024-06-04")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily"}, services)

	services, err = static.ActiveServices("2025-06-04")
	require.NoError(t, err)
	assert.Equal(t, []string{}, services)

	_, err = static.ActiveServices("20240604")
	assert.Error(t, err)
}
