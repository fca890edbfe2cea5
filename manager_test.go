package transit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/reliability"
	"tidbyt.dev/transit/storage"
	"tidbyt.dev/transit/testutil"
)

// Three stops on a line, served daily through 2024.
func fixtureFeed() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_timezone,agency_name,agency_url",
			"Europe/Berlin,VBB,http://example.com",
		},
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"daily,1,1,1,1,1,1,1,20240101,20241231",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"re1,RE1,2",
		},
		"trips.txt": {
			"route_id,service_id,trip_id",
			"re1,daily,t1",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"A,Alexanderplatz,52.00,13.0",
			"B,Bernau,52.01,13.0",
			"C,Cottbus,52.02,13.0",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t1,12:00:00,12:00:00,A,1",
			"t1,12:05:00,12:06:00,B,2",
			"t1,12:10:00,12:10:00,C,3",
		},
	}
}

func writeFeed(t *testing.T, files map[string][]string) string {
	path := filepath.Join(t.TempDir(), "feed.zip")
	require.NoError(t, os.WriteFile(path, testutil.BuildFeed(t, files), 0644))
	return path
}

func buildManager(t *testing.T, backend string, now time.Time) *transit.Manager {
	var s storage.Storage
	switch backend {
	case "memory":
		s = storage.NewMemoryStorage()
	case "sqlite":
		var err error
		s, err = storage.NewSQLiteStorage()
		require.NoError(t, err)
	}
	require.NotNil(t, s)

	m := transit.NewManager(s, zap.NewNop())
	m.TimeNow = func() time.Time { return now }
	return m
}

var summer = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func TestManagerLoadFeed(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			path := writeFeed(t, fixtureFeed())
			m := buildManager(t, backend, summer)
			ctx := context.Background()

			static, err := m.LoadFeed(ctx, path, nil)
			require.NoError(t, err)
			assert.Equal(t, path, static.Metadata.URL)
			assert.Equal(t, 64, len(static.Metadata.Hash))
			assert.Equal(t, "20240101", static.Metadata.CalendarStartDate)
			assert.Equal(t, "20241231", static.Metadata.CalendarEndDate)
			assert.Equal(t, "Europe/Berlin", static.Location().String())
			assert.Equal(t, 3, len(static.Timetable.Stops))
			assert.Equal(t, 1, len(static.Timetable.Trips))

			// Loading again hits the timetable cache.
			again, err := m.LoadFeed(ctx, path, nil)
			require.NoError(t, err)
			assert.Same(t, static.Timetable, again.Timetable)
			assert.Equal(t, static.Metadata.Hash, again.Metadata.Hash)

			// The timetable routes.
			p := transit.NewPlanner(static.Timetable, reliability.New(), zap.NewNop())
			resp, err := p.EarliestArrival(ctx, transit.Query{
				Source: "A",
				Target: "C",
				Time:   "11:00:00",
				Date:   static.Today(m.TimeNow()),
			}, transit.AlgorithmCSA)
			require.NoError(t, err)
			assert.Equal(t, "12:10:00", resp.ArrivalTime)
			assert.Equal(t, "2024-06-03", resp.ArrivalDate)
		})
	}
}

func TestManagerSameFeedTwoLocations(t *testing.T) {
	path := writeFeed(t, fixtureFeed())
	m := buildManager(t, "memory", summer)
	ctx := context.Background()

	first, err := m.LoadFeed(ctx, path, nil)
	require.NoError(t, err)

	other := "file://" + path
	second, err := m.LoadFeed(ctx, other, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Metadata.Hash, second.Metadata.Hash)
	assert.Equal(t, other, second.Metadata.URL)
	assert.Same(t, first.Timetable, second.Timetable)

	// Both locations resolve from storage.
	for _, location := range []string{path, other} {
		static, err := m.LoadStatic(location, summer)
		require.NoError(t, err)
		assert.Equal(t, location, static.Metadata.URL)
	}
}

func TestManagerLoadStatic(t *testing.T) {
	path := writeFeed(t, fixtureFeed())
	m := buildManager(t, "sqlite", summer)

	_, err := m.LoadStatic(path, summer)
	assert.ErrorIs(t, err, transit.ErrNoActiveFeed)

	_, err = m.LoadFeed(context.Background(), path, nil)
	require.NoError(t, err)

	static, err := m.LoadStatic(path, summer)
	require.NoError(t, err)
	assert.True(t, static.Active(summer))

	// Calendar has ended.
	later := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	_, err = m.LoadStatic(path, later)
	assert.ErrorIs(t, err, transit.ErrNoActiveFeed)
	assert.False(t, static.Active(later))

	// 23:30 UTC on New Year's Eve is already 2025 in Berlin.
	_, err = m.LoadStatic(path, time.Date(2024, 12, 31, 23, 30, 0, 0, time.UTC))
	assert.ErrorIs(t, err, transit.ErrNoActiveFeed)
}

func TestManagerLoadFeedErrors(t *testing.T) {
	m := buildManager(t, "memory", summer)
	ctx := context.Background()

	_, err := m.LoadFeed(ctx, filepath.Join(t.TempDir(), "missing.zip"), nil)
	assert.Error(t, err)

	broken := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(broken, []byte("not a zip"), 0644))
	_, err = m.LoadFeed(ctx, broken, nil)
	assert.Error(t, err)

	// Nothing was stored.
	_, err = m.LoadStatic(broken, summer)
	assert.ErrorIs(t, err, transit.ErrNoActiveFeed)
}

func TestManagerRefresh(t *testing.T) {
	feed := testutil.BuildFeed(t, fixtureFeed())

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Write(feed)
	}))
	defer server.Close()

	now := summer
	m := buildManager(t, "memory", summer)
	m.TimeNow = func() time.Time { return now }
	headers := map[string]string{"X-Api-Key": "secret"}
	ctx := context.Background()

	static, err := m.Refresh(ctx, server.URL, headers)
	require.NoError(t, err)
	assert.Equal(t, server.URL, static.Metadata.URL)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// Recently retrieved, served from storage.
	now = now.Add(time.Hour)
	_, err = m.Refresh(ctx, server.URL, headers)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// Stale, fetched again. The body is unchanged so no new feed
	// is stored.
	now = now.Add(transit.DefaultStaticRefreshInterval)
	refreshed, err := m.Refresh(ctx, server.URL, headers)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	assert.Equal(t, static.Metadata.Hash, refreshed.Metadata.Hash)
	assert.Same(t, static.Timetable, refreshed.Timetable)
}

func TestManagerRefreshTooLarge(t *testing.T) {
	feed := testutil.BuildFeed(t, fixtureFeed())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feed)
	}))
	defer server.Close()

	m := buildManager(t, "memory", summer)
	m.StaticMaxSize = len(feed) - 1

	_, err := m.Refresh(context.Background(), server.URL, nil)
	assert.Error(t, err)
}
