package downloader_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluele/gcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tidbyt.dev/transit/downloader"
)

// Serves a body that changes on every request.
func countingServer(t *testing.T) (*httptest.Server, *int32) {
	var n int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "deny" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		c := atomic.AddInt32(&n, 1)
		fmt.Fprintf(w, "body %d", c)
	}))
	t.Cleanup(server.Close)
	return server, &n
}

func TestHTTPGet(t *testing.T) {
	server, _ := countingServer(t)

	body, err := downloader.HTTPGet(context.Background(), server.URL, nil, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "body 1", string(body))

	_, err = downloader.HTTPGet(context.Background(), server.URL, map[string]string{"Authorization": "deny"}, downloader.GetOptions{})
	assert.Error(t, err)

	// "body 3" is 6 bytes
	_, err = downloader.HTTPGet(context.Background(), server.URL, nil, downloader.GetOptions{MaxSize: 5})
	assert.ErrorIs(t, err, downloader.ErrTooLarge)
	body, err = downloader.HTTPGet(context.Background(), server.URL, nil, downloader.GetOptions{MaxSize: 6})
	require.NoError(t, err)
	assert.Equal(t, "body 4", string(body))
}

func TestMemoryDownloader(t *testing.T) {
	server, n := countingServer(t)
	clock := gcache.NewFakeClock()
	d := downloader.NewMemoryDownloaderWithClock(4, clock)

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Minute}

	body, err := d.Get(context.Background(), server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "body 1", string(body))

	// Cached
	clock.Advance(30 * time.Second)
	body, err = d.Get(context.Background(), server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "body 1", string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(n))

	// Expired
	clock.Advance(31 * time.Second)
	body, err = d.Get(context.Background(), server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "body 2", string(body))

	// Caching disabled
	body, err = d.Get(context.Background(), server.URL, nil, downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "body 3", string(body))
}

func TestFilesystem(t *testing.T) {
	server, n := countingServer(t)
	dir := t.TempDir()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	fs, err := downloader.NewFilesystem(dir, zap.NewNop())
	require.NoError(t, err)
	fs.TimeNow = func() time.Time { return now }

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Hour}

	body, err := fs.Get(context.Background(), server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "body 1", string(body))

	// A fresh instance on the same directory reads the cache
	fs2, err := downloader.NewFilesystem(dir, zap.NewNop())
	require.NoError(t, err)
	fs2.TimeNow = func() time.Time { return now.Add(30 * time.Minute) }
	body, err = fs2.Get(context.Background(), server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "body 1", string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(n))

	// Until it expires
	fs2.TimeNow = func() time.Time { return now.Add(2 * time.Hour) }
	body, err = fs2.Get(context.Background(), server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "body 2", string(body))
}
