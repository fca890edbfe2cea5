package downloader

import (
	"context"
	"time"

	"github.com/bluele/gcache"
)

const DefaultMemoryEntries = 16

// Caches downloaded files in memory. Entries expire after the
// CacheTTL they were fetched with, and the least recently used entry
// is evicted once the cache is full.
type MemoryDownloader struct {
	cache gcache.Cache
}

func NewMemoryDownloader() *MemoryDownloader {
	return NewMemoryDownloaderWithClock(DefaultMemoryEntries, gcache.NewRealClock())
}

func NewMemoryDownloaderWithClock(size int, clock gcache.Clock) *MemoryDownloader {
	return &MemoryDownloader{
		cache: gcache.New(size).LRU().Clock(clock).Build(),
	}
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if options.Cache {
		if v, err := d.cache.Get(url); err == nil {
			return v.([]byte), nil
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if options.Cache {
		ttl := options.CacheTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		if err := d.cache.SetWithExpire(url, body, ttl); err != nil {
			return nil, err
		}
	}

	return body, nil
}
