package transit

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"go.uber.org/zap"

	"tidbyt.dev/transit/downloader"
	"tidbyt.dev/transit/parse"
	"tidbyt.dev/transit/storage"
	"tidbyt.dev/transit/timetable"
)

const (
	DefaultStaticRefreshInterval = 12 * time.Hour
	DefaultStaticTimeout         = 60 * time.Second
	DefaultStaticMaxSize         = 800 << 20 // 800 MB
	DefaultCacheSize             = 4
)

var ErrNoActiveFeed = errors.New("no active feed found")

// Manager loads static feeds into storage and keeps the timetables
// built from them in an LRU cache keyed by feed hash.
type Manager struct {
	StaticTimeout         time.Duration
	StaticMaxSize         int
	StaticRefreshInterval time.Duration

	// Downloads are cached by the Downloader for this long. Zero
	// disables caching.
	StaticCacheTTL time.Duration

	Downloader  downloader.Downloader
	FeedOptions timetable.FeedOptions
	TimeNow     func() time.Time

	storage storage.Storage
	cache   gcache.Cache
	logger  *zap.Logger
}

// Creates a new Manager of GTFS data, on top of the given storage.
func NewManager(s storage.Storage, logger *zap.Logger) *Manager {
	return &Manager{
		StaticTimeout:         DefaultStaticTimeout,
		StaticMaxSize:         DefaultStaticMaxSize,
		StaticRefreshInterval: DefaultStaticRefreshInterval,
		Downloader:            downloader.NewMemoryDownloader(),
		FeedOptions:           timetable.DefaultFeedOptions(),
		TimeNow:               time.Now,

		storage: s,
		cache:   gcache.New(DefaultCacheSize).LRU().Build(),
		logger:  logger,
	}
}

func remote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

func (m *Manager) fetch(ctx context.Context, location string, headers map[string]string) ([]byte, error) {
	if remote(location) {
		body, err := m.Downloader.Get(ctx, location, headers, downloader.GetOptions{
			Cache:    m.StaticCacheTTL > 0,
			CacheTTL: m.StaticCacheTTL,
			Timeout:  m.StaticTimeout,
			MaxSize:  m.StaticMaxSize,
		})
		if err != nil {
			return nil, fmt.Errorf("downloading feed at %s: %w", location, err)
		}
		return body, nil
	}

	body, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
	if err != nil {
		return nil, fmt.Errorf("reading feed at %s: %w", location, err)
	}
	return body, nil
}

// LoadFeed retrieves the feed at location (a URL or local path),
// parses it into storage unless a feed with the same hash is already
// there, and returns it with its timetable.
func (m *Manager) LoadFeed(ctx context.Context, location string, headers map[string]string) (*Static, error) {
	body, err := m.fetch(ctx, location, headers)
	if err != nil {
		return nil, err
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	logger := m.logger.With(zap.String("location", location), zap.String("hash", hash))

	metadata, err := m.ingest(location, hash, body, logger)
	if err != nil {
		return nil, err
	}

	return m.load(metadata, logger)
}

// Writes metadata for the body at location, parsing it first if the
// hash is new to storage.
func (m *Manager) ingest(location string, hash string, body []byte, logger *zap.Logger) (*storage.FeedMetadata, error) {
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	now := m.TimeNow().UTC()

	if len(feeds) > 0 {
		for _, feed := range feeds {
			if feed.URL == location {
				logger.Debug("feed unchanged")
				feed.RetrievedAt = now
				if err := m.storage.WriteFeedMetadata(feed); err != nil {
					return nil, fmt.Errorf("writing metadata: %w", err)
				}
				return feed, nil
			}
		}

		// It's in storage, but for a different location. Add
		// a metadata record for this one.
		metadata := *feeds[0]
		metadata.URL = location
		metadata.RetrievedAt = now
		if err := m.storage.WriteFeedMetadata(&metadata); err != nil {
			return nil, fmt.Errorf("writing metadata: %w", err)
		}
		logger.Info("feed known under another location", zap.String("other", feeds[0].URL))
		return &metadata, nil
	}

	// Hash doesn't exist in storage. Parse the feed.
	writer, err := m.storage.GetWriter(hash)
	if err != nil {
		return nil, fmt.Errorf("getting writer: %w", err)
	}

	start := time.Now()
	metadata, err := parse.ParseStatic(writer, body)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	metadata.Hash = hash
	metadata.URL = location
	metadata.RetrievedAt = now

	if err := m.storage.WriteFeedMetadata(metadata); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}
	feedLoadsTotal.WithLabelValues("parsed").Inc()
	logger.Info("feed parsed",
		zap.Duration("took", time.Since(start)),
		zap.String("calendar_start", metadata.CalendarStartDate),
		zap.String("calendar_end", metadata.CalendarEndDate),
	)

	return metadata, nil
}

// Returns the cached Static for the metadata's hash, building its
// timetable on a miss.
func (m *Manager) load(metadata *storage.FeedMetadata, logger *zap.Logger) (*Static, error) {
	if v, err := m.cache.Get(metadata.Hash); err == nil {
		feedLoadsTotal.WithLabelValues("cache").Inc()
		static := v.(*Static)
		copied := *static
		copied.Metadata = metadata
		return &copied, nil
	}

	reader, err := m.storage.GetReader(metadata.Hash)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}

	start := time.Now()
	static, err := NewStatic(reader, metadata, m.FeedOptions)
	if err != nil {
		return nil, fmt.Errorf("creating static: %w", err)
	}
	logger.Info("timetable built",
		zap.Duration("took", time.Since(start)),
		zap.Int("stops", len(static.Timetable.Stops)),
		zap.Int("trips", len(static.Timetable.Trips)),
		zap.Int("connections", len(static.Timetable.Connections)),
		zap.Int("footpaths", len(static.Timetable.Footpaths)),
	)
	feedLoadsTotal.WithLabelValues("storage").Inc()

	if err := m.cache.Set(metadata.Hash, static); err != nil {
		return nil, fmt.Errorf("caching timetable: %w", err)
	}

	return static, nil
}

// LoadStatic returns the most recently retrieved feed stored for
// location that is active at the given time, without fetching
// anything. ErrNoActiveFeed is returned if there is none.
func (m *Manager) LoadStatic(location string, when time.Time) (*Static, error) {
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{URL: location})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].RetrievedAt.After(feeds[j].RetrievedAt)
	})

	for _, feed := range feeds {
		ok, err := feedActive(feed, when)
		if err != nil {
			return nil, fmt.Errorf("checking if feed is active: %w", err)
		}
		if !ok {
			continue
		}
		return m.load(feed, m.logger.With(zap.String("location", location), zap.String("hash", feed.Hash)))
	}

	return nil, ErrNoActiveFeed
}

// Refresh loads the feed at location from storage if it was
// retrieved within StaticRefreshInterval and is active now, and
// fetches it anew otherwise.
func (m *Manager) Refresh(ctx context.Context, location string, headers map[string]string) (*Static, error) {
	now := m.TimeNow()

	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{URL: location})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	for _, feed := range feeds {
		if feed.RetrievedAt.Add(m.StaticRefreshInterval).After(now) {
			static, err := m.LoadStatic(location, now)
			if err == nil {
				return static, nil
			}
			if !errors.Is(err, ErrNoActiveFeed) {
				return nil, err
			}
			break
		}
	}

	return m.LoadFeed(ctx, location, headers)
}

func feedActive(feed *storage.FeedMetadata, now time.Time) (bool, error) {
	feedTz, err := time.LoadLocation(feed.Timezone)
	if err != nil {
		return false, fmt.Errorf("loading timezone: %w", err)
	}

	todayThere := now.In(feedTz).Format("20060102")

	if feed.CalendarStartDate > todayThere {
		return false, nil
	}
	if feed.CalendarEndDate < todayThere {
		return false, nil
	}

	return true, nil
}
