package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const indexFile = "index.json"

// Filesystem caches downloaded archives in a directory, so that
// repeated CLI invocations don't refetch large feeds. Bodies are
// stored one file per URL, with retrieval times kept in an index.
type Filesystem struct {
	Dir     string
	TimeNow func() time.Time

	records map[string]fsRecord
	logger  *zap.Logger
	mutex   sync.Mutex
}

type fsRecord struct {
	File        string `json:"file"`
	RetrievedAt string `json:"retrieved_at"`
}

func NewFilesystem(dir string, logger *zap.Logger) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	fs := &Filesystem{
		Dir:     dir,
		TimeNow: time.Now,
		records: map[string]fsRecord{},
		logger:  logger,
	}

	err := fs.load()
	if err != nil {
		return nil, err
	}

	return fs, nil
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if options.Cache {
		if record, found := f.records[url]; found {
			retrievedAt, err := time.Parse(time.RFC3339, record.RetrievedAt)
			if err != nil {
				return nil, fmt.Errorf("parsing retrieved_at: %w", err)
			}
			if retrievedAt.Add(options.CacheTTL).After(f.TimeNow()) {
				body, err := os.ReadFile(filepath.Join(f.Dir, record.File))
				if err == nil {
					f.logger.Debug("cache hit", zap.String("url", url))
					return body, nil
				}
				f.logger.Warn("cached body unreadable", zap.String("url", url), zap.Error(err))
			} else {
				f.logger.Debug("cache expired", zap.String("url", url))
			}
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if options.Cache {
		name := fmt.Sprintf("%x.zip", sha256.Sum256([]byte(url)))
		if err := os.WriteFile(filepath.Join(f.Dir, name), body, 0644); err != nil {
			return nil, fmt.Errorf("writing body: %w", err)
		}
		f.records[url] = fsRecord{
			File:        name,
			RetrievedAt: f.TimeNow().UTC().Format(time.RFC3339),
		}
		err = f.save()
		if err != nil {
			return nil, fmt.Errorf("saving: %w", err)
		}
	}

	return body, nil
}

func (f *Filesystem) load() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	path := filepath.Join(f.Dir, indexFile)
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}

	err = json.Unmarshal(buf, &f.records)
	if err != nil {
		return fmt.Errorf("unmarshalling: %w", err)
	}

	return nil
}

func (f *Filesystem) save() error {
	buf, err := json.Marshal(f.records)
	if err != nil {
		return fmt.Errorf("marshalling: %w", err)
	}

	err = os.WriteFile(filepath.Join(f.Dir, indexFile), buf, 0644)
	if err != nil {
		return fmt.Errorf("writing: %w", err)
	}

	return nil
}
