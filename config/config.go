package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tidbyt.dev/transit/storage"
	"tidbyt.dev/transit/timetable"
)

const (
	EnvPrefix = "TRANSIT"
	FileName  = "transit"
)

type Config struct {
	Storage Storage `mapstructure:"storage"`
	Feed    Feed    `mapstructure:"feed"`
	Planner Planner `mapstructure:"planner"`

	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Output   string `mapstructure:"output" validate:"oneof=text json yaml"`
}

type Storage struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory sqlite postgres"`

	// Directory holding SQLite databases. Empty keeps them in
	// memory.
	Dir string `mapstructure:"dir"`

	Postgres string `mapstructure:"postgres" validate:"required_if=Backend postgres"`
}

type Feed struct {
	// URL or path of a GTFS zip.
	Location string `mapstructure:"location"`

	// "Key: Value" HTTP headers sent when downloading.
	Headers []string `mapstructure:"headers"`

	// Downloaded archives are kept here for CacheTTL. Empty
	// disables the cache.
	CacheDir string        `mapstructure:"cache_dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`

	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gte=0"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxSize         int           `mapstructure:"max_size" validate:"gt=0"`

	PlatformChange  int     `mapstructure:"platform_change" validate:"gte=0"`
	MaxWalkDistance float64 `mapstructure:"max_walk_distance" validate:"gte=0"`
	WalkingSpeed    float64 `mapstructure:"walking_speed" validate:"gt=0"`
	MaxTransferTime int     `mapstructure:"max_transfer_time" validate:"gte=0"`
}

type Planner struct {
	Algorithm string  `mapstructure:"algorithm" validate:"oneof=csa raptor"`
	Alpha     float64 `mapstructure:"alpha" validate:"gte=1"`
	MaxDays   int     `mapstructure:"max_days" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	opts := timetable.DefaultFeedOptions()

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.postgres", "")

	v.SetDefault("feed.location", "")
	v.SetDefault("feed.headers", []string{})
	v.SetDefault("feed.cache_dir", "")
	v.SetDefault("feed.cache_ttl", time.Hour)
	v.SetDefault("feed.refresh_interval", 12*time.Hour)
	v.SetDefault("feed.timeout", 60*time.Second)
	v.SetDefault("feed.max_size", 800<<20)
	v.SetDefault("feed.platform_change", opts.PlatformChange)
	v.SetDefault("feed.max_walk_distance", opts.MaxWalkDistance)
	v.SetDefault("feed.walking_speed", opts.WalkingSpeed)
	v.SetDefault("feed.max_transfer_time", opts.MaxTransferTime)

	v.SetDefault("planner.algorithm", "csa")
	v.SetDefault("planner.alpha", 2.0)
	v.SetDefault("planner.max_days", 0)

	v.SetDefault("log_level", "info")
	v.SetDefault("output", "text")
}

// New returns a viper instance carrying defaults for every key, with
// TRANSIT_ environment variables overriding them (feed.cache_dir is
// TRANSIT_FEED_CACHE_DIR). If file is empty, transit.yaml is looked
// up in the working directory and in ~/.config/transit.
func New(file string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "transit"))
		}
	}

	return v
}

// Load reads the config file, if any, and returns the validated
// configuration. A missing file is only an error if it was named
// explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return c, nil
}

func (c *Config) FeedOptions() timetable.FeedOptions {
	return timetable.FeedOptions{
		PlatformChange:  c.Feed.PlatformChange,
		MaxWalkDistance: c.Feed.MaxWalkDistance,
		WalkingSpeed:    c.Feed.WalkingSpeed,
		MaxTransferTime: c.Feed.MaxTransferTime,
	}
}

// OpenStorage opens the configured storage backend.
func (c *Config) OpenStorage() (storage.Storage, error) {
	switch c.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		if c.Storage.Dir == "" {
			return storage.NewSQLiteStorage()
		}
		if err := os.MkdirAll(c.Storage.Dir, 0755); err != nil {
			return nil, fmt.Errorf("creating storage dir: %w", err)
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: c.Storage.Dir})
	case "postgres":
		return storage.NewPSQLStorage(c.Storage.Postgres, false)
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
}

// Logger builds a console logger at the configured level, writing to
// stderr so that stdout carries only results.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.DisableStacktrace = true
	return zc.Build()
}
