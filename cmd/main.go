package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/config"
	"tidbyt.dev/transit/downloader"
)

var rootCmd = &cobra.Command{
	Use:               "transit",
	Short:             "Tidbyt transit planner",
	Long:              "Plans journeys on GTFS timetables, accounting for delays",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configFile string

	cfg    *config.Config
	logger *zap.Logger
)

// Flags bound to config keys. Flags set on the command line take
// precedence over the environment and the config file.
var boundFlags = map[string]string{
	"feed":        "feed.location",
	"header":      "feed.headers",
	"cache-dir":   "feed.cache_dir",
	"storage":     "storage.backend",
	"storage-dir": "storage.dir",
	"postgres":    "storage.postgres",
	"output":      "output",
	"log-level":   "log_level",
	"algorithm":   "planner.algorithm",
	"alpha":       "planner.alpha",
	"max-days":    "planner.max_days",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (default ./transit.yaml)")
	flags.StringP("feed", "f", "", "GTFS static feed URL or path")
	flags.StringSlice("header", []string{}, "GTFS HTTP header, as <key>:<value>")
	flags.String("cache-dir", "", "Directory caching downloaded feeds")
	flags.String("storage", "sqlite", "Storage backend (memory, sqlite, postgres)")
	flags.String("storage-dir", "", "Directory for SQLite databases")
	flags.String("postgres", "", "Postgres connection string")
	flags.StringP("output", "o", "text", "Output format (text, json, yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
}

func setup(cmd *cobra.Command, args []string) error {
	v := config.New(configFile)
	if err := bindFlags(v, cmd); err != nil {
		return err
	}

	var err error
	cfg, err = config.Load(v)
	if err != nil {
		return err
	}

	logger, err = cfg.Logger()
	if err != nil {
		return err
	}

	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range boundFlags {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func newManager() (*transit.Manager, error) {
	s, err := cfg.OpenStorage()
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	manager := transit.NewManager(s, logger)
	manager.StaticTimeout = cfg.Feed.Timeout
	manager.StaticMaxSize = cfg.Feed.MaxSize
	manager.StaticRefreshInterval = cfg.Feed.RefreshInterval
	manager.FeedOptions = cfg.FeedOptions()

	if cfg.Feed.CacheDir != "" {
		fs, err := downloader.NewFilesystem(cfg.Feed.CacheDir, logger)
		if err != nil {
			return nil, fmt.Errorf("creating download cache: %w", err)
		}
		manager.Downloader = fs
		manager.StaticCacheTTL = cfg.Feed.CacheTTL
	}

	return manager, nil
}

// Loads the configured feed, refreshing it if it's stale. With
// in-memory storage every run parses the feed anew.
func loadStatic(ctx context.Context) (*transit.Static, error) {
	if cfg.Feed.Location == "" {
		return nil, fmt.Errorf("feed location is required")
	}

	headers, err := parseHeaders(cfg.Feed.Headers)
	if err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	manager, err := newManager()
	if err != nil {
		return nil, err
	}

	static, err := manager.Refresh(ctx, cfg.Feed.Location, headers)
	if err != nil {
		return nil, fmt.Errorf("loading feed: %w", err)
	}

	if !static.Active(time.Now()) {
		logger.Warn("feed calendar does not cover today",
			zap.String("calendar_start", static.Metadata.CalendarStartDate),
			zap.String("calendar_end", static.Metadata.CalendarEndDate),
		)
	}

	return static, nil
}
