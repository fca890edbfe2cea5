package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [location]",
	Short: "Loads a GTFS static feed into storage",
	Long: "Downloads or reads the feed, parses it into storage unless it's " +
		"already there, and builds its timetable.",
	Args: cobra.MaximumNArgs(1),
	RunE: importFeed,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

type importSummary struct {
	Location      string `json:"location" yaml:"location"`
	Hash          string `json:"hash" yaml:"hash"`
	Timezone      string `json:"timezone" yaml:"timezone"`
	CalendarStart string `json:"calendar_start" yaml:"calendar_start"`
	CalendarEnd   string `json:"calendar_end" yaml:"calendar_end"`
	Active        bool   `json:"active" yaml:"active"`
	Stops         int    `json:"stops" yaml:"stops"`
	Trips         int    `json:"trips" yaml:"trips"`
	Connections   int    `json:"connections" yaml:"connections"`
	Footpaths     int    `json:"footpaths" yaml:"footpaths"`
}

func (s importSummary) text() string {
	status := "active"
	if !s.Active {
		status = "inactive"
	}
	return fmt.Sprintf(
		"%s\n  hash %s\n  %s to %s (%s, %s)\n  %d stops, %d trips, %d connections, %d footpaths\n",
		s.Location, s.Hash, s.CalendarStart, s.CalendarEnd, s.Timezone, status,
		s.Stops, s.Trips, s.Connections, s.Footpaths,
	)
}

func importFeed(cmd *cobra.Command, args []string) error {
	location := cfg.Feed.Location
	if len(args) == 1 {
		location = args[0]
	}
	if location == "" {
		return fmt.Errorf("feed location is required")
	}

	headers, err := parseHeaders(cfg.Feed.Headers)
	if err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}

	manager, err := newManager()
	if err != nil {
		return err
	}

	static, err := manager.LoadFeed(cmd.Context(), location, headers)
	if err != nil {
		return err
	}

	tt := static.Timetable
	return write(cmd.OutOrStdout(), importSummary{
		Location:      location,
		Hash:          static.Metadata.Hash,
		Timezone:      static.Metadata.Timezone,
		CalendarStart: static.Metadata.CalendarStartDate,
		CalendarEnd:   static.Metadata.CalendarEndDate,
		Active:        static.Active(time.Now()),
		Stops:         len(tt.Stops),
		Trips:         len(tt.Trips),
		Connections:   len(tt.Connections),
		Footpaths:     len(tt.Footpaths),
	})
}
