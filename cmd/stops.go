package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/transit/timetable"
)

var stopsCmd = &cobra.Command{
	Use:   "stops [lat lng] [limit]",
	Short: "Lists stops near a geographical location",
	Args:  cobra.RangeArgs(0, 3),
	RunE:  stops,
}

func init() {
	rootCmd.AddCommand(stopsCmd)
}

type stopList []timetable.Stop

func (l stopList) text() string {
	b := &strings.Builder{}
	for _, stop := range l {
		fmt.Fprintf(b, "%d %s: %s (%.5f, %.5f)\n", stop.ID, stop.Code, stop.Name, stop.Lat, stop.Lon)
	}
	return b.String()
}

func stops(cmd *cobra.Command, args []string) error {
	var lat, lng float64
	var limit int
	var err error

	if len(args) == 1 {
		return fmt.Errorf("missing lng")
	}
	if len(args) >= 2 {
		lat, err = strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid lat: %w", err)
		}
		lng, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid lng: %w", err)
		}
		limit = 10
	}
	if len(args) == 3 {
		limit, err = strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
		if limit < 1 {
			return fmt.Errorf("limit must be >= 1")
		}
	}

	static, err := loadStatic(cmd.Context())
	if err != nil {
		return err
	}

	return write(cmd.OutOrStdout(), stopList(static.NearbyStops(lat, lng, limit)))
}
