package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/csa"
	"tidbyt.dev/transit/reliability"
)

var earliestCmd = &cobra.Command{
	Use:   "earliest <source> <target>",
	Short: "Finds the earliest arriving journey",
	Args:  cobra.ExactArgs(2),
	RunE:  earliest,
}

var profileCmd = &cobra.Command{
	Use:   "profile <source> <target>",
	Short: "Lists Pareto optimal journeys by departure and arrival",
	Args:  cobra.ExactArgs(2),
	RunE:  profile,
}

var multiCriteriaCmd = &cobra.Command{
	Use:   "multicriteria <source> <target>",
	Short: "Lists journeys trading arrival time against reliability",
	Args:  cobra.ExactArgs(2),
	RunE:  multiCriteria,
}

var meatCmd = &cobra.Command{
	Use:   "meat <source> <target>",
	Short: "Computes the minimum expected arrival time and its decision graph",
	Long: "Computes the minimum expected arrival time, accounting for trip " +
		"delays, along with the strategy reaching it: at each stop, which " +
		"trips to try in order.",
	Args: cobra.ExactArgs(2),
	RunE: meat,
}

var (
	queryTime string
	queryDate string
)

func init() {
	for _, cmd := range []*cobra.Command{earliestCmd, profileCmd, multiCriteriaCmd, meatCmd} {
		cmd.Flags().StringVarP(&queryTime, "time", "t", "", "Departure time, HH:MM:SS (default now)")
		cmd.Flags().StringVarP(&queryDate, "date", "d", "", "Departure date, YYYY-MM-DD (default today)")
		cmd.Flags().Int("max-days", 0, "Service days searched past the departure date (default from feed)")
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{profileCmd, meatCmd} {
		cmd.Flags().Float64("alpha", transit.DefaultAlpha, "Search window, as a multiple of the time to the baseline arrival")
	}
	for _, cmd := range []*cobra.Command{earliestCmd, meatCmd} {
		cmd.Flags().StringP("algorithm", "a", string(transit.AlgorithmCSA), "Algorithm (csa, raptor)")
	}
}

// Builds a planner for the configured feed and the query from the
// arguments, defaulting time and date to now in the feed's timezone.
func prepare(cmd *cobra.Command, args []string) (*transit.Planner, transit.Query, error) {
	static, err := loadStatic(cmd.Context())
	if err != nil {
		return nil, transit.Query{}, err
	}

	now := time.Now().In(static.Location())
	q := transit.Query{
		Source: args[0],
		Target: args[1],
		Time:   queryTime,
		Date:   queryDate,
		Alpha:  cfg.Planner.Alpha,
	}
	if q.Time == "" {
		q.Time = now.Format("15:04:05")
	}
	if q.Date == "" {
		q.Date = static.Today(now)
	}

	services, err := static.ActiveServices(q.Date)
	if err != nil {
		return nil, transit.Query{}, fmt.Errorf("%w: %s", transit.ErrInvalidQuery, err)
	}
	if len(services) == 0 {
		logger.Warn("no service runs on the query date", zap.String("date", q.Date))
	}

	planner := transit.NewPlanner(static.Timetable, reliability.New(), logger)
	planner.MaxDays = cfg.Planner.MaxDays
	if planner.MaxDays == 0 {
		planner.MaxDays = static.MaxDays(csa.DefaultMaxDays)
	}

	return planner, q, nil
}

func earliest(cmd *cobra.Command, args []string) error {
	planner, q, err := prepare(cmd, args)
	if err != nil {
		return err
	}

	resp, err := planner.EarliestArrival(cmd.Context(), q, transit.Algorithm(cfg.Planner.Algorithm))
	if err != nil {
		return err
	}

	return write(cmd.OutOrStdout(), journeyOutput{*resp})
}

func profile(cmd *cobra.Command, args []string) error {
	planner, q, err := prepare(cmd, args)
	if err != nil {
		return err
	}

	resp, err := planner.Profile(cmd.Context(), q)
	if err != nil {
		return err
	}

	return write(cmd.OutOrStdout(), profileOutput{*resp})
}

func multiCriteria(cmd *cobra.Command, args []string) error {
	planner, q, err := prepare(cmd, args)
	if err != nil {
		return err
	}

	resp, err := planner.MultiCriteria(cmd.Context(), q)
	if err != nil {
		return err
	}

	return write(cmd.OutOrStdout(), multiCriteriaOutput{*resp})
}

func meat(cmd *cobra.Command, args []string) error {
	planner, q, err := prepare(cmd, args)
	if err != nil {
		return err
	}

	resp, err := planner.MEAT(cmd.Context(), q, transit.Algorithm(cfg.Planner.Algorithm))
	if err != nil {
		return err
	}

	return write(cmd.OutOrStdout(), meatOutput{*resp})
}
