// commands.go contains all cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its
// handler in handlers.go.
package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func buildTestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test <post_id>",
		Short: "Forecast a question without submitting (dry run)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, err := parsePostID(args[0])
			if err != nil {
				return err
			}
			return runTest(cmd.Context(), resolveConfigPath(*configPath), postID)
		},
	}
}

func buildSubmitCmd(configPath *string) *cobra.Command {
	var (
		useCache bool
		comment  bool
	)
	cmd := &cobra.Command{
		Use:   "submit <post_id>",
		Short: "Forecast a question and submit the prediction",
		Example: `  # Forecast and submit
  augur submit 12345

  # Submit the most recent stored forecast without re-running the model
  augur submit 12345 --use-cache

  # Also post the reasoning as a comment
  augur submit 12345 --comment`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, err := parsePostID(args[0])
			if err != nil {
				return err
			}
			return runSubmit(cmd.Context(), resolveConfigPath(*configPath), postID, useCache, comment)
		},
	}
	cmd.Flags().BoolVar(&useCache, "use-cache", false,
		"Submit the latest stored forecast instead of running the model")
	cmd.Flags().BoolVar(&comment, "comment", false,
		"Post the reasoning as a comment after submitting")
	return cmd
}

func buildRetrodictCmd(configPath *string) *cobra.Command {
	var forecastDate string
	cmd := &cobra.Command{
		Use:   "retrodict <post_id> [post_id...]",
		Short: "Forecast past questions as of a historical date",
		Long: `Run time-restricted forecasts for calibration: every research tool is
limited to information available on the forecast date. Results are stored
separately from live forecasts and never submitted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postIDs := make([]int64, len(args))
			for i, arg := range args {
				id, err := parsePostID(arg)
				if err != nil {
					return err
				}
				postIDs[i] = id
			}
			return runRetrodict(cmd.Context(), resolveConfigPath(*configPath), postIDs, forecastDate)
		},
	}
	cmd.Flags().StringVar(&forecastDate, "forecast-date", "",
		"Cutoff date YYYY-MM-DD (default: midpoint of each question's open window)")
	return cmd
}

func buildTournamentCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tournament <id_or_alias>",
		Short: "Forecast and submit every open question in a tournament",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTournament(cmd.Context(), resolveConfigPath(*configPath), args[0])
		},
	}
}

func buildLoopCmd(configPath *string) *cobra.Command {
	var interval int
	cmd := &cobra.Command{
		Use:   "loop <tournament> [tournament...]",
		Short: "Forecast tournaments repeatedly on an interval",
		Long: `Run the tournament command for each listed tournament, sleep, and repeat.
Credit exhaustion pauses the loop until the provider's reset time. When
metrics are enabled in the configuration, a Prometheus /metrics endpoint
is served for the lifetime of the loop.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %d", interval)
			}
			return runLoop(cmd.Context(), resolveConfigPath(*configPath), args, interval)
		},
	}
	cmd.Flags().IntVar(&interval, "interval", 60, "Minutes between passes")
	return cmd
}

func buildBackfillCommentsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-comments",
		Short: "Post reasoning comments for submitted forecasts that lack one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfillComments(cmd.Context(), resolveConfigPath(*configPath))
		},
	}
}

func parsePostID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid post id %q", arg)
	}
	return id, nil
}
