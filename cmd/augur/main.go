// Package main provides the CLI entry point for the augur forecasting agent.
//
// Augur researches tournament questions with an LLM tool-use loop and
// submits calibrated probabilistic forecasts.
//
// # Basic Usage
//
// Dry-run a single question:
//
//	augur test 12345
//
// Forecast and submit, posting the reasoning as a comment:
//
//	augur submit 12345 --comment
//
// Calibration run against a past date:
//
//	augur retrodict 12345 67890 --forecast-date 2026-01-15
//
// Forecast every open question in a tournament, repeatedly:
//
//	augur loop quarterly-cup --interval 120
//
// # Environment Variables
//
//   - METACULUS_TOKEN: platform API token
//   - ANTHROPIC_API_KEY: model provider key
//   - EXA_API_KEY: web search key
//   - ASKNEWS_CLIENT_ID / ASKNEWS_SECRET: news search credentials
//   - FRED_API_KEY: economic data key
//   - AUGUR_MODEL, AUGUR_MAX_TURNS, AUGUR_SANDBOX: agent knobs
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "augur",
		Short: "Augur - autonomous tournament forecasting agent",
		Long: `Augur researches forecasting-tournament questions with an LLM tool-use
loop (web search, prediction markets, economic data, Wikipedia, archives)
and submits calibrated probabilistic forecasts.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (or set AUGUR_CONFIG)")

	rootCmd.AddCommand(
		buildTestCmd(&configPath),
		buildSubmitCmd(&configPath),
		buildRetrodictCmd(&configPath),
		buildTournamentCmd(&configPath),
		buildLoopCmd(&configPath),
		buildBackfillCommentsCmd(&configPath),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("AUGUR_CONFIG"); env != "" {
		return env
	}
	return "augur.yaml"
}
