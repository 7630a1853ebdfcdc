/*
PURPOSE:
  Defines the root Cobra command for the bench-sweep CLI.
  Handles global flags and logger setup.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface: run a sweep, preview it, probe a server.
  - Support global logging flags.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Flags, BENCH_SWEEP_* environment variables and defaults are merged by
    config.LoadSettings before any subcommand runs.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/bench-sweep/main.go
  - Calls: Child commands (run, plan, probe)
  - Configures: output.Logger

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to init() and to config.Settings.

RELATED FILES:
  - cmd/bench-sweep/main.go
  - internal/config/env.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"github.com/spf13/cobra"

	"github.com/daryltucker/bench-sweep/internal/config"
	"github.com/daryltucker/bench-sweep/internal/output"
)

var (
	// settings is resolved in PersistentPreRunE and read by subcommands.
	settings config.Settings

	rootCmd = &cobra.Command{
		Use:   "bench-sweep",
		Short: "Parameter sweeps for LLM inference server benchmarks",
		Long: `Runs an external serving benchmark over a grid of request rates, input
lengths, input:output ratios and concurrency caps. Accepted runs are appended
to a CSV file; runs that keep failing are recorded in a JSON log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.LoadSettings(cmd.Flags())
			if err != nil {
				return err
			}
			settings = s
			output.Setup(output.LogConfig{Level: s.LogLevel, Format: s.LogFormat})
			return nil
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("experiments-dir", "", "override experiment_setup.experiments_dir")
}
