/*
PURPOSE:
  Defines the 'plan' subcommand.
  Prints the configurations a sweep would run without running anything,
  or with --failed the configurations that exhausted their retries.

REQUIREMENTS:
  Implementation-discovered:
  - Useful validation step before a sweep that may take hours.
  - Failed runs are reviewed (or copied into a re-run experiment) from the
    same listing.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Plan(), internal/output.FailureLog.Load()

ERROR HANDLING:
  - Returns config and sweep errors.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  bench-sweep plan sweep.yaml
  bench-sweep plan --json sweep.yaml
  bench-sweep plan --failed sweep.yaml

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/sweep/generate.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daryltucker/bench-sweep/internal/config"
	"github.com/daryltucker/bench-sweep/internal/engine"
	"github.com/daryltucker/bench-sweep/internal/model"
	"github.com/daryltucker/bench-sweep/internal/output"
	"github.com/daryltucker/bench-sweep/internal/sweep"
)

var (
	planJSON   bool
	planFailed bool
)

var planCmd = &cobra.Command{
	Use:   "plan <config.yaml>",
	Short: "List the configurations a sweep would run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		settings.Apply(cfg)

		out := cmd.OutOrStdout()

		if planFailed {
			path := cfg.FailedRunsPath()
			failed, err := output.NewFailureLog(path).Load()
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if planJSON {
				return printJSON(cmd, failed)
			}
			if len(failed) == 0 {
				fmt.Fprintf(out, "No failed runs recorded in %s\n", path)
				return nil
			}
			printConfigs(cmd, failed)
			fmt.Fprintf(out, "\n%d failed configurations in %s\n", len(failed), path)
			return nil
		}

		configs, err := engine.Plan(cfg)
		if err != nil {
			return err
		}
		if planJSON {
			return printJSON(cmd, configs)
		}

		if len(configs) == 0 {
			fmt.Fprintln(out, "No benchmark configurations were generated. Check parameter_sweep values.")
			return nil
		}
		printConfigs(cmd, configs)
		fmt.Fprintf(out, "\n%d configurations, results in %s\n", len(configs), cfg.ResultsPath())
		return nil
	},
}

func printConfigs(cmd *cobra.Command, configs []*model.RunConfig) {
	for i, c := range configs {
		fmt.Fprintf(cmd.OutOrStdout(), "%4d  %s\n", i+1, sweep.Describe(c))
	}
}

func printJSON(cmd *cobra.Command, configs []*model.RunConfig) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if configs == nil {
		configs = []*model.RunConfig{}
	}
	return enc.Encode(configs)
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print full configurations as JSON")
	planCmd.Flags().BoolVar(&planFailed, "failed", false, "list configurations recorded in the failed-run log instead")
}
