/*
PURPOSE:
  Defines the 'run' subcommand.
  Executes a full benchmark sweep from an experiment file.

REQUIREMENTS:
  User-specified:
  - One positional argument: the experiment YAML file.
  - Missing or invalid configuration aborts with a message.

  Implementation-discovered:
  - Ctrl-C must stop the running benchmark and the cooldown, not leave the
    subprocess orphaned.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run()
  - Uses: internal/config

ERROR HANDLING:
  - Returns error if config load fails or the sweep aborts.

IMPLEMENTATION RULES:
  - Logic: Load Config -> Apply settings -> Engine.Run.

USAGE:
  bench-sweep run experiments/qwen3_tp8.yaml

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/cli/root.go
  - internal/engine/runner.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daryltucker/bench-sweep/internal/config"
	"github.com/daryltucker/bench-sweep/internal/engine"
	"github.com/daryltucker/bench-sweep/internal/output"
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Run a benchmark sweep",
	Long: `Runs every configuration generated from the experiment file, one at a time.
Each run is retried up to max_retries times with a GPU cooldown between
attempts and between runs. A run is accepted when fewer than 0.5% of its
requests failed.

Outputs go to <experiments_dir>/<short_experiment_name>/:
  benchmark_results.csv   one row per accepted run (appended)
  failed_runs.json        configurations that exhausted their retries
  raw_results/            the benchmark tool's result files
  sweep_metrics.prom      Prometheus textfile with sweep progress`,
	Example: `  bench-sweep run experiments/qwen3_tp8.yaml

  # JSON logs, results under /data
  BENCH_SWEEP_LOG_FORMAT=json bench-sweep run --experiments-dir /data sweep.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		settings.Apply(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		output.Logger.InfoContext(ctx, "Loaded experiment", "file", args[0], "experiment", cfg.Setup.ShortExperimentName)
		return engine.Run(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
