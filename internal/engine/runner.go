/*
PURPOSE:
  High-level runner that orchestrates a benchmark sweep.
  Generates the run grid, executes each run in order, records results.

REQUIREMENTS:
  User-specified:
  - Strictly sequential: one benchmark at a time on the shared hardware.
  - A failed run is skipped, never fatal to the sweep.
  - Cooldown between runs, not after the final one.

  Implementation-discovered:
  - The CSV handle, failed-run log and metrics belong to one Session that is
    opened before the loop and closed when it ends.
  - Whether the CSV needs a header is decided when the session opens.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/engine/executor.go, internal/output, internal/sweep,
    internal/metrics

ERROR HANDLING:
  - Logs run failures but continues (resilience).
  - Returns setup errors, CSV write errors and context cancellation.

IMPLEMENTATION RULES:
  - Generate the grid before opening output files.

USAGE:
  engine.Run(ctx, cfg)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/executor.go

MAINTENANCE:
  - Update iteration logic if the grid grows new axes.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/daryltucker/bench-sweep/internal/config"
	"github.com/daryltucker/bench-sweep/internal/metrics"
	"github.com/daryltucker/bench-sweep/internal/model"
	"github.com/daryltucker/bench-sweep/internal/output"
	"github.com/daryltucker/bench-sweep/internal/sweep"
)

// Session owns everything one sweep writes to disk.
type Session struct {
	ID       string
	Dir      string
	CSV      *output.CSVWriter
	Failures *output.FailureLog
	Metrics  *metrics.Sweep
}

// OpenSession creates the experiment directory and opens its outputs.
func OpenSession(cfg *config.Config) (*Session, error) {
	dir := cfg.ExperimentDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create experiment directory %s: %w", dir, err)
	}

	csvPath := cfg.ResultsPath()
	csvWriter, err := output.OpenCSV(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init CSV writer at %s: %w", csvPath, err)
	}

	return &Session{
		ID:       uuid.New().String(),
		Dir:      dir,
		CSV:      csvWriter,
		Failures: output.NewFailureLog(cfg.FailedRunsPath()),
		Metrics:  metrics.New(cfg.MetricsPath()),
	}, nil
}

// Close writes the final metrics and closes the CSV file.
func (s *Session) Close() error {
	return errors.Join(s.Metrics.Flush(), s.CSV.Close())
}

// Plan returns the configurations a sweep of cfg would run.
func Plan(cfg *config.Config) ([]*model.RunConfig, error) {
	axes, err := sweep.ParseAxes(cfg.Sweep)
	if err != nil {
		return nil, err
	}
	return sweep.Generate(cfg.Base, axes)
}

// Runner drives one sweep.
type Runner struct {
	Config   *config.Config
	Launcher Launcher
	Sleep    Sleeper
	Now      func() time.Time
}

// Run executes the full sweep described by cfg.
func Run(ctx context.Context, cfg *config.Config) error {
	r := &Runner{Config: cfg}
	return r.Run(ctx)
}

// Run executes the sweep.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.Config
	log := output.Logger

	if err := os.MkdirAll(cfg.ExperimentDir(), 0755); err != nil {
		return fmt.Errorf("failed to create experiment directory %s: %w", cfg.ExperimentDir(), err)
	}

	configs, err := Plan(cfg)
	if err != nil {
		return fmt.Errorf("invalid parameter_sweep: %w", err)
	}
	if len(configs) == 0 {
		log.WarnContext(ctx, "No benchmark configurations were generated. Check parameter_sweep values.")
		return nil
	}

	sess, err := OpenSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close sweep session", "error", err)
		}
	}()

	ctx = output.WithSession(ctx, sess.ID)
	sess.Metrics.SetPlanned(len(configs))
	log.InfoContext(ctx, "Generated benchmark configurations",
		"count", len(configs),
		"experiment", cfg.Setup.ShortExperimentName,
		"dir", sess.Dir,
		"write_header", sess.CSV.NeedsHeader(),
	)

	x := &Executor{
		Setup:      cfg.Setup,
		ArchiveDir: cfg.RawResultsDir(),
		Failures:   sess.Failures,
		Metrics:    sess.Metrics,
		Launcher:   r.Launcher,
		Sleep:      r.Sleep,
	}

	var recorded, failed int
	for i, rc := range configs {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress := fmt.Sprintf("%d/%d", i+1, len(configs))

		res, ok := x.Run(ctx, rc)
		switch {
		case ok:
			now := r.now()
			if err := sess.CSV.Write(rc, res, now); err != nil {
				return fmt.Errorf("failed to write result to CSV: %w", err)
			}
			recorded++
			sess.Metrics.RunFinished(metrics.StatusRecorded, now)
			log.InfoContext(ctx, "Saved results", "run", progress)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			failed++
			sess.Metrics.RunFinished(metrics.StatusFailed, r.now())
			log.WarnContext(ctx, "Skipping results due to error", "run", progress)
		}

		if err := sess.Metrics.Flush(); err != nil {
			log.WarnContext(ctx, "Failed to write metrics textfile", "error", err)
		}

		if i < len(configs)-1 {
			cooldown := cfg.Setup.Cooldown()
			log.InfoContext(ctx, "GPU cooldown", "duration", cooldown)
			if err := r.sleep(ctx, cooldown); err != nil {
				return err
			}
		}
	}

	log.InfoContext(ctx, "Sweep complete", "recorded", recorded, "failed", failed, "results", cfg.ResultsPath())
	return nil
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep == nil {
		return Sleep(ctx, d)
	}
	return r.Sleep(ctx, d)
}
