/*
PURPOSE:
  Runs one benchmark configuration through the external benchmark tool,
  retrying until the run completes enough requests or attempts run out.

REQUIREMENTS:
  User-specified:
  - Tool output streams to the console, not captured.
  - The tool writes its own result file; find it by diffing the result glob
    before and after the run.
  - Accept when failed requests < num_prompts / 200 (under 0.5%).
  - Accepted files are archived, rejected files deleted.
  - Cooldown between attempts, not after the last one.
  - Exhausted configurations go to the failed-run log.

  Implementation-discovered:
  - Several new files after one run: take the most recently modified,
    ties broken by the lexically greatest name.
  - Result payloads are schema-checked before the threshold is computed.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go
  - Uses: internal/config, internal/model, internal/output, internal/metrics

ERROR HANDLING:
  - Every per-attempt failure is logged and retried. Run never returns an
    error; a false second return means "no result".
  - Context cancellation stops retrying without logging a failed run.

IMPLEMENTATION RULES:
  - Launcher and Sleeper are injectable for tests.

USAGE:
  x := &engine.Executor{Setup: cfg.Setup, ArchiveDir: dir, Failures: fl}
  res, ok := x.Run(ctx, runCfg)

SELF-HEALING INSTRUCTIONS:
  - If the tool changes its result naming, update experiment_setup.result_glob.

RELATED FILES:
  - internal/engine/validate.go
  - internal/output/failures.go

MAINTENANCE:
  - Update BuildCommand when the tool's flags change.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/daryltucker/bench-sweep/internal/config"
	"github.com/daryltucker/bench-sweep/internal/metrics"
	"github.com/daryltucker/bench-sweep/internal/model"
	"github.com/daryltucker/bench-sweep/internal/output"
	"github.com/daryltucker/bench-sweep/internal/sweep"
)

// FailureRateDivisor sets the acceptance threshold: a run passes when fewer
// than num_prompts/FailureRateDivisor requests failed.
const FailureRateDivisor = 200

var (
	// ErrNoResultFile means the tool exited cleanly but wrote no new result file.
	ErrNoResultFile = errors.New("no new result file found")
	// ErrBelowThreshold means too many requests failed in the run.
	ErrBelowThreshold = errors.New("failure rate exceeds threshold")
)

// Launcher starts the benchmark tool and waits for it to exit.
type Launcher interface {
	Launch(ctx context.Context, dir string, argv []string) error
}

// ExecLauncher runs the tool as a subprocess with output on the console.
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (l ExecLauncher) Launch(ctx context.Context, dir string, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty benchmark command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor runs single configurations with retries.
type Executor struct {
	Setup      config.Setup
	ArchiveDir string
	Failures   *output.FailureLog
	Metrics    *metrics.Sweep
	Launcher   Launcher
	Sleep      Sleeper
}

// Run executes cfg until it is accepted or MaxRetries attempts have failed.
func (x *Executor) Run(ctx context.Context, cfg *model.RunConfig) (*model.Result, bool) {
	log := output.Logger
	retries := x.Setup.MaxRetries

	for attempt := 1; attempt <= retries; attempt++ {
		log.InfoContext(ctx, "Running benchmark",
			"attempt", fmt.Sprintf("%d/%d", attempt, retries),
			"config", sweep.Describe(cfg),
		)

		res, err := x.attempt(ctx, cfg)
		if err == nil {
			return res, true
		}
		if ctx.Err() != nil {
			log.WarnContext(ctx, "Benchmark interrupted", "error", ctx.Err())
			return nil, false
		}
		log.WarnContext(ctx, "Benchmark attempt failed", "attempt", attempt, "error", err)

		if attempt < retries {
			cooldown := x.Setup.Cooldown()
			log.InfoContext(ctx, "Cooldown before retry", "duration", cooldown)
			if err := x.sleep(ctx, cooldown); err != nil {
				return nil, false
			}
		}
	}

	log.ErrorContext(ctx, "Benchmark failed after all attempts",
		"attempts", retries,
		"failed_runs_file", x.Failures.Path(),
	)
	x.Failures.Append(ctx, cfg)
	return nil, false
}

func (x *Executor) attempt(ctx context.Context, cfg *model.RunConfig) (*model.Result, error) {
	log := output.Logger
	dir := x.Setup.WorkDir

	before, err := snapshot(dir, x.Setup.ResultGlob)
	if err != nil {
		return nil, err
	}

	argv := BuildCommand(x.Setup, cfg)
	log.InfoContext(ctx, "Executing", "command", strings.Join(argv, " "))

	start := time.Now()
	err = x.launcher().Launch(ctx, dir, argv)
	elapsed := time.Since(start)
	if err != nil {
		x.Metrics.ObserveAttempt(metrics.OutcomeLaunchFailed, elapsed)
		return nil, fmt.Errorf("benchmark command failed: %w", err)
	}

	after, err := snapshot(dir, x.Setup.ResultGlob)
	if err != nil {
		return nil, err
	}
	created := newFiles(before, after)
	if len(created) == 0 {
		x.Metrics.ObserveAttempt(metrics.OutcomeNoResultFile, elapsed)
		return nil, fmt.Errorf("%w matching %s in %s", ErrNoResultFile, x.Setup.ResultGlob, dir)
	}

	path, err := pickNewest(created)
	if err != nil {
		x.Metrics.ObserveAttempt(metrics.OutcomeNoResultFile, elapsed)
		return nil, err
	}
	if len(created) > 1 {
		log.WarnContext(ctx, "Multiple new result files found, using the most recent", "chosen", path, "candidates", created)
	}
	log.InfoContext(ctx, "Benchmark run finished", "duration", elapsed.Round(10*time.Millisecond), "result_file", path)

	res, err := readResult(path)
	if err != nil {
		x.Metrics.ObserveAttempt(metrics.OutcomeInvalidResult, elapsed)
		x.discard(ctx, path)
		return nil, err
	}

	numPrompts, ok := cfg.Int("num_prompts")
	if !ok || numPrompts <= 0 {
		numPrompts = 1
	}
	completed, _ := res.Int("completed")
	failed := numPrompts - completed
	rate := fmt.Sprintf("%.2f%%", 100*float64(failed)/float64(numPrompts))

	if !Accept(numPrompts, completed) {
		x.Metrics.ObserveAttempt(metrics.OutcomeRejected, elapsed)
		x.discard(ctx, path)
		return nil, fmt.Errorf("%w: %d/%d requests completed (failure rate %s)", ErrBelowThreshold, completed, numPrompts, rate)
	}

	log.InfoContext(ctx, "Benchmark successful", "completed", completed, "num_prompts", numPrompts, "failure_rate", rate)
	x.Metrics.ObserveAttempt(metrics.OutcomeAccepted, elapsed)
	x.archive(ctx, path)
	return res, nil
}

// Accept reports whether a run with completed of numPrompts requests done
// is within the failure threshold.
func Accept(numPrompts, completed int) bool {
	failed := numPrompts - completed
	return float64(failed) < float64(numPrompts)/FailureRateDivisor
}

// BuildCommand returns the full argv for one run of cfg.
func BuildCommand(setup config.Setup, cfg *model.RunConfig) []string {
	field := func(key string) string {
		v, _ := cfg.Get(key)
		return model.FormatValue(v)
	}

	argv := append([]string{}, setup.BenchCommand...)
	argv = append(argv,
		"--base-url", setup.BaseURL(),
		"--backend", setup.Backend,
		"--model", field("model"),
		"--endpoint", setup.Endpoint,
		"--tokenizer", field("tokenizer"),
		"--dataset-name", "random",
		"--random-input-len", field("input_len"),
		"--random-output-len", field("output_len"),
		"--num-prompts", field("num_prompts"),
		"--percentile-metrics", setup.PercentileMetrics,
		"--save-result",
		"--request-rate", field("req_rate"),
	)
	if v, ok := cfg.Get("max_curr"); ok && v != nil {
		argv = append(argv, "--max-concurrency", model.FormatValue(v))
	}
	if goodput, ok := cfg.String("goodput"); ok && strings.TrimSpace(goodput) != "" {
		argv = append(argv, "--goodput")
		argv = append(argv, strings.Fields(goodput)...)
	}
	return argv
}

func (x *Executor) launcher() Launcher {
	if x.Launcher == nil {
		return ExecLauncher{}
	}
	return x.Launcher
}

func (x *Executor) sleep(ctx context.Context, d time.Duration) error {
	if x.Sleep == nil {
		return Sleep(ctx, d)
	}
	return x.Sleep(ctx, d)
}

func (x *Executor) archive(ctx context.Context, path string) {
	if err := os.MkdirAll(x.ArchiveDir, 0755); err != nil {
		output.Logger.WarnContext(ctx, "Failed to create raw results directory", "dir", x.ArchiveDir, "error", err)
		return
	}
	dest := filepath.Join(x.ArchiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		output.Logger.WarnContext(ctx, "Failed to archive result file", "from", path, "to", dest, "error", err)
		return
	}
	output.Logger.InfoContext(ctx, "Raw results saved", "path", dest)
}

func (x *Executor) discard(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		output.Logger.WarnContext(ctx, "Failed to remove result file", "path", path, "error", err)
	}
}

func readResult(path string) (*model.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := model.ParseResult(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := ValidateResult(res); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

func snapshot(dir, pattern string) (map[string]struct{}, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad result glob %q: %w", pattern, err)
	}
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		set[m] = struct{}{}
	}
	return set, nil
}

func newFiles(before, after map[string]struct{}) []string {
	var out []string
	for p := range after {
		if _, ok := before[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// pickNewest returns the most recently modified path, breaking ties by the
// lexically greatest name.
func pickNewest(paths []string) (string, error) {
	type candidate struct {
		path string
		mod  time.Time
	}
	var cands []candidate
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{path: p, mod: info.ModTime()})
	}
	if len(cands) == 0 {
		return "", fmt.Errorf("%w: new result files vanished before they could be read", ErrNoResultFile)
	}
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].mod.Equal(cands[j].mod) {
			return cands[i].mod.After(cands[j].mod)
		}
		return cands[i].path > cands[j].path
	})
	return cands[0].path, nil
}
