package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/bench-sweep/internal/config"
	"github.com/daryltucker/bench-sweep/internal/model"
	"github.com/daryltucker/bench-sweep/internal/output"
)

// step is what the fake tool does on one invocation.
type step func(dir string, n int) error

type fakeLauncher struct {
	calls [][]string
	dirs  []string
	steps []step
}

func (f *fakeLauncher) Launch(_ context.Context, dir string, argv []string) error {
	f.calls = append(f.calls, argv)
	f.dirs = append(f.dirs, dir)
	i := len(f.calls) - 1
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	return f.steps[i](dir, len(f.calls))
}

func writesResult(completed int) step {
	return func(dir string, n int) error {
		body := fmt.Sprintf(`{"date": "run-%d", "completed": %d, "mean_ttft_ms": 10.5, "p99_itl_ms": 40.25}`, n, completed)
		return os.WriteFile(filepath.Join(dir, fmt.Sprintf("vllm-%03d.json", n)), []byte(body), 0644)
	}
}

func writesRaw(body string) step {
	return func(dir string, n int) error {
		return os.WriteFile(filepath.Join(dir, fmt.Sprintf("vllm-%03d.json", n)), []byte(body), 0644)
	}
}

func exitsNonZero(string, int) error { return errors.New("exit status 1") }

func writesNothing(string, int) error { return nil }

type sleepRecorder struct {
	calls []time.Duration
	err   error
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return s.err
}

func testSetup(workDir string) config.Setup {
	s := config.DefaultSetup()
	s.IP = "10.0.0.5"
	s.Port = 8000
	s.MaxRetries = 3
	s.GPUCooldownSec = 7
	s.WorkDir = workDir
	return s
}

func throughputConfig(numPrompts int) *model.RunConfig {
	c := model.NewFields()
	c.Set("model", "llama")
	c.Set("tokenizer", "llama-tok")
	c.Set("req_rate", "inf")
	c.Set("input_len", 1024)
	c.Set("output_len", 256)
	c.Set("num_prompts", numPrompts)
	c.Set("max_curr", 64)
	return c
}

type harness struct {
	work     string
	archive  string
	launcher *fakeLauncher
	sleeper  *sleepRecorder
	failures *output.FailureLog
	x        *Executor
}

func newHarness(t *testing.T, steps ...step) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		work:     filepath.Join(root, "work"),
		archive:  filepath.Join(root, "raw_results"),
		launcher: &fakeLauncher{steps: steps},
		sleeper:  &sleepRecorder{},
		failures: output.NewFailureLog(filepath.Join(root, "failed_runs.json")),
	}
	require.NoError(t, os.MkdirAll(h.work, 0755))
	h.x = &Executor{
		Setup:      testSetup(h.work),
		ArchiveDir: h.archive,
		Failures:   h.failures,
		Launcher:   h.launcher,
		Sleep:      h.sleeper.Sleep,
	}
	return h
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAccept(t *testing.T) {
	tests := []struct {
		numPrompts, completed int
		want                  bool
	}{
		{1000, 1000, true},
		{1000, 998, true},
		{1000, 996, true},
		{1000, 995, false},
		{1000, 990, false},
		{512, 510, true},
		{512, 509, false},
		{640, 1000, true},
		{100, 100, true},
		{100, 99, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Accept(tt.numPrompts, tt.completed), "%d/%d", tt.completed, tt.numPrompts)
	}
}

func TestBuildCommand_Throughput(t *testing.T) {
	cfg := throughputConfig(640)
	cfg.Set("goodput", "ttft:200  tpot:50")

	argv := BuildCommand(testSetup("."), cfg)
	assert.Equal(t, []string{
		"vllm", "bench", "serve",
		"--base-url", "http://10.0.0.5:8000",
		"--backend", "vllm",
		"--model", "llama",
		"--endpoint", "/v1/completions",
		"--tokenizer", "llama-tok",
		"--dataset-name", "random",
		"--random-input-len", "1024",
		"--random-output-len", "256",
		"--num-prompts", "640",
		"--percentile-metrics", "ttft,tpot,itl,e2el",
		"--save-result",
		"--request-rate", "inf",
		"--max-concurrency", "64",
		"--goodput", "ttft:200", "tpot:50",
	}, argv)
}

func TestBuildCommand_LatencyOmitsConcurrency(t *testing.T) {
	cfg := throughputConfig(512)
	cfg.Set("req_rate", 5.0)
	cfg.Set("max_curr", nil)
	cfg.Set("goodput", "")

	argv := BuildCommand(testSetup("."), cfg)
	joined := strings.Join(argv, " ")
	assert.Contains(t, joined, "--request-rate 5")
	assert.NotContains(t, joined, "--max-concurrency")
	assert.NotContains(t, joined, "--goodput")
	assert.Equal(t, "5", argv[len(argv)-1])
}

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	h := newHarness(t, writesResult(1000))

	res, ok := h.x.Run(context.Background(), throughputConfig(1000))
	require.True(t, ok)

	c, _ := res.Int("completed")
	assert.Equal(t, 1000, c)
	assert.Equal(t, []string{"date", "completed", "mean_ttft_ms", "p99_itl_ms"}, res.Keys())

	assert.Len(t, h.launcher.calls, 1)
	assert.Equal(t, h.work, h.launcher.dirs[0])
	assert.Empty(t, h.sleeper.calls)
	assert.Empty(t, listDir(t, h.work))
	assert.Equal(t, []string{"vllm-001.json"}, listDir(t, h.archive))

	entries, err := h.failures.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecutor_RetryBound(t *testing.T) {
	h := newHarness(t, writesResult(990))
	cfg := throughputConfig(1000)

	res, ok := h.x.Run(context.Background(), cfg)
	assert.False(t, ok)
	assert.Nil(t, res)

	assert.Len(t, h.launcher.calls, 3)
	assert.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second}, h.sleeper.calls)
	assert.Empty(t, listDir(t, h.work), "rejected result files are deleted")
	assert.Empty(t, listDir(t, h.archive))

	entries, err := h.failures.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, cfg.Keys(), entries[0].Keys())
}

func TestExecutor_RejectThenAccept(t *testing.T) {
	h := newHarness(t, writesResult(990), writesResult(998))

	res, ok := h.x.Run(context.Background(), throughputConfig(1000))
	require.True(t, ok)

	d, _ := res.String("date")
	assert.Equal(t, "run-2", d)
	assert.Len(t, h.launcher.calls, 2)
	assert.Len(t, h.sleeper.calls, 1)
	assert.Equal(t, []string{"vllm-002.json"}, listDir(t, h.archive))
}

func TestExecutor_LaunchFailureAndMissingFileAreRetried(t *testing.T) {
	h := newHarness(t, exitsNonZero, writesNothing, writesResult(512))

	_, ok := h.x.Run(context.Background(), throughputConfig(512))
	require.True(t, ok)
	assert.Len(t, h.launcher.calls, 3)
	assert.Len(t, h.sleeper.calls, 2)
}

func TestExecutor_InvalidResultIsDiscarded(t *testing.T) {
	h := newHarness(t, writesRaw(`{"mean_ttft_ms": 3}`), writesRaw(`{"completed": "lots"}`), writesRaw(`not json at all: [`))

	_, ok := h.x.Run(context.Background(), throughputConfig(512))
	assert.False(t, ok)
	assert.Len(t, h.launcher.calls, 3)
	assert.Empty(t, listDir(t, h.work))

	entries, err := h.failures.Load()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExecutor_AcceptsPythonJSONOutput(t *testing.T) {
	bodies := []string{
		`{"completed": 1000, "endpoint": "\/v1\/completions"}`,
		`{"completed": 1000, "generated_texts": ["ok \ud83d\ude00"], "errors": [""]}`,
		`{"completed": 1000, "std_ttft_ms": NaN, "max_itl_ms": Infinity}`,
	}
	for _, body := range bodies {
		h := newHarness(t, writesRaw(body))

		res, ok := h.x.Run(context.Background(), throughputConfig(1000))
		require.True(t, ok, body)
		c, _ := res.Int("completed")
		assert.Equal(t, 1000, c)

		assert.Len(t, h.launcher.calls, 1, body)
		assert.Empty(t, h.sleeper.calls)
		assert.Equal(t, []string{"vllm-001.json"}, listDir(t, h.archive))
		entries, err := h.failures.Load()
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestValidateResult_NonFiniteCompleted(t *testing.T) {
	res, err := model.ParseResult([]byte(`{"completed": NaN}`))
	require.NoError(t, err)
	assert.Error(t, ValidateResult(res))
}

func TestExecutor_PreexistingFilesAreIgnored(t *testing.T) {
	h := newHarness(t, writesNothing)
	old := filepath.Join(h.work, "vllm-old.json")
	require.NoError(t, os.WriteFile(old, []byte(`{"completed": 1000}`), 0644))

	h.x.Setup.MaxRetries = 1
	_, ok := h.x.Run(context.Background(), throughputConfig(1000))
	assert.False(t, ok)
	assert.Empty(t, h.sleeper.calls)
	assert.FileExists(t, old)
}

func TestExecutor_MultipleNewFilesPicksNewest(t *testing.T) {
	h := newHarness(t, func(dir string, n int) error {
		older := filepath.Join(dir, "vllm-b.json")
		newer := filepath.Join(dir, "vllm-a.json")
		if err := os.WriteFile(older, []byte(`{"completed": 10, "which": "older"}`), 0644); err != nil {
			return err
		}
		if err := os.WriteFile(newer, []byte(`{"completed": 1000, "which": "newer"}`), 0644); err != nil {
			return err
		}
		past := time.Now().Add(-time.Hour)
		return os.Chtimes(older, past, past)
	})

	res, ok := h.x.Run(context.Background(), throughputConfig(1000))
	require.True(t, ok)
	w, _ := res.String("which")
	assert.Equal(t, "newer", w)
	assert.Equal(t, []string{"vllm-a.json"}, listDir(t, h.archive))
	// The unchosen file is left where the tool wrote it.
	assert.Equal(t, []string{"vllm-b.json"}, listDir(t, h.work))
}

func TestPickNewest_TieBreaksByName(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var paths []string
	for _, name := range []string{"vllm-1.json", "vllm-3.json", "vllm-2.json"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0644))
		require.NoError(t, os.Chtimes(p, ts, ts))
		paths = append(paths, p)
	}

	got, err := pickNewest(paths)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vllm-3.json"), got)

	_, err = pickNewest([]string{filepath.Join(dir, "gone.json")})
	assert.ErrorIs(t, err, ErrNoResultFile)
}

func TestExecutor_CancelledDuringCooldown(t *testing.T) {
	h := newHarness(t, exitsNonZero)
	ctx, cancel := context.WithCancel(context.Background())
	h.x.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, ok := h.x.Run(ctx, throughputConfig(512))
	assert.False(t, ok)
	assert.Len(t, h.launcher.calls, 1)

	entries, err := h.failures.Load()
	require.NoError(t, err)
	assert.Empty(t, entries, "an interrupted run is not a failed run")
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestValidateResult(t *testing.T) {
	ok := model.NewFields()
	ok.Set("completed", 10)
	ok.Set("anything", []interface{}{1, "x"})
	assert.NoError(t, ValidateResult(ok))

	missing := model.NewFields()
	missing.Set("duration", 1.5)
	assert.Error(t, ValidateResult(missing))

	negative := model.NewFields()
	negative.Set("completed", -1)
	assert.Error(t, ValidateResult(negative))
}
