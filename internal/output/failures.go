/*
PURPOSE:
  Persists run configurations that exhausted every retry.
  The log is a single JSON array so it can be read back or re-queued by hand.

REQUIREMENTS:
  User-specified:
  - Append-only from the sweep's point of view.
  - A corrupt or unwritable log must never stop the sweep.

  Implementation-discovered:
  - Read-modify-write of the whole array on every failure. Not safe with
    more than one writer; the sweep is the only one.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Executor)
  - Consumes: internal/model.RunConfig

ERROR HANDLING:
  - Append logs and swallows every error. Load returns errors.

IMPLEMENTATION RULES:
  - Use encoding/json with 4-space indentation.

USAGE:
  log := output.NewFailureLog("experiments/x/failed_runs.json")
  log.Append(ctx, cfg)

SELF-HEALING INSTRUCTIONS:
  - A corrupt file is left untouched; fix or delete it by hand.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - None.
*/

package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/daryltucker/bench-sweep/internal/model"
)

// FailureLog is the JSON array of configurations that never succeeded.
type FailureLog struct {
	path string
	mu   sync.Mutex
}

// NewFailureLog returns a log backed by path. Nothing is touched until the
// first Append.
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path}
}

// Path returns the backing file.
func (fl *FailureLog) Path() string {
	return fl.path
}

// Append adds cfg to the log. Errors are reported and swallowed.
func (fl *FailureLog) Append(ctx context.Context, cfg *model.RunConfig) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if err := fl.append(cfg); err != nil {
		Logger.ErrorContext(ctx, "Failed to write failed-run log", "path", fl.path, "error", err)
	}
}

func (fl *FailureLog) append(cfg *model.RunConfig) error {
	entries, err := fl.load()
	if err != nil {
		return err
	}
	entries = append(entries, cfg)

	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode failed runs: %w", err)
	}
	return os.WriteFile(fl.path, data, 0644)
}

// Load returns every logged configuration in order. A missing or empty file
// is an empty log.
func (fl *FailureLog) Load() ([]*model.RunConfig, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.load()
}

func (fl *FailureLog) load() ([]*model.RunConfig, error) {
	data, err := os.ReadFile(fl.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []*model.RunConfig
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fl.path, err)
	}
	return entries, nil
}
