/*
PURPOSE:
  Appends accepted benchmark runs to the experiment CSV file.
  Each row is the run configuration merged with its result and a timestamp.

REQUIREMENTS:
  User-specified:
  - Append mode. Header written once, only when the file is new or empty.
  - Column order fixed at the first row of a session and reused after.
  - Keep file handle open and flush after every row so an interrupted sweep
    keeps its progress.

  Implementation-discovered:
  - When appending to a non-empty file, its header row is the column order,
    so rows line up with what is already on disk.
  - Result files repeat some config keys (num_prompts, ...); each column
    appears once and the result value wins.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Session)
  - Consumes: internal/model.RunConfig, internal/model.Result

ERROR HANDLING:
  - Returns error on file open, header read or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write.

USAGE:
  w, err := output.OpenCSV("experiments/x/benchmark_results.csv")
  w.Write(cfg, res, time.Now())
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If a column is missing from old files, it simply renders empty.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update PreferredColumns when new well-known config keys appear.
*/

package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/daryltucker/bench-sweep/internal/model"
)

// TimestampColumn is the column holding the row's write time.
const TimestampColumn = "timestamp"

// PreferredColumns lead the column order when present in the configuration.
var PreferredColumns = []string{
	"model", "tokenizer", "hardware", "notes", "pd_enabled",
	"prefill_node", "prefill_dp", "prefill_tp",
	"decode_node", "decode_dp", "decode_tp",
}

// CSVWriter appends rows to a results file for the life of one sweep.
type CSVWriter struct {
	file       *os.File
	writer     *csv.Writer
	columns    []string
	needHeader bool
	mu         sync.Mutex
}

// OpenCSV opens path for appending, creating it if needed. When the file
// already has content its header row becomes the column order.
func OpenCSV(path string) (*CSVWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	cw := &CSVWriter{
		file:       f,
		writer:     csv.NewWriter(f),
		needHeader: info.Size() == 0,
	}

	if !cw.needHeader {
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		header, err := r.Read()
		if err != nil && !errors.Is(err, io.EOF) {
			f.Close()
			return nil, fmt.Errorf("read existing header of %s: %w", path, err)
		}
		cw.columns = header
	}

	return cw, nil
}

// NeedsHeader reports whether the next row will be preceded by a header.
func (cw *CSVWriter) NeedsHeader() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.needHeader
}

// Columns returns the session column order, nil before the first row of a
// new file.
func (cw *CSVWriter) Columns() []string {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]string, len(cw.columns))
	copy(out, cw.columns)
	return out
}

// Write appends one row built from cfg, res and ts.
func (cw *CSVWriter) Write(cfg *model.RunConfig, res *model.Result, ts time.Time) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	row := MergeRow(cfg, res, ts)

	if len(cw.columns) == 0 {
		cw.columns = ColumnOrder(cfg, res)
	}
	if cw.needHeader {
		if err := cw.writer.Write(cw.columns); err != nil {
			return err
		}
		cw.needHeader = false
	}

	record := make([]string, len(cw.columns))
	for i, col := range cw.columns {
		v, _ := row.Get(col)
		record[i] = model.FormatValue(v)
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close flushes and closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return err
	}
	return cw.file.Close()
}

// MergeRow combines config fields, result fields (overriding on conflict)
// and a timestamp.
func MergeRow(cfg *model.RunConfig, res *model.Result, ts time.Time) *model.Fields {
	row := cfg.Clone()
	row.Merge(res)
	row.Set(TimestampColumn, ts.Format(time.RFC3339Nano))
	return row
}

// ColumnOrder is PreferredColumns present in cfg, the remaining config keys,
// the result keys not already listed, then timestamp.
func ColumnOrder(cfg *model.RunConfig, res *model.Result) []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(k string) {
		if seen[k] || k == TimestampColumn {
			return
		}
		seen[k] = true
		cols = append(cols, k)
	}

	for _, k := range PreferredColumns {
		if cfg.Has(k) {
			add(k)
		}
	}
	for _, k := range cfg.Keys() {
		add(k)
	}
	for _, k := range res.Keys() {
		add(k)
	}
	return append(cols, TimestampColumn)
}
