/*
PURPOSE:
  Counts sweep progress (planned runs, attempts by outcome, finished runs)
  for a single session.

REQUIREMENTS:
  Implementation-discovered:
  - Sweeps run for hours on a GPU host without a scrape endpoint, so the
    registry is written as a node_exporter textfile after every run.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner, Executor)
  - Uses: github.com/prometheus/client_golang

ERROR HANDLING:
  - Flush returns write errors; callers log them and carry on.

IMPLEMENTATION RULES:
  - Private registry per session, never the global default.
  - A nil *Sweep is a no-op.

USAGE:
  m := metrics.New(cfg.MetricsPath())
  m.ObserveAttempt(metrics.OutcomeAccepted, d)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/runner.go

MAINTENANCE:
  - Renaming a metric breaks dashboards reading the textfile.
*/

// Package metrics counts sweep progress in a private Prometheus registry and
// writes it as a node_exporter textfile after every run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes.
const (
	OutcomeAccepted      = "accepted"
	OutcomeRejected      = "rejected"
	OutcomeLaunchFailed  = "launch_failed"
	OutcomeNoResultFile  = "no_result_file"
	OutcomeInvalidResult = "invalid_result"
)

// Run statuses.
const (
	StatusRecorded = "recorded"
	StatusFailed   = "failed"
)

// Sweep holds the metrics of one sweep session. A nil *Sweep is valid and
// records nothing.
type Sweep struct {
	registry *prometheus.Registry
	path     string

	Planned         prometheus.Gauge
	Attempts        *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
	LastSuccess     prometheus.Gauge
}

// New builds the sweep metrics. path may be empty to skip textfile output.
func New(path string) *Sweep {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Sweep{
		registry: reg,
		path:     path,
		Planned: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bench_sweep_planned_runs",
			Help: "Number of run configurations generated for this sweep",
		}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bench_sweep_attempts_total",
			Help: "Benchmark tool invocations by outcome",
		}, []string{"outcome"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bench_sweep_runs_total",
			Help: "Finished run configurations by status",
		}, []string{"status"}),
		AttemptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bench_sweep_attempt_duration_seconds",
			Help:    "Wall time of one benchmark tool invocation",
			Buckets: prometheus.ExponentialBuckets(15, 2, 10), // 15s to ~2h
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bench_sweep_last_success_timestamp_seconds",
			Help: "Unix time of the last recorded run",
		}),
	}
}

// SetPlanned records the number of generated configurations.
func (s *Sweep) SetPlanned(n int) {
	if s == nil {
		return
	}
	s.Planned.Set(float64(n))
}

// ObserveAttempt counts one tool invocation.
func (s *Sweep) ObserveAttempt(outcome string, d time.Duration) {
	if s == nil {
		return
	}
	s.Attempts.WithLabelValues(outcome).Inc()
	if d > 0 {
		s.AttemptDuration.Observe(d.Seconds())
	}
}

// RunFinished counts one configuration leaving the executor.
func (s *Sweep) RunFinished(status string, at time.Time) {
	if s == nil {
		return
	}
	s.Runs.WithLabelValues(status).Inc()
	if status == StatusRecorded {
		s.LastSuccess.Set(float64(at.Unix()))
	}
}

// Gatherer exposes the registry.
func (s *Sweep) Gatherer() prometheus.Gatherer {
	return s.registry
}

// Flush writes the textfile. It is a no-op without a path.
func (s *Sweep) Flush() error {
	if s == nil || s.path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(s.path, s.registry)
}
