/*
PURPOSE:
  Expands the base configuration and the sweep axes into the ordered list of
  benchmark runs, deriving output length and prompt count for each.

REQUIREMENTS:
  User-specified:
  - Iterate req_rates, then input_lens, then ratios, then concurrency values.
  - output_len = floor(input_len / ratio); shapes above MaxOutputLen are skipped.
  - Infinite rates pair only with a concurrency cap; finite rates only with none.
  - Prompt count is floored at MinPrompts.

  Implementation-discovered:
  - Every generated config starts as a copy of the base, so base keys keep
    their position in the CSV header.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Plan), internal/cli (plan)
  - Uses: internal/config, internal/model

ERROR HANDLING:
  - Returns ErrInvalidRatio for a ratio <= 0.
  - Returns parse errors for malformed axis values.

IMPLEMENTATION RULES:
  - Pure functions, no I/O.
  - Output order is part of the contract.

USAGE:
  axes, err := sweep.ParseAxes(cfg.Sweep)
  runs, err := sweep.Generate(cfg.Base, axes)

SELF-HEALING INSTRUCTIONS:
  - If a new axis is added, extend Axes and the loop nest together.

RELATED FILES:
  - internal/engine/runner.go
  - internal/model/rate.go

MAINTENANCE:
  - Keep the constants in sync with the benchmark client's expectations.
*/

// Package sweep expands a base configuration and sweep axes into the ordered
// list of benchmark runs.
package sweep

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/daryltucker/bench-sweep/internal/config"
	"github.com/daryltucker/bench-sweep/internal/model"
)

const (
	// MaxOutputLen is the largest output length a run may request.
	MaxOutputLen = 1024
	// MinPrompts floors derived prompt counts.
	MinPrompts = 512
	// ThroughputPromptFactor is prompts per unit of concurrency for inf-rate runs.
	ThroughputPromptFactor = 10
	// LatencyWindowSeconds approximates one minute of arrivals for finite-rate runs.
	LatencyWindowSeconds = 60
)

// ErrInvalidRatio is returned for a non-positive input:output ratio.
var ErrInvalidRatio = errors.New("input to output length ratio must be positive")

// Axes are the typed sweep dimensions. A nil concurrency means no explicit cap.
type Axes struct {
	ReqRates    []model.RequestRate
	InputLens   []int
	Ratios      []float64
	Concurrency []*int
}

// ParseAxes converts the raw parameter_sweep section.
func ParseAxes(s config.Sweep) (Axes, error) {
	axes := Axes{
		InputLens:   s.InputLens,
		Ratios:      s.Ratios,
		Concurrency: s.MaxConcurrencyValues,
	}
	for _, raw := range s.ReqRates {
		r, err := model.ParseRequestRate(raw)
		if err != nil {
			return Axes{}, fmt.Errorf("parameter_sweep.req_rates: %w", err)
		}
		axes.ReqRates = append(axes.ReqRates, r)
	}
	for _, ratio := range s.Ratios {
		if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			return Axes{}, fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
		}
	}
	return axes, nil
}

// Generate returns one configuration per valid grid point, iterating request
// rate, then input length, then ratio, then concurrency.
func Generate(base *model.RunConfig, axes Axes) ([]*model.RunConfig, error) {
	var configs []*model.RunConfig
	for _, rate := range axes.ReqRates {
		for _, inputLen := range axes.InputLens {
			for _, ratio := range axes.Ratios {
				if ratio <= 0 {
					return nil, fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
				}
				outputLen := OutputLen(inputLen, ratio)
				if outputLen > MaxOutputLen {
					continue
				}

				for _, maxCurr := range axes.Concurrency {
					if !Paired(rate, maxCurr) {
						continue
					}

					cfg := base.Clone()
					cfg.Set("req_rate", rate.FieldValue())
					cfg.Set("input_len", inputLen)
					cfg.Set("output_len", outputLen)
					cfg.Set("num_prompts", PromptCount(base, rate, maxCurr))
					var curr interface{}
					if maxCurr != nil {
						curr = *maxCurr
					}
					cfg.Set("max_curr", curr)
					configs = append(configs, cfg)
				}
			}
		}
	}
	return configs, nil
}

// OutputLen is input/ratio rounded half to even.
func OutputLen(inputLen int, ratio float64) int {
	return int(math.RoundToEven(float64(inputLen) / ratio))
}

// Paired reports whether a rate and concurrency value form a valid run:
// throughput runs need a cap, latency runs must not have one.
func Paired(rate model.RequestRate, maxCurr *int) bool {
	if rate.Infinite {
		return maxCurr != nil
	}
	return maxCurr == nil
}

// PromptCount uses an explicit numeric num_prompts from base as-is; otherwise
// it derives one from the run shape and floors it at MinPrompts.
func PromptCount(base *model.RunConfig, rate model.RequestRate, maxCurr *int) int {
	if n, ok := base.Int("num_prompts"); ok {
		return n
	}

	var derived int
	if maxCurr != nil {
		derived = ThroughputPromptFactor * *maxCurr
	} else {
		derived = int(rate.Value * LatencyWindowSeconds)
	}
	if derived < MinPrompts {
		derived = MinPrompts
	}
	return derived
}

// Describe is a short one-line summary of the swept fields of cfg.
func Describe(cfg *model.RunConfig) string {
	keys := []string{"req_rate", "max_curr", "input_len", "output_len", "num_prompts"}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, _ := cfg.Get(k)
		s := model.FormatValue(v)
		if v == nil {
			s = "none"
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, " ")
}
