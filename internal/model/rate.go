/*
PURPOSE:
  Typed request rate: either the "inf" throughput sentinel or a finite
  requests-per-second value.

REQUIREMENTS:
  User-specified:
  - req_rates may mix the string "inf" with numbers.

  Implementation-discovered:
  - The value written back into a RunConfig is "inf" for throughput runs and
    the number as written otherwise, so 2 stays 2 in CSV and JSON.
  - YAML .inf and "infinity" are read as the sentinel.

ARCHITECTURE INTEGRATION:
  - Called by: internal/sweep, internal/engine (command line)

ERROR HANDLING:
  - ParseRequestRate rejects unknown strings, NaN, -Inf and rates <= 0.

IMPLEMENTATION RULES:
  - Value type, safe to copy.

USAGE:
  r, err := model.ParseRequestRate(v)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/sweep/generate.go

MAINTENANCE:
  - None.
*/

package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// InfiniteRate is the request-rate sentinel for throughput-saturation runs.
const InfiniteRate = "inf"

// RequestRate is the arrival rate of one benchmark run.
type RequestRate struct {
	Infinite bool
	Value    float64

	raw interface{}
}

// Finite returns a finite request rate of v requests per second.
func Finite(v float64) RequestRate {
	return RequestRate{Value: v, raw: v}
}

// Infinite returns the throughput sentinel rate.
func Infinite() RequestRate {
	return RequestRate{Infinite: true, raw: InfiniteRate}
}

// ParseRequestRate accepts "inf" (any case, also "infinity" and YAML .inf),
// a positive number, or a numeric string.
func ParseRequestRate(v interface{}) (RequestRate, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		if s == "inf" || s == "infinity" || s == ".inf" {
			return Infinite(), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return RequestRate{}, fmt.Errorf("invalid request rate %q", x)
		}
		return checkFinite(f, f)
	default:
		f, ok := toFloat(v)
		if !ok {
			return RequestRate{}, fmt.Errorf("invalid request rate %v", v)
		}
		if math.IsInf(f, 1) {
			return Infinite(), nil
		}
		return checkFinite(f, v)
	}
}

func checkFinite(f float64, raw interface{}) (RequestRate, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return RequestRate{}, fmt.Errorf("request rate must be positive, got %v", raw)
	}
	return RequestRate{Value: f, raw: raw}, nil
}

// FieldValue is the value stored under req_rate in a run configuration:
// "inf" for throughput runs, the number as written otherwise.
func (r RequestRate) FieldValue() interface{} {
	if r.Infinite {
		return InfiniteRate
	}
	if r.raw != nil {
		if _, isString := r.raw.(string); !isString {
			return r.raw
		}
	}
	return r.Value
}

func (r RequestRate) String() string {
	return FormatValue(r.FieldValue())
}
