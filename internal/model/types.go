/*
PURPOSE:
  Defines the core data structures used throughout bench-sweep.
  Run configurations, run results and CSV rows are all ordered field maps.

REQUIREMENTS:
  User-specified:
  - Keep the key order of the experiment file and the result file, so CSV
    columns and the failed-run log read in a stable, human order.
  - A configuration is never mutated once generated; specialise by Clone().

  Implementation-discovered:
  - JSON is decoded through encoding/json (UseNumber) so integer fields stay
    integers on a round trip. Result files get their own entry point in
    result.go for the non-finite tokens Python writes.
  - NaN and Infinity cannot be encoded as JSON numbers; MarshalJSON writes
    them as the strings "NaN", "Infinity" and "-Infinity".

ARCHITECTURE INTEGRATION:
  - Used by: internal/config, internal/sweep, internal/engine, internal/output,
    internal/probe

ERROR HANDLING:
  - Decoders return explicit errors on non-object input.

IMPLEMENTATION RULES:
  - Set() on an existing key keeps its position; new keys are appended.
  - Accessors never panic on a nil receiver.

USAGE:
  cfg := model.NewFields()
  cfg.Set("input_len", 1024)
  n, ok := cfg.Int("input_len")

SELF-HEALING INSTRUCTIONS:
  - If a new numeric type shows up in decoded payloads, extend toFloat().

RELATED FILES:
  - internal/model/result.go
  - internal/output/csv.go
  - internal/output/failures.go

MAINTENANCE:
  - Update when the on-disk formats change.
*/

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Fields is a string-keyed map that remembers insertion order.
type Fields struct {
	keys   []string
	values map[string]interface{}
}

// RunConfig is the set of parameters for one benchmark run.
type RunConfig = Fields

// Result is the payload parsed from a benchmark tool's result file.
type Result = Fields

// NewFields returns an empty Fields.
func NewFields() *Fields {
	return &Fields{values: make(map[string]interface{})}
}

// Set stores v under key. Existing keys keep their position.
func (f *Fields) Set(key string, v interface{}) {
	if f.values == nil {
		f.values = make(map[string]interface{})
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = v
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (interface{}, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.values[key]
	return v, ok
}

// Has reports whether key is present.
func (f *Fields) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// Keys returns a copy of the keys in insertion order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of keys.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Clone returns a shallow copy.
func (f *Fields) Clone() *Fields {
	out := NewFields()
	if f == nil {
		return out
	}
	for _, k := range f.keys {
		out.Set(k, f.values[k])
	}
	return out
}

// Merge copies every field of other into f, overwriting existing values.
func (f *Fields) Merge(other *Fields) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		f.Set(k, other.values[k])
	}
}

// String returns the value under key when it is a string.
func (f *Fields) String(key string) (string, bool) {
	v, ok := f.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Number returns the value under key as a float64 when it is numeric.
// Booleans are not numeric.
func (f *Fields) Number(key string) (float64, bool) {
	v, ok := f.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Int returns the value under key truncated to an int when it is numeric.
func (f *Fields) Int(key string) (int, bool) {
	n, ok := f.Number(key)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return int(n), true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if f != nil {
		for i, k := range f.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := json.Marshal(finiteSafe(f.values[k]))
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	*f = Fields{values: make(map[string]interface{})}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		f.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// UnmarshalYAML decodes a YAML mapping keeping key order.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}

	*f = Fields{values: make(map[string]interface{})}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return err
		}
		var v interface{}
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		f.Set(key, v)
	}
	return nil
}

// FormatValue renders a field value for the command line and CSV cells.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
