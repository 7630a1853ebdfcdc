/*
PURPOSE:
  Decodes benchmark result files into an ordered Result.

REQUIREMENTS:
  User-specified:
  - Result files are JSON objects; every field is carried into the CSV row.

  Implementation-discovered:
  - Python's json module writes NaN, Infinity and -Infinity as bare tokens
    (allow_nan=True), which is not valid JSON. Files that only fail for that
    reason must still be accepted.
  - Everything else (escapes such as \/ and surrogate pairs) is plain JSON and
    goes through encoding/json untouched.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (readResult)

ERROR HANDLING:
  - Returns the first decode error when the payload is not a JSON object or
    is malformed for reasons other than non-finite tokens.

IMPLEMENTATION RULES:
  - Strict JSON first; the token rewrite only runs when that fails.
  - Never rewrite inside string literals.

USAGE:
  res, err := model.ParseResult(data)

SELF-HEALING INSTRUCTIONS:
  - If a tool emits another non-standard token, add it to nonFinite.

RELATED FILES:
  - internal/model/types.go
  - internal/engine/executor.go

MAINTENANCE:
  - None.
*/

package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// sentinelPrefix marks a non-finite token rewritten into a string. A NUL
// byte cannot appear unescaped in a JSON string, so real values never match.
const sentinelPrefix = "\x00nonfinite:"

// Longest token first so "-Infinity" wins over "Infinity".
var nonFinite = []struct {
	token string
	value float64
}{
	{"-Infinity", math.Inf(-1)},
	{"Infinity", math.Inf(1)},
	{"NaN", math.NaN()},
}

// ParseResult decodes a benchmark result file. The payload must be an object.
func ParseResult(data []byte) (*Result, error) {
	res := NewFields()
	err := json.Unmarshal(data, res)
	if err == nil {
		return res, nil
	}

	quoted, n := quoteNonFinite(data)
	if n == 0 {
		return nil, err
	}
	res = NewFields()
	if err := json.Unmarshal(quoted, res); err != nil {
		return nil, err
	}
	for _, k := range res.keys {
		res.values[k] = restoreNonFinite(res.values[k])
	}
	return res, nil
}

// quoteNonFinite replaces bare NaN/Infinity tokens outside string literals
// with sentinel strings and reports how many it replaced.
func quoteNonFinite(data []byte) ([]byte, int) {
	var out bytes.Buffer
	out.Grow(len(data))
	replaced := 0
	inString, escaped := false, false

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		if tok, ok := nonFiniteAt(data, i); ok {
			enc, _ := json.Marshal(sentinelPrefix + tok)
			out.Write(enc)
			i += len(tok) - 1
			replaced++
			continue
		}
		out.WriteByte(c)
	}
	return out.Bytes(), replaced
}

func nonFiniteAt(data []byte, i int) (string, bool) {
	for _, nf := range nonFinite {
		end := i + len(nf.token)
		if !bytes.HasPrefix(data[i:], []byte(nf.token)) {
			continue
		}
		if end < len(data) && isIdentByte(data[end]) {
			continue
		}
		return nf.token, true
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func restoreNonFinite(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		if !strings.HasPrefix(x, sentinelPrefix) {
			return x
		}
		tok := strings.TrimPrefix(x, sentinelPrefix)
		for _, nf := range nonFinite {
			if nf.token == tok {
				return nf.value
			}
		}
		return x
	case map[string]interface{}:
		for k, e := range x {
			x[k] = restoreNonFinite(e)
		}
		return x
	case []interface{}:
		for i, e := range x {
			x[i] = restoreNonFinite(e)
		}
		return x
	}
	return v
}

// finiteSafe returns v with non-finite floats replaced by their Python
// token as a string, so it can be JSON encoded.
func finiteSafe(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nonFiniteToken(x)
		}
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nonFiniteToken(f)
		}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = finiteSafe(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = finiteSafe(e)
		}
		return out
	}
	return v
}

func nonFiniteToken(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	}
	return "-Infinity"
}
