package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult_JSONEscapes(t *testing.T) {
	res, err := ParseResult([]byte(`{"completed": 1000, "endpoint": "\/v1\/completions", "generated_texts": ["ok \ud83d\ude00"], "errors": ["caf\u00e9"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"completed", "endpoint", "generated_texts", "errors"}, res.Keys())
	c, ok := res.Int("completed")
	require.True(t, ok)
	assert.Equal(t, 1000, c)

	ep, _ := res.String("endpoint")
	assert.Equal(t, "/v1/completions", ep)
	texts, _ := res.Get("generated_texts")
	assert.Equal(t, []interface{}{"ok \U0001F600"}, texts)
	errs, _ := res.Get("errors")
	assert.Equal(t, []interface{}{"caf\u00e9"}, errs)
}

func TestParseResult_NonFiniteTokens(t *testing.T) {
	res, err := ParseResult([]byte(`{"completed": 998, "std_itl_ms": NaN, "max_tpot_ms": Infinity, "skew": -Infinity,
		"note": "NaN stays a string \" NaN", "hist": [1, NaN], "nested": {"p": Infinity}, "endpoint": "\/v1"}`))
	require.NoError(t, err)

	v, _ := res.Number("std_itl_ms")
	assert.True(t, math.IsNaN(v))
	raw, _ := res.Get("max_tpot_ms")
	assert.True(t, math.IsInf(raw.(float64), 1))
	raw, _ = res.Get("skew")
	assert.True(t, math.IsInf(raw.(float64), -1))

	note, _ := res.String("note")
	assert.Equal(t, `NaN stays a string " NaN`, note)

	hist, _ := res.Get("hist")
	require.Len(t, hist, 2)
	assert.True(t, math.IsNaN(hist.([]interface{})[1].(float64)))
	nested, _ := res.Get("nested")
	assert.True(t, math.IsInf(nested.(map[string]interface{})["p"].(float64), 1))

	ep, _ := res.String("endpoint")
	assert.Equal(t, "/v1", ep)

	c, _ := res.Int("completed")
	assert.Equal(t, 998, c)
}

func TestParseResult_Malformed(t *testing.T) {
	for _, body := range []string{
		`[1, 2, 3]`,
		`{"completed": 10`,
		`{"completed": NaNa}`,
		`completed: 10`,
		``,
	} {
		_, err := ParseResult([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestFields_MarshalNonFinite(t *testing.T) {
	f := NewFields()
	f.Set("a", math.NaN())
	f.Set("b", []interface{}{math.Inf(1), 1.5})
	f.Set("c", map[string]interface{}{"d": math.Inf(-1)})

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"NaN","b":["Infinity",1.5],"c":{"d":"-Infinity"}}`, string(data))

	// The original value is untouched.
	b, _ := f.Get("b")
	assert.True(t, math.IsInf(b.([]interface{})[0].(float64), 1))
}
