package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/bench-sweep/internal/config"
	"github.com/daryltucker/bench-sweep/internal/model"
)

func intp(v int) *int { return &v }

func baseConfig() *model.RunConfig {
	b := model.NewFields()
	b.Set("model", "nvidia/Llama-3.3-70B-Instruct-FP8")
	b.Set("tokenizer", "nvidia/Llama-3.3-70B-Instruct-FP8")
	b.Set("hardware", "2x_a3ultra_8xh200")
	return b
}

func TestOutputLen(t *testing.T) {
	assert.Equal(t, 256, OutputLen(1024, 4))
	assert.Equal(t, 341, OutputLen(1024, 3))
	assert.Equal(t, 4096, OutputLen(4096, 1))
	// Halves round to even.
	assert.Equal(t, 2, OutputLen(5, 2))
	assert.Equal(t, 4, OutputLen(7, 2))
}

func TestPaired(t *testing.T) {
	assert.True(t, Paired(model.Infinite(), intp(64)))
	assert.False(t, Paired(model.Infinite(), nil))
	assert.True(t, Paired(model.Finite(5), nil))
	assert.False(t, Paired(model.Finite(5), intp(64)))
}

func TestPromptCount(t *testing.T) {
	base := baseConfig()

	assert.Equal(t, 640, PromptCount(base, model.Infinite(), intp(64)))
	assert.Equal(t, 512, PromptCount(base, model.Infinite(), intp(16)))
	assert.Equal(t, 512, PromptCount(base, model.Finite(5.0), nil))
	assert.Equal(t, 600, PromptCount(base, model.Finite(10), nil))
	assert.Equal(t, 1230, PromptCount(base, model.Finite(20.5), nil))

	explicit := baseConfig()
	explicit.Set("num_prompts", 200)
	assert.Equal(t, 200, PromptCount(explicit, model.Infinite(), intp(64)))

	explicitFloat := baseConfig()
	explicitFloat.Set("num_prompts", 1000.9)
	assert.Equal(t, 1000, PromptCount(explicitFloat, model.Finite(5), nil))

	notNumeric := baseConfig()
	notNumeric.Set("num_prompts", "auto")
	assert.Equal(t, 640, PromptCount(notNumeric, model.Infinite(), intp(64)))
}

func TestGenerate_OrderAndFiltering(t *testing.T) {
	axes := Axes{
		ReqRates:    []model.RequestRate{model.Infinite(), model.Finite(5)},
		InputLens:   []int{1024, 4096},
		Ratios:      []float64{4, 2},
		Concurrency: []*int{nil, intp(64), intp(128)},
	}

	configs, err := Generate(baseConfig(), axes)
	require.NoError(t, err)

	var got []string
	for _, c := range configs {
		got = append(got, Describe(c))
	}
	assert.Equal(t, []string{
		"req_rate=inf max_curr=64 input_len=1024 output_len=256 num_prompts=640",
		"req_rate=inf max_curr=128 input_len=1024 output_len=256 num_prompts=1280",
		"req_rate=inf max_curr=64 input_len=1024 output_len=512 num_prompts=640",
		"req_rate=inf max_curr=128 input_len=1024 output_len=512 num_prompts=1280",
		"req_rate=inf max_curr=64 input_len=4096 output_len=1024 num_prompts=640",
		"req_rate=inf max_curr=128 input_len=4096 output_len=1024 num_prompts=1280",
		"req_rate=5 max_curr=none input_len=1024 output_len=256 num_prompts=512",
		"req_rate=5 max_curr=none input_len=1024 output_len=512 num_prompts=512",
		"req_rate=5 max_curr=none input_len=4096 output_len=1024 num_prompts=512",
	}, got)
}

func TestGenerate_Invariants(t *testing.T) {
	axes := Axes{
		ReqRates:    []model.RequestRate{model.Infinite(), model.Finite(2), model.Finite(30)},
		InputLens:   []int{256, 512, 1024, 2048, 4096},
		Ratios:      []float64{16, 8, 4, 3, 2, 1},
		Concurrency: []*int{nil, intp(16), intp(256)},
	}

	configs, err := Generate(baseConfig(), axes)
	require.NoError(t, err)
	require.NotEmpty(t, configs)

	for _, c := range configs {
		in, _ := c.Int("input_len")
		out, _ := c.Int("output_len")
		n, _ := c.Int("num_prompts")
		rate, _ := c.Get("req_rate")
		curr, _ := c.Get("max_curr")

		assert.LessOrEqual(t, out, MaxOutputLen)
		assert.GreaterOrEqual(t, n, MinPrompts)
		assert.Positive(t, in)

		infinite := rate == model.InfiniteRate
		assert.True(t, infinite == (curr != nil), "bad pairing in %s", Describe(c))
	}
}

func TestGenerate_ClonesBase(t *testing.T) {
	base := baseConfig()
	axes := Axes{
		ReqRates:    []model.RequestRate{model.Infinite()},
		InputLens:   []int{1024},
		Ratios:      []float64{4},
		Concurrency: []*int{intp(8), intp(64)},
	}

	configs, err := Generate(base, axes)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, 3, base.Len())
	assert.Equal(t,
		[]string{"model", "tokenizer", "hardware", "req_rate", "input_len", "output_len", "num_prompts", "max_curr"},
		configs[0].Keys())
	c0, _ := configs[0].Int("max_curr")
	c1, _ := configs[1].Int("max_curr")
	assert.Equal(t, 8, c0)
	assert.Equal(t, 64, c1)
}

func TestGenerate_ExistingKeysKeepPosition(t *testing.T) {
	base := baseConfig()
	base.Set("req_rate", "inf")
	base.Set("notes", "pd")

	configs, err := Generate(base, Axes{
		ReqRates:    []model.RequestRate{model.Finite(4)},
		InputLens:   []int{512},
		Ratios:      []float64{2},
		Concurrency: []*int{nil},
	})
	require.NoError(t, err)
	require.Len(t, configs, 1)

	keys := configs[0].Keys()
	assert.Equal(t, "req_rate", keys[3])
	assert.Equal(t, "notes", keys[4])
	r, _ := configs[0].Get("req_rate")
	assert.Equal(t, 4.0, r)
}

func TestGenerate_Empty(t *testing.T) {
	configs, err := Generate(baseConfig(), Axes{
		ReqRates:    []model.RequestRate{model.Infinite()},
		InputLens:   []int{1024},
		Ratios:      []float64{4},
		Concurrency: []*int{nil},
	})
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestParseAxes(t *testing.T) {
	axes, err := ParseAxes(config.Sweep{
		ReqRates:             []interface{}{"inf", 5, 2.5},
		InputLens:            []int{1024},
		Ratios:               []float64{4},
		MaxConcurrencyValues: []*int{nil, intp(64)},
	})
	require.NoError(t, err)
	require.Len(t, axes.ReqRates, 3)
	assert.True(t, axes.ReqRates[0].Infinite)
	assert.Equal(t, 5.0, axes.ReqRates[1].Value)
	assert.Equal(t, 2.5, axes.ReqRates[2].Value)

	_, err = ParseAxes(config.Sweep{ReqRates: []interface{}{"soon"}})
	assert.Error(t, err)

	_, err = ParseAxes(config.Sweep{Ratios: []float64{0}})
	assert.ErrorIs(t, err, ErrInvalidRatio)
}
