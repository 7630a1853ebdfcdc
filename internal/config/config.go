/*
PURPOSE:
  Defines the experiment file structure and loading logic for bench-sweep.
  One YAML file describes where the server is, what is static across runs,
  and which axes are swept.

REQUIREMENTS:
  User-specified:
  - Three required top-level mappings: experiment_setup, base_config,
    parameter_sweep. A missing or empty one is fatal.
  - experiment_setup carries the server address, experiment name, retry count
    and cooldown.

  Implementation-discovered:
  - base_config key order drives CSV column order, so it is decoded through
    yaml.Node into model.Fields instead of a plain map.
  - Tool invocation details (command, backend, result glob, output layout)
    are configurable with defaults that match `vllm bench serve`.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine, internal/sweep
  - Dependencies: gopkg.in/yaml.v3

ERROR HANDLING:
  - Returns wrapped errors; ErrMissingSection for absent top-level keys.

IMPLEMENTATION RULES:
  - Defaults live in DefaultSetup(); Load() decodes on top of them.

USAGE:
  cfg, err := config.Load("experiment.yaml")

SELF-HEALING INSTRUCTIONS:
  - If new setup fields are needed, add to Setup and DefaultSetup().

RELATED FILES:
  - internal/config/env.go
  - internal/sweep/generate.go

MAINTENANCE:
  - Update when the experiment file grows new sections.
*/

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daryltucker/bench-sweep/internal/model"
)

// ErrMissingSection is returned when a required top-level key is absent or empty.
var ErrMissingSection = errors.New("missing required top-level section")

// Config is a fully loaded experiment file.
type Config struct {
	Setup Setup
	Base  *model.RunConfig
	Sweep Sweep

	// Path is the file the config was read from.
	Path string
}

// Setup holds the experiment_setup section.
type Setup struct {
	IP                  string  `yaml:"ip"`
	Port                int     `yaml:"port"`
	ShortExperimentName string  `yaml:"short_experiment_name"`
	MaxRetries          int     `yaml:"max_retries"`
	GPUCooldownSec      float64 `yaml:"gpu_cooldown_sec"`

	BenchCommand      []string `yaml:"bench_command"`
	Backend           string   `yaml:"backend"`
	Endpoint          string   `yaml:"endpoint"`
	PercentileMetrics string   `yaml:"percentile_metrics"`
	ResultGlob        string   `yaml:"result_glob"`
	WorkDir           string   `yaml:"work_dir"`

	ExperimentsDir string `yaml:"experiments_dir"`
	ResultsFile    string `yaml:"results_file"`
	FailedRunsFile string `yaml:"failed_runs_file"`
	RawResultsDir  string `yaml:"raw_results_dir"`
}

// Sweep holds the parameter_sweep section. Request rates stay raw here
// because they mix the "inf" sentinel with numbers; a null concurrency
// value means "no explicit cap".
type Sweep struct {
	ReqRates             []interface{} `yaml:"req_rates"`
	InputLens            []int         `yaml:"input_lens"`
	Ratios               []float64     `yaml:"input_to_output_len_ratios"`
	MaxConcurrencyValues []*int        `yaml:"max_concurrency_values"`
}

// DefaultSetup returns the defaults applied under experiment_setup.
func DefaultSetup() Setup {
	return Setup{
		Port:              80,
		MaxRetries:        3,
		GPUCooldownSec:    60,
		BenchCommand:      []string{"vllm", "bench", "serve"},
		Backend:           "vllm",
		Endpoint:          "/v1/completions",
		PercentileMetrics: "ttft,tpot,itl,e2el",
		ResultGlob:        "vllm-*.json",
		WorkDir:           ".",
		ExperimentsDir:    "experiments",
		ResultsFile:       "benchmark_results.csv",
		FailedRunsFile:    "failed_runs.json",
		RawResultsDir:     "raw_results",
	}
}

type file struct {
	ExperimentSetup yaml.Node `yaml:"experiment_setup"`
	BaseConfig      yaml.Node `yaml:"base_config"`
	ParameterSweep  yaml.Node `yaml:"parameter_sweep"`
}

// Load reads and validates an experiment file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes an experiment document. now is used for the default
// experiment name.
func Parse(data []byte, now time.Time) (*Config, error) {
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	sections := []struct {
		name string
		node *yaml.Node
	}{
		{"experiment_setup", &raw.ExperimentSetup},
		{"base_config", &raw.BaseConfig},
		{"parameter_sweep", &raw.ParameterSweep},
	}
	for _, s := range sections {
		if s.node.Kind != yaml.MappingNode || len(s.node.Content) == 0 {
			return nil, fmt.Errorf("%w: %s (need experiment_setup, base_config, parameter_sweep)", ErrMissingSection, s.name)
		}
	}

	cfg := &Config{Setup: DefaultSetup(), Base: model.NewFields()}
	if err := raw.ExperimentSetup.Decode(&cfg.Setup); err != nil {
		return nil, fmt.Errorf("experiment_setup: %w", err)
	}
	if err := raw.BaseConfig.Decode(cfg.Base); err != nil {
		return nil, fmt.Errorf("base_config: %w", err)
	}
	if err := raw.ParameterSweep.Decode(&cfg.Sweep); err != nil {
		return nil, fmt.Errorf("parameter_sweep: %w", err)
	}

	if cfg.Setup.ShortExperimentName == "" {
		cfg.Setup.ShortExperimentName = "exp_" + now.Format("20060102")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the sweep cannot run without.
func (c *Config) Validate() error {
	if c.Setup.IP == "" {
		return fmt.Errorf("experiment_setup.ip is required")
	}
	if c.Setup.MaxRetries < 1 {
		return fmt.Errorf("experiment_setup.max_retries must be at least 1, got %d", c.Setup.MaxRetries)
	}
	if c.Setup.GPUCooldownSec < 0 {
		return fmt.Errorf("experiment_setup.gpu_cooldown_sec must not be negative")
	}
	if len(c.Setup.BenchCommand) == 0 {
		return fmt.Errorf("experiment_setup.bench_command must not be empty")
	}
	for _, key := range []string{"model", "tokenizer"} {
		if _, ok := c.Base.String(key); !ok {
			return fmt.Errorf("base_config.%s is required", key)
		}
	}
	return nil
}

// BaseURL is the server address handed to the benchmark tool.
func (s Setup) BaseURL() string {
	return "http://" + net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// Cooldown is the pause between attempts and between runs.
func (s Setup) Cooldown() time.Duration {
	return time.Duration(s.GPUCooldownSec * float64(time.Second))
}

// ExperimentDir is where every artifact of this experiment lives.
func (c *Config) ExperimentDir() string {
	return filepath.Join(c.Setup.ExperimentsDir, c.Setup.ShortExperimentName)
}

// ResultsPath is the CSV file rows are appended to.
func (c *Config) ResultsPath() string {
	return filepath.Join(c.ExperimentDir(), c.Setup.ResultsFile)
}

// FailedRunsPath is the JSON log of configurations that exhausted retries.
func (c *Config) FailedRunsPath() string {
	return filepath.Join(c.ExperimentDir(), c.Setup.FailedRunsFile)
}

// RawResultsDir is where accepted result files are archived.
func (c *Config) RawResultsDir() string {
	return filepath.Join(c.ExperimentDir(), c.Setup.RawResultsDir)
}

// MetricsPath is the Prometheus textfile written during the sweep.
func (c *Config) MetricsPath() string {
	return filepath.Join(c.ExperimentDir(), "sweep_metrics.prom")
}
