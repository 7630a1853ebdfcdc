/*
PURPOSE:
  Resolves process-level settings (logging, experiments directory) from
  flags, BENCH_SWEEP_* environment variables and defaults.

REQUIREMENTS:
  Implementation-discovered:
  - Settings are separate from the experiment file so one file can be run
    on hosts with different directory layouts.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (root PersistentPreRunE, run, plan)
  - Uses: github.com/spf13/viper, github.com/spf13/pflag

ERROR HANDLING:
  - Returns flag binding and unmarshal errors.

IMPLEMENTATION RULES:
  - Precedence: flag, then environment, then default.

USAGE:
  s, err := config.LoadSettings(cmd.Flags())
  s.Apply(cfg)

SELF-HEALING INSTRUCTIONS:
  - New settings need a default, a flag mapping and a Settings field.

RELATED FILES:
  - internal/config/config.go
  - internal/cli/root.go

MAINTENANCE:
  - None.
*/

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. BENCH_SWEEP_LOG_LEVEL.
const EnvPrefix = "BENCH_SWEEP"

// Settings are process-level knobs that are not part of an experiment file.
type Settings struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	ExperimentsDir string `mapstructure:"experiments_dir"`
}

// LoadSettings resolves Settings from flags, then BENCH_SWEEP_* environment
// variables, then defaults. Flags use dashes (--log-level).
func LoadSettings(flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("experiments_dir", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, flag := range map[string]string{
			"log_level":       "log-level",
			"log_format":      "log-format",
			"experiments_dir": "experiments-dir",
		} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Settings{}, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return s, nil
}

// Apply copies overrides from s into the experiment config.
func (s Settings) Apply(cfg *Config) {
	if s.ExperimentsDir != "" {
		cfg.Setup.ExperimentsDir = s.ExperimentsDir
	}
}
