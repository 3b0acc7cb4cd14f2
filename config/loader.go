package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads a Config from an optional YAML file plus GITSCOUT_* environment
// variables. File values override defaults; environment overrides both.
type Loader struct {
	configPath string
}

// NewLoader creates a loader. An empty path falls back to
// $HOME/.gitscout/config.yaml, and a missing file is not an error: defaults
// plus environment apply.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load resolves and validates the effective configuration.
func (l *Loader) Load() (Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".gitscout", "config.yaml")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GITSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("region", defaults.Region)
	v.SetDefault("model_id", defaults.ModelID)
	v.SetDefault("max_tokens", defaults.MaxTokens)
	v.SetDefault("temperature", defaults.Temperature)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("call_timeout", defaults.CallTimeout)
	v.SetDefault("model_timeout", defaults.ModelTimeout)
	v.SetDefault("query_timeout", defaults.QueryTimeout)
	v.SetDefault("drain_timeout", defaults.DrainTimeout)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("retry_base_delay", defaults.RetryBaseDelay)
	v.SetDefault("max_concurrent_loops", defaults.MaxConcurrentLoops)
	v.SetDefault("fan_out_limit", defaults.FanOutLimit)
	v.SetDefault("max_iterations", defaults.MaxIterations)
	v.SetDefault("history_size", defaults.HistorySize)
	v.SetDefault("context_budget", defaults.ContextBudget)
	v.SetDefault("surface_transient_tool_errors", defaults.SurfaceTransientToolErrors)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = cfg.CallTimeout
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
