// Package config enumerates the external configuration surface of the
// engine: endpoints, model parameters, timeouts, concurrency caps and retry
// policies, with documented defaults. Core logic never reads ambient
// configuration; a Config value is built here and threaded in explicitly.
package config

import (
	"fmt"
	"time"

	"github.com/hupe1980/gitscout/retry"
)

// Config is the complete configuration object consumed by gitscout.New.
type Config struct {
	// Region selects the model-provider region (Bedrock). Default us-east-1.
	Region string `mapstructure:"region"`
	// ModelID names the model served by the backend.
	ModelID string `mapstructure:"model_id"`
	// MaxTokens is the generation output cap per model call. Default 4096.
	MaxTokens int `mapstructure:"max_tokens"`
	// Temperature for generation. Default 0.1: research answers should be
	// grounded in tool output, not creative.
	Temperature float64 `mapstructure:"temperature"`

	// ToolServerCommand spawns a local tool server bridged over stdio,
	// e.g. "uvx awslabs.git-repo-research-mcp-server@latest".
	ToolServerCommand string   `mapstructure:"tool_server_command"`
	ToolServerArgs    []string `mapstructure:"tool_server_args"`
	// ToolServerURL connects to a remote tool server over websocket instead.
	// Mutually exclusive with ToolServerCommand.
	ToolServerURL string `mapstructure:"tool_server_url"`

	// ConnectTimeout bounds one transport dial + handshake. Default 120s.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// CallTimeout bounds one tool invocation. Default 120s.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// ModelTimeout bounds one generation call. Default 120s.
	ModelTimeout time.Duration `mapstructure:"model_timeout"`
	// QueryTimeout is the overall per-query deadline owned by the
	// coordinator, distinct from the per-call timeouts. Default 10m.
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	// DrainTimeout is how long a cancelled loop waits for in-flight tool
	// calls to finish before abandoning them. Default equals CallTimeout.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`

	// MaxRetries caps connect and model-call retry attempts. Default 3.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelay is the first backoff step. Default 1s.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`

	// MaxConcurrentLoops bounds simultaneously running reasoning loops;
	// excess submissions queue FIFO. Default 4.
	MaxConcurrentLoops int `mapstructure:"max_concurrent_loops"`
	// FanOutLimit bounds parallel tool invocations within one loop step.
	// Default 4.
	FanOutLimit int `mapstructure:"fan_out_limit"`
	// MaxIterations caps reason/act cycles per query. Default 10.
	MaxIterations int `mapstructure:"max_iterations"`
	// HistorySize caps retained query history entries, oldest evicted
	// first. Default 50.
	HistorySize int `mapstructure:"history_size"`
	// ContextBudget bounds conversation growth in estimated tokens; oldest
	// unpinned turns are truncated beyond it. Default 16384.
	ContextBudget int `mapstructure:"context_budget"`

	// SurfaceTransientToolErrors pins the visibility of the transparent
	// one-retry reconnect: false hides a transient transport failure that
	// succeeded on retry, true folds it into the conversation as a visible
	// tool-error turn. Default false.
	SurfaceTransientToolErrors bool `mapstructure:"surface_transient_tool_errors"`
}

// Default parameter values. They mirror a conservative research-agent setup:
// long network timeouts, few retries, low temperature.
const (
	DefaultRegion      = "us-east-1"
	DefaultModelID     = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.1

	DefaultConnectTimeout = 120 * time.Second
	DefaultCallTimeout    = 120 * time.Second
	DefaultModelTimeout   = 120 * time.Second
	DefaultQueryTimeout   = 10 * time.Minute

	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second

	DefaultMaxConcurrentLoops = 4
	DefaultFanOutLimit        = 4
	DefaultMaxIterations      = 10
	DefaultHistorySize        = 50
	DefaultContextBudget      = 16384
)

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Region:             DefaultRegion,
		ModelID:            DefaultModelID,
		MaxTokens:          DefaultMaxTokens,
		Temperature:        DefaultTemperature,
		ConnectTimeout:     DefaultConnectTimeout,
		CallTimeout:        DefaultCallTimeout,
		ModelTimeout:       DefaultModelTimeout,
		QueryTimeout:       DefaultQueryTimeout,
		DrainTimeout:       DefaultCallTimeout,
		MaxRetries:         DefaultMaxRetries,
		RetryBaseDelay:     DefaultRetryBaseDelay,
		MaxConcurrentLoops: DefaultMaxConcurrentLoops,
		FanOutLimit:        DefaultFanOutLimit,
		MaxIterations:      DefaultMaxIterations,
		HistorySize:        DefaultHistorySize,
		ContextBudget:      DefaultContextBudget,
	}
}

// RetryPolicy derives the backoff policy handed to session connect and model
// generate boundaries.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxRetries,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    30 * time.Second,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %g", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxConcurrentLoops <= 0 {
		return fmt.Errorf("max_concurrent_loops must be positive, got %d", c.MaxConcurrentLoops)
	}
	if c.FanOutLimit <= 0 {
		return fmt.Errorf("fan_out_limit must be positive, got %d", c.FanOutLimit)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history_size cannot be negative, got %d", c.HistorySize)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.ToolServerCommand != "" && c.ToolServerURL != "" {
		return fmt.Errorf("tool_server_command and tool_server_url are mutually exclusive")
	}
	return nil
}
