// Package config loads the strand configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Session   SessionConfig   `yaml:"session"`
	Tools     ToolsConfig     `yaml:"tools"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LLMConfig selects the model and provider credentials.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`

	// Model is the model id; pricing and context limits resolve from
	// the catalog.
	Model string `yaml:"model"`

	// APIKey is the provider key. The STRAND_API_KEY, ANTHROPIC_API_KEY
	// or OPENAI_API_KEY environment variables override it.
	APIKey string `yaml:"api_key"`

	// MaxTokens caps the response length per request.
	MaxTokens int `yaml:"max_tokens"`

	// TokenLimit overrides the catalog context window when non-zero.
	TokenLimit int64 `yaml:"token_limit"`
}

// SessionConfig tunes the session loop.
type SessionConfig struct {
	// MaxRetries bounds retries per session. Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// MaxIterations bounds tool-use iterations per run. Default: 10.
	MaxIterations int `yaml:"max_iterations"`
}

// ToolsConfig tunes tool execution.
type ToolsConfig struct {
	// Timeout bounds a single tool execution. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is the collector endpoint; empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS on the OTLP connection.
	Insecure bool `yaml:"insecure"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4",
			MaxTokens: 4096,
		},
		Session: SessionConfig{
			MaxRetries:    3,
			MaxIterations: 10,
		},
		Tools: ToolsConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "strand.yaml"
	}
	return filepath.Join(home, ".config", "strand", "config.yaml")
}

// Load reads a config file, applying defaults for absent fields and
// environment overrides for credentials. A missing file at the default
// path is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("STRAND_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
		return
	}
	switch cfg.LLM.Provider {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	default:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.Session.MaxRetries <= 0 {
		cfg.Session.MaxRetries = def.Session.MaxRetries
	}
	if cfg.Session.MaxIterations <= 0 {
		cfg.Session.MaxIterations = def.Session.MaxIterations
	}
	if cfg.Tools.Timeout <= 0 {
		cfg.Tools.Timeout = def.Tools.Timeout
	}
}
