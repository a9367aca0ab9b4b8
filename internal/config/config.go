// Package config loads and persists the merged ModelGate configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"dario.cat/mergo"

	"github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/paths"
)

// Config represents the merged modelgate configuration
type Config struct {
	Server ServerConfig  `json:"server"`
	Log    LogConfig     `json:"log"`
	Retry  RetryConfig   `json:"retry"`
	Models []ModelConfig `json:"models"`
}

// ServerConfig holds the state sync endpoint settings.
type ServerConfig struct {
	Listen string `json:"listen"` // e.g. "127.0.0.1:3380"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level"` // "trace", "debug", "info", "warn", "error"
}

// RetryConfig holds retry executor knobs.
type RetryConfig struct {
	MaxRetries int     `json:"maxRetries"`
	BaseDelay  float64 `json:"baseDelay"` // seconds
	MaxDelay   float64 `json:"maxDelay"`  // seconds
}

// ModelConfig describes one backend model candidate.
type ModelConfig struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"displayName"`
	Priority      int      `json:"priority"` // lower = preferred
	RPM           int      `json:"rpm"`      // requests per minute threshold
	RPD           int      `json:"rpd"`      // requests per day threshold
	CredentialEnv string   `json:"credentialEnv"`
	Tasks         []string `json:"tasks"`
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: "127.0.0.1:3380"},
		Log:    LogConfig{Level: "info"},
		Retry:  RetryConfig{MaxRetries: 3, BaseDelay: 1.0, MaxDelay: 60.0},
		Models: []ModelConfig{
			{
				ID:            "claude-opus-4-5",
				Provider:      "anthropic",
				DisplayName:   "Claude Opus",
				Priority:      1,
				RPM:           50,
				RPD:           1000,
				CredentialEnv: "ANTHROPIC_API_KEY",
				Tasks:         []string{"chat", "summarize"},
			},
			{
				ID:            "claude-haiku-4-5",
				Provider:      "anthropic",
				DisplayName:   "Claude Haiku",
				Priority:      2,
				RPM:           100,
				RPD:           5000,
				CredentialEnv: "ANTHROPIC_API_KEY",
				Tasks:         []string{"chat", "summarize", "classify"},
			},
			{
				ID:            "gpt-5.2",
				Provider:      "openai",
				DisplayName:   "GPT-5.2",
				Priority:      3,
				RPM:           60,
				RPD:           2000,
				CredentialEnv: "OPENAI_API_KEY",
				Tasks:         []string{"chat", "summarize", "classify"},
			},
		},
	}
}

// Load reads configuration from modelgate.json, merging file values over the
// built-in defaults. A missing config file is valid and yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	path, err := paths.ConfigPath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// File values win; defaults fill the gaps.
	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the default location with backup rotation.
func Save(cfg *Config) error {
	path, err := paths.ConfigPath()
	if err != nil {
		return err
	}
	if path == "" {
		path, err = paths.DataPath("modelgate.json")
		if err != nil {
			return err
		}
	}
	return BackupAndWriteJSON(path, cfg, DefaultBackupCount)
}

// LogLevel converts the configured level name to a logging package level.
func (c *Config) LogLevel() int {
	switch c.Log.Level {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
