// ABOUTME: Configuration loading and parsing for runstream-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete runstream-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Balance  BalanceConfig  `yaml:"balance"`
	Runs     RunsConfig     `yaml:"runs"`
	Agents   []AgentConfig  `yaml:"agents"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BalanceConfig controls per-principal token credits
type BalanceConfig struct {
	Enabled      bool  `yaml:"enabled"`
	StartCredits int64 `yaml:"start_credits"`
}

// RunsConfig holds run lifecycle timing
type RunsConfig struct {
	// AbortWait bounds how long an abort request waits for the run to finalize.
	AbortWait time.Duration `yaml:"-"`

	AbortWaitRaw string `yaml:"abort_wait"`
}

// AgentConfig describes one agent that clients may address by ID.
type AgentConfig struct {
	ID                     string         `yaml:"id"`
	Name                   string         `yaml:"name"`
	Provider               string         `yaml:"provider"`
	Instructions           string         `yaml:"instructions"`
	AdditionalInstructions string         `yaml:"additional_instructions"`
	ModelOptions           map[string]any `yaml:"model_options"`
	Tools                  []string       `yaml:"tools"`
}

// DefaultAbortWait is used when runs.abort_wait is unset.
const DefaultAbortWait = 5 * time.Second

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config path from RUNSTREAM_CONFIG, falling back to
// $XDG_CONFIG_HOME/runstream/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("RUNSTREAM_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "runstream", "gateway.yaml")
}

// Agent returns the agent with the given ID.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Balance.Enabled && c.Balance.StartCredits <= 0 {
		return fmt.Errorf("balance.start_credits must be positive when balance is enabled")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d].id %q is duplicated", i, a.ID)
		}
		seen[a.ID] = true
		if a.Provider == "" {
			return fmt.Errorf("agents[%d].provider is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	cfg.Runs.AbortWait = DefaultAbortWait
	if cfg.Runs.AbortWaitRaw != "" {
		d, err := time.ParseDuration(cfg.Runs.AbortWaitRaw)
		if err != nil {
			return fmt.Errorf("parsing abort_wait %q: %w", cfg.Runs.AbortWaitRaw, err)
		}
		cfg.Runs.AbortWait = d
	}
	return nil
}
