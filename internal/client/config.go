// ABOUTME: TOML configuration for stream clients such as runstream-tui
// ABOUTME: Resolves the gateway URL, agent and bearer token with env and file fallbacks

package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Defaults applied by LoadConfig.
const (
	DefaultServerURL = "http://localhost:8080"
	DefaultSlots     = 2
)

// Config is the client configuration file.
type Config struct {
	ServerURL    string `toml:"server_url"`
	Token        string `toml:"token"`
	AgentID      string `toml:"agent_id"`
	CheckBalance bool   `toml:"check_balance"`
	// Slots is how many parallel submissions a session may run.
	Slots int `toml:"slots"`
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "runstream")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "runstream")
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/runstream/client.toml.
func DefaultConfigPath() string {
	dir := configDir()
	if dir == "" {
		return "client.toml"
	}
	return filepath.Join(dir, "client.toml")
}

// LoadConfig reads path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("parsing client config: %w", err)
		}
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.Token == "" {
		cfg.Token = tokenFallback()
	}
	return cfg, nil
}

// tokenFallback checks RUNSTREAM_TOKEN, then the token file written by
// runstream-gateway token.
func tokenFallback() string {
	if token := os.Getenv("RUNSTREAM_TOKEN"); token != "" {
		return token
	}
	dir := configDir()
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
