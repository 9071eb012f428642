// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"

balance:
  enabled: true
  start_credits: 5000

runs:
  abort_wait: "2s"

agents:
  - id: "echo"
    name: "Echo"
    provider: "openAI"
    instructions: "Repeat after me."
    model_options:
      model: "gpt-4o-mini"
      temperature: 0.5
    tools: ["clock"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Runs.AbortWait != 2*time.Second {
		t.Errorf("Runs.AbortWait = %v, want 2s", cfg.Runs.AbortWait)
	}
	if !cfg.Balance.Enabled || cfg.Balance.StartCredits != 5000 {
		t.Errorf("Balance = %+v, want enabled with 5000 credits", cfg.Balance)
	}

	agent, ok := cfg.Agent("echo")
	if !ok {
		t.Fatal("Agent(echo) not found")
	}
	if agent.Provider != "openAI" {
		t.Errorf("agent.Provider = %q, want openAI", agent.Provider)
	}
	if agent.ModelOptions["model"] != "gpt-4o-mini" {
		t.Errorf("agent.ModelOptions[model] = %v, want gpt-4o-mini", agent.ModelOptions["model"])
	}
	if len(agent.Tools) != 1 || agent.Tools[0] != "clock" {
		t.Errorf("agent.Tools = %v, want [clock]", agent.Tools)
	}
}

func TestLoad_DefaultAbortWait(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "x.db"
agents:
  - id: "a"
    provider: "anthropic"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Runs.AbortWait != DefaultAbortWait {
		t.Errorf("Runs.AbortWait = %v, want %v", cfg.Runs.AbortWait, DefaultAbortWait)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("RUNSTREAM_TEST_SECRET", strings.Repeat("s", 40))
	t.Setenv("RUNSTREAM_TEST_DB", "/tmp/expanded.db")

	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "${RUNSTREAM_TEST_DB}"
auth:
  jwt_secret: "${RUNSTREAM_TEST_SECRET}"
agents:
  - id: "a"
    provider: "openAI"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q, want /tmp/expanded.db", cfg.Database.Path)
	}
	if len(cfg.Auth.JWTSecret) != 40 {
		t.Errorf("len(JWTSecret) = %d, want 40", len(cfg.Auth.JWTSecret))
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http addr",
			content: `
database:
  path: "x.db"
agents:
  - id: "a"
    provider: "openAI"
`,
			wantErr: "server.http_addr is required",
		},
		{
			name: "short secret",
			content: `
server:
  http_addr: ":8080"
database:
  path: "x.db"
auth:
  jwt_secret: "short"
agents:
  - id: "a"
    provider: "openAI"
`,
			wantErr: "at least 32 bytes",
		},
		{
			name: "no agents",
			content: `
server:
  http_addr: ":8080"
database:
  path: "x.db"
`,
			wantErr: "at least one agent",
		},
		{
			name: "duplicate agent",
			content: `
server:
  http_addr: ":8080"
database:
  path: "x.db"
agents:
  - id: "a"
    provider: "openAI"
  - id: "a"
    provider: "anthropic"
`,
			wantErr: "duplicated",
		},
		{
			name: "bad duration",
			content: `
server:
  http_addr: ":8080"
database:
  path: "x.db"
runs:
  abort_wait: "soon"
agents:
  - id: "a"
    provider: "openAI"
`,
			wantErr: "abort_wait",
		},
		{
			name: "balance without credits",
			content: `
server:
  http_addr: ":8080"
database:
  path: "x.db"
balance:
  enabled: true
agents:
  - id: "a"
    provider: "openAI"
`,
			wantErr: "start_credits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading config file error", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("RUNSTREAM_CONFIG", "/etc/runstream.yaml")
	if got := DefaultPath(); got != "/etc/runstream.yaml" {
		t.Errorf("DefaultPath() = %q, want /etc/runstream.yaml", got)
	}

	t.Setenv("RUNSTREAM_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != "/xdg/runstream/gateway.yaml" {
		t.Errorf("DefaultPath() = %q, want /xdg/runstream/gateway.yaml", got)
	}
}
