package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/mcp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.Agent.MaxSteps)
	assert.Equal(t, 2, cfg.Agent.DuplicateThreshold)
	assert.Equal(t, 10000, cfg.Agent.MaxObserve)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Store.Path, "persistence is opt-in")
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  heartbeat_interval: 10s
agent:
  max_steps: 5
  tool_choice: required
model:
  provider: anthropic
  name: claude-sonnet-4-20250514
  temperature: 0.2
sandbox:
  root: /var/sandboxes
  command_timeout: 30s
store:
  path: /var/lib/agentrun/tasks.db
logging:
  level: debug
  format: json
mcp:
  - id: files
    transport: stdio
    command: mcp-files
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 5, cfg.Agent.MaxSteps)
	assert.Equal(t, "required", cfg.Agent.ToolChoice)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 0.2, cfg.Model.Temperature)
	assert.Equal(t, "/var/sandboxes", cfg.Sandbox.Root)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.CommandTimeout)
	assert.Equal(t, "/var/lib/agentrun/tasks.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields keep their defaults.
	assert.Equal(t, 2, cfg.Agent.DuplicateThreshold)

	require.Len(t, cfg.MCP, 1)
	assert.Equal(t, "files", cfg.MCP[0].ID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	path := writeConfig(t, "model:\n  provider: anthropic\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Model.APIKey)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero max steps", func(c *Config) { c.Agent.MaxSteps = 0 }},
		{"negative max observe", func(c *Config) { c.Agent.MaxObserve = -1 }},
		{"unknown tool choice", func(c *Config) { c.Agent.ToolChoice = "maybe" }},
		{"unknown provider", func(c *Config) { c.Model.Provider = "bedrock" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"mcp without id", func(c *Config) {
			c.MCP = []mcp.Config{{Transport: mcp.TransportStdio, Command: "mcp-files"}}
		}},
		{"mcp bad transport", func(c *Config) {
			c.MCP = []mcp.Config{{ID: "files", Transport: "grpc"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
