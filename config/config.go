// Package config loads the service configuration from YAML, merges defaults
// and validates the result before anything is constructed from it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/mcp"
	"github.com/hupe1980/agentrun/model"
)

// Config is the root configuration of the agentrun service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Model   ModelConfig   `yaml:"model"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	MCP     []mcp.Config  `yaml:"mcp"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// AgentConfig covers the run-loop limits.
type AgentConfig struct {
	MaxSteps           int    `yaml:"max_steps"`
	DuplicateThreshold int    `yaml:"duplicate_threshold"`
	MaxObserve         int    `yaml:"max_observe"`
	ToolChoice         string `yaml:"tool_choice"`
	SystemPrompt       string `yaml:"system_prompt"`
}

// ModelConfig selects and parameterizes the model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // "openai" or "anthropic"
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"api_key"`
}

// SandboxConfig covers the local sandbox backend.
type SandboxConfig struct {
	Root           string        `yaml:"root"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// StoreConfig covers the sqlite task store. An empty path disables
// persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig covers log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json" or "pretty"
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			HeartbeatInterval: 5 * time.Second,
		},
		Agent: AgentConfig{
			MaxSteps:           20,
			DuplicateThreshold: 2,
			MaxObserve:         10000,
			ToolChoice:         "auto",
		},
		Model: ModelConfig{
			Provider:    "openai",
			Temperature: 0.7,
		},
		Sandbox: SandboxConfig{
			CommandTimeout: 120 * time.Second,
			MaxOutputBytes: 100_000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and validates the
// result. An empty path returns the validated defaults. API keys may be
// overridden by environment variables (OPENAI_API_KEY, ANTHROPIC_API_KEY).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	switch c.Model.Provider {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.Model.APIKey = key
		}
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			c.Model.APIKey = key
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("config: agent.max_steps must be at least 1")
	}
	if c.Agent.MaxObserve < 0 {
		return fmt.Errorf("config: agent.max_observe must not be negative")
	}

	if _, err := model.ParseToolChoice(c.Agent.ToolChoice); err != nil {
		return fmt.Errorf("config: agent.tool_choice: %w", err)
	}

	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}

	if _, err := logging.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json", "pretty":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}

	for i, m := range c.MCP {
		if m.ID == "" {
			return fmt.Errorf("config: mcp[%d] requires an id", i)
		}
		switch m.Transport {
		case mcp.TransportSSE, mcp.TransportStdio:
		default:
			return fmt.Errorf("config: mcp[%d] unknown transport %q", i, m.Transport)
		}
	}

	return nil
}
