package config

import (
	"encoding/json"
	"fmt"

	"github.com/hakim/nexo/pkg/mcp"
)

// Config is the main Nexo configuration.
type Config struct {
	// Server is the gateway listen address.
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Model configures the conversation driver.
	Model ModelConfig `json:"model" mapstructure:"model"`

	// AI holds provider credentials. Constructed once and passed into
	// provider constructors; nothing reads keys from process globals.
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Backends are the tool servers every session connects to.
	Backends []mcp.BackendConfig `json:"backends" mapstructure:"backends"`

	// Logging configuration.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds gateway server configuration.
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig configures the model and the agent loop.
type ModelConfig struct {
	Name         string  `json:"name" mapstructure:"name"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries"`
	MaxRounds    int     `json:"max_rounds" mapstructure:"max_rounds"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// AIConfig holds AI provider credentials.
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile is one provider credential set.
type AIProfile struct {
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

const defaultSystemPrompt = `You are an intelligent assistant with access to tools hosted by
backend servers. Think carefully about which tool to use based on the
user's query, call it with well-formed arguments, and ground your final
answer in the tool results you observed.`

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Model: ModelConfig{
			Name:         "gpt-4o-mini",
			Temperature:  0.7,
			MaxTokens:    4096,
			MaxRetries:   3,
			MaxRounds:    10,
			SystemPrompt: defaultSystemPrompt,
		},
		Backends: []mcp.BackendConfig{
			{
				Name:      "files",
				Transport: "http",
			},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills derived values: the builtin files backend follows
// the gateway's own listen address unless a URL was configured
// explicitly.
func (c *Config) Normalize() {
	for i := range c.Backends {
		backend := &c.Backends[i]
		if backend.Name != "files" || backend.URL != "" {
			continue
		}
		if backend.Transport != "" && backend.Transport != "http" {
			continue
		}
		host := c.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		backend.URL = fmt.Sprintf("http://%s:%d/backends/files", host, c.Server.Port)
	}
}

// ProfileFor returns the credential profile for a provider name.
func (c *Config) ProfileFor(provider string) (AIProfile, bool) {
	for _, profile := range c.AI.Profiles {
		if profile.Provider == provider {
			return profile, true
		}
	}
	return AIProfile{}, false
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model temperature must be between 0 and 1")
	}
	if c.Model.MaxRounds < 0 {
		return fmt.Errorf("model max_rounds cannot be negative")
	}

	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}
	for i, profile := range c.AI.Profiles {
		if profile.Provider != "openai" && profile.Provider != "anthropic" {
			return fmt.Errorf("AI profile %d: invalid provider %s (must be: openai, anthropic)", i, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %d (%s): api_key is required", i, profile.Provider)
		}
	}

	seen := map[string]bool{}
	for i, backend := range c.Backends {
		if backend.Name == "" {
			return fmt.Errorf("backend %d: name is required", i)
		}
		if seen[backend.Name] {
			return fmt.Errorf("backend %s: duplicate name", backend.Name)
		}
		seen[backend.Name] = true

		switch backend.Transport {
		case "http", "":
			if backend.URL == "" {
				return fmt.Errorf("backend %s: url is required for http transport", backend.Name)
			}
		case "stdio":
			if backend.Command == "" {
				return fmt.Errorf("backend %s: command is required for stdio transport", backend.Name)
			}
		default:
			return fmt.Errorf("backend %s: invalid transport %s (must be: http, stdio)", backend.Name, backend.Transport)
		}
	}

	return nil
}
