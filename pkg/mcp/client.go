package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const defaultCallTimeout = 30 * time.Second

var (
	// ErrClosed is returned by calls against a closed client.
	ErrClosed = errors.New("mcp: client is closed")

	// ErrNoProvider is returned when no connected backend owns a tool.
	ErrNoProvider = errors.New("mcp: no provider for tool")
)

// Client is the uniform contract both transports satisfy. The manager
// depends only on this interface and never branches on transport kind.
type Client interface {
	// Connect establishes the session, performs the protocol handshake
	// and caches the backend's tool descriptors. On failure the client
	// holds no resources and no tools.
	Connect(ctx context.Context) error

	// Tools returns the descriptors cached at connect time.
	Tools() []ToolDescriptor

	// Call invokes a named tool and returns the raw result.
	Call(ctx context.Context, toolName string, arguments map[string]interface{}) (json.RawMessage, error)

	// Close releases transport resources. Safe to call more than once.
	Close() error

	// Name returns the backend identifier.
	Name() string
}

// BackendConfig describes how to reach one backend server.
type BackendConfig struct {
	Name      string            `json:"name" mapstructure:"name"`
	Transport string            `json:"transport" mapstructure:"transport"` // http, stdio
	URL       string            `json:"url,omitempty" mapstructure:"url"`
	Command   string            `json:"command,omitempty" mapstructure:"command"`
	Args      []string          `json:"args,omitempty" mapstructure:"args"`
	Env       map[string]string `json:"env,omitempty" mapstructure:"env"`
	Timeout   time.Duration     `json:"timeout,omitempty" mapstructure:"timeout"`
}

func (c BackendConfig) callTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultCallTimeout
}
