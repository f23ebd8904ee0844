package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Manager owns the backend clients of one session and routes tool
// calls by name through the registry. It is never shared across
// sessions.
type Manager struct {
	mu       sync.RWMutex
	clients  map[string]Client
	registry *Registry
	closed   bool
	logger   zerolog.Logger
}

// NewManager creates a manager with an empty client table.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		clients:  make(map[string]Client),
		registry: NewRegistry(),
		logger:   logger,
	}
}

// AddClient constructs a client for the configured transport, connects
// it and registers its tools. A connect failure is logged and returns
// an error without registering anything; the caller decides whether to
// continue with reduced capability.
func (m *Manager) AddClient(ctx context.Context, config BackendConfig) (Client, error) {
	var client Client
	switch config.Transport {
	case "stdio":
		client = NewStdioClient(config)
	case "http", "":
		client = NewHTTPClient(config)
	default:
		return nil, fmt.Errorf("unsupported transport %q for backend %s", config.Transport, config.Name)
	}
	if err := m.Attach(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

// Attach connects an already-constructed client and registers every
// one of its tools under the client's name.
func (m *Manager) Attach(ctx context.Context, client Client) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		m.logger.Warn().
			Err(err).
			Str("backend", client.Name()).
			Msg("Failed to connect backend client")
		return fmt.Errorf("connect backend %s: %w", client.Name(), err)
	}

	tools := client.Tools()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close()
		return ErrClosed
	}
	m.clients[client.Name()] = client
	for _, tool := range tools {
		m.registry.Register(tool, client.Name())
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("backend", client.Name()).
		Int("tools", len(tools)).
		Msg("Backend client ready")
	return nil
}

// Client returns a connected client by name.
func (m *Manager) Client(name string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[name]
	return client, ok
}

// Dispatch routes a tool call by name to the owning client. Every tool
// invocation in the system passes through here.
func (m *Manager) Dispatch(ctx context.Context, toolName string, arguments map[string]interface{}) (json.RawMessage, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	owner, ok := m.registry.Resolve(toolName)
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, toolName)
	}
	client, ok := m.clients[owner]
	descriptor, _ := m.registry.Get(toolName)
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, toolName)
	}

	m.validateArguments(descriptor, arguments)

	m.logger.Debug().
		Str("tool", toolName).
		Str("backend", owner).
		Msg("Dispatching tool call")
	return client.Call(ctx, toolName, arguments)
}

// validateArguments checks arguments against the descriptor's input
// schema. The backend stays authoritative, so a mismatch is logged and
// the call proceeds anyway.
func (m *Manager) validateArguments(descriptor ToolDescriptor, arguments map[string]interface{}) {
	if len(descriptor.InputSchema) == 0 {
		return
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(descriptor.InputSchema),
		gojsonschema.NewGoLoader(arguments),
	)
	if err != nil {
		m.logger.Debug().Err(err).Str("tool", descriptor.Name).Msg("Could not validate tool arguments")
		return
	}
	if !result.Valid() {
		for _, issue := range result.Errors() {
			m.logger.Warn().
				Str("tool", descriptor.Name).
				Str("issue", issue.String()).
				Msg("Tool arguments do not match input schema")
		}
	}
}

// AllTools returns every registered descriptor.
func (m *Manager) AllTools() []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.List()
}

// RemoveClient closes one client and sweeps its registry entries.
// Dispatches for its tools fail immediately afterwards.
func (m *Manager) RemoveClient(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	if ok {
		delete(m.clients, name)
		m.registry.RemoveOwner(name)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("close backend %s: %w", name, err)
	}
	return nil
}

// Shutdown closes every client, best effort: one failed close never
// prevents the others. Idempotent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	clients := make([]Client, 0, len(m.clients))
	for name, client := range m.clients {
		clients = append(clients, client)
		m.registry.RemoveOwner(name)
	}
	m.clients = make(map[string]Client)
	m.mu.Unlock()

	for _, client := range clients {
		if err := client.Close(); err != nil {
			m.logger.Warn().
				Err(err).
				Str("backend", client.Name()).
				Msg("Failed to close backend client")
		}
	}
	m.logger.Info().Int("clients", len(clients)).Msg("Closed all backend clients")
}
