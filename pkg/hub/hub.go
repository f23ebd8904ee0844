package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hakim/nexo/pkg/agent"
	"github.com/hakim/nexo/pkg/llm"
	"github.com/hakim/nexo/pkg/mcp"
	"github.com/rs/zerolog"
)

// Config holds everything needed to provision a session.
type Config struct {
	Provider     llm.Provider
	Model        string
	SystemPrompt string
	Context      string
	Temperature  float64
	MaxTokens    int
	MaxRetries   int
	MaxRounds    int
	Backends     []mcp.BackendConfig
}

// Session binds one client manager and one engine to a session id.
type Session struct {
	ID      string
	manager *mcp.Manager
	engine  *agent.Engine

	// runMu serializes runs within the session.
	runMu sync.Mutex
}

// Tools returns the session's registered tool descriptors.
func (s *Session) Tools() []mcp.ToolDescriptor {
	return s.manager.AllTools()
}

// Hub owns all live sessions.
type Hub struct {
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an empty hub.
func New(config Config, logger zerolog.Logger) *Hub {
	return &Hub{
		config:   config,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open provisions a session for the id if none exists: a fresh client
// manager connected to every configured backend, a conversation and an
// engine. Idempotent for an already-open id. A backend that fails to
// connect is skipped; the session continues with reduced capability.
func (h *Hub) Open(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	h.mu.Lock()
	if session, ok := h.sessions[sessionID]; ok {
		h.mu.Unlock()
		return session, nil
	}
	h.mu.Unlock()

	logger := h.logger.With().Str("session", sessionID).Logger()
	manager := mcp.NewManager(logger)

	connected := 0
	for _, backend := range h.config.Backends {
		if _, err := manager.AddClient(ctx, backend); err != nil {
			logger.Warn().
				Err(err).
				Str("backend", backend.Name).
				Msg("Skipping unreachable backend")
			continue
		}
		connected++
	}
	logger.Info().
		Int("connected", connected).
		Int("configured", len(h.config.Backends)).
		Int("tools", len(manager.AllTools())).
		Msg("Session backends ready")

	conv := llm.NewConversation(h.config.Provider, llm.ConversationConfig{
		Model:        h.config.Model,
		SystemPrompt: h.config.SystemPrompt,
		Context:      h.config.Context,
		Temperature:  h.config.Temperature,
		MaxTokens:    h.config.MaxTokens,
		MaxRetries:   h.config.MaxRetries,
	}, manager.AllTools(), logger)

	session := &Session{
		ID:      sessionID,
		manager: manager,
		engine:  agent.NewEngine(conv, manager, h.config.MaxRounds, logger),
	}

	h.mu.Lock()
	if existing, ok := h.sessions[sessionID]; ok {
		// Lost the provisioning race; keep the winner.
		h.mu.Unlock()
		manager.Shutdown()
		return existing, nil
	}
	h.sessions[sessionID] = session
	h.mu.Unlock()

	return session, nil
}

// Send runs one agent pass for the message as a background unit of
// work and returns its ordered event stream. The channel is closed
// when the run finishes, on success and on error alike, so a consumer
// never blocks indefinitely. One producer, one consumer per run.
func (h *Hub) Send(ctx context.Context, sessionID, message string) (<-chan agent.Event, error) {
	session, err := h.Open(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := h.logger.With().Str("session", sessionID).Str("run", runID).Logger()

	events := make(chan agent.Event, 64)
	go func() {
		defer close(events)

		session.runMu.Lock()
		defer session.runMu.Unlock()

		// Never block on a consumer that stopped draining; dropping
		// events for a cancelled caller beats wedging the session.
		emit := func(event agent.Event) {
			select {
			case events <- event:
			case <-ctx.Done():
			}
		}

		state, err := session.engine.Run(ctx, message, emit)
		if err != nil {
			// Fatal to this run only; the session stays open for a retry.
			logger.Error().Err(err).Msg("Agent run failed")
			emit(agent.Event{
				Type:    agent.EventError,
				Content: fmt.Sprintf("Error: %s", err),
			})
			return
		}

		logger.Info().
			Int("rounds", state.Rounds).
			Int("tool_calls", len(state.ToolResults)).
			Bool("truncated", state.Truncated).
			Msg("Agent run complete")
	}()

	return events, nil
}

// Capabilities lists the tool descriptors the configured backends
// currently expose, using a transient client manager that is torn down
// before returning.
func (h *Hub) Capabilities(ctx context.Context) []mcp.ToolDescriptor {
	manager := mcp.NewManager(h.logger)
	defer manager.Shutdown()

	for _, backend := range h.config.Backends {
		if _, err := manager.AddClient(ctx, backend); err != nil {
			h.logger.Warn().Err(err).Str("backend", backend.Name).Msg("Backend unreachable for capability listing")
		}
	}
	return manager.AllTools()
}

// Session returns an open session without provisioning one.
func (h *Hub) Session(sessionID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[sessionID]
	return session, ok
}

// Close tears down the session's backend clients and discards its
// state. Idempotent; safe to call while a run is in flight — later
// dispatches fail instead of resurrecting closed clients.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	if !ok {
		return
	}
	session.manager.Shutdown()
	h.logger.Info().Str("session", sessionID).Msg("Session closed")
}

// CloseAll tears down every session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, session := range sessions {
		session.manager.Shutdown()
	}
}
