// Package gateway exposes the hub over HTTP: a streaming chat
// endpoint, a websocket variant, session teardown and capability
// listing, plus mounts for builtin backend servers.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hakim/nexo/pkg/hub"
	"github.com/hakim/nexo/pkg/mcp"
	"github.com/rs/zerolog"
)

// Config holds gateway server configuration.
type Config struct {
	Addr   string
	Hub    *hub.Hub
	Logger zerolog.Logger

	// Backends are builtin tool servers mounted under /backends/{name}.
	Backends map[string]*mcp.Server
}

// Server is the HTTP surface in front of the hub. Every handler is a
// thin delegation; no orchestration logic lives here.
type Server struct {
	addr     string
	hub      *hub.Hub
	logger   zerolog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates the gateway server and wires its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}

	s := &Server{
		addr:   cfg.Addr,
		hub:    cfg.Hub,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/{session}", s.handleChat)
	mux.HandleFunc("DELETE /chat/{session}", s.handleEndSession)
	mux.HandleFunc("GET /ws/{session}", s.handleChatSocket)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("GET /health", s.handleHealth)
	for name, backend := range cfg.Backends {
		mux.Handle(fmt.Sprintf("POST /backends/%s", name), backend)
	}

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.logRequests(mux),
	}
	return s, nil
}

// Handler returns the wired root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.addr).Msg("Gateway listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and tears down every session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.hub.CloseAll()
	return err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

// handleChat runs one agent pass and streams its events as
// newline-delimited JSON, one event per line, until end of stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	events, err := s.hub.Send(r.Context(), sessionID, req.Message)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)
	for event := range events {
		if err := encoder.Encode(event); err != nil {
			s.logger.Warn().Err(err).Str("session", sessionID).Msg("Client went away mid-stream")
			// Drain so the producer can finish and release the session.
			for range events {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleChatSocket is the websocket variant of handleChat: one message
// in, a stream of events out, then a normal close.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	var req chatRequest
	if err := conn.ReadJSON(&req); err != nil || req.Message == "" {
		conn.WriteJSON(map[string]string{"error": "message is required"})
		return
	}

	events, err := s.hub.Send(r.Context(), sessionID, req.Message)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			s.logger.Warn().Err(err).Str("session", sessionID).Msg("Websocket client went away mid-stream")
			for range events {
			}
			return
		}
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	s.hub.Close(sessionID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Session %s closed", sessionID),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.hub.Capabilities(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
