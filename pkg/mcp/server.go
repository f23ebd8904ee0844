package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ToolHandler executes one named tool for the serving side.
type ToolHandler func(ctx context.Context, arguments map[string]interface{}) (interface{}, error)

// ServerTool pairs a descriptor with its handler.
type ServerTool struct {
	Descriptor ToolDescriptor
	Handler    ToolHandler
}

// Server is the serving half of the protocol: it hosts named tools and
// answers initialize, tools/list and tools/call over HTTP or stdio.
type Server struct {
	name   string
	logger zerolog.Logger

	mu    sync.RWMutex
	tools map[string]ServerTool
	order []string
}

// NewServer creates an empty tool server.
func NewServer(name string, logger zerolog.Logger) *Server {
	return &Server{
		name:   name,
		logger: logger,
		tools:  make(map[string]ServerTool),
	}
}

// RegisterTool adds a tool to the server. Registering an existing name
// overwrites the previous handler.
func (s *Server) RegisterTool(tool ServerTool) error {
	if tool.Descriptor.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Descriptor.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Descriptor.Name]; !exists {
		s.order = append(s.order, tool.Descriptor.Name)
	}
	s.tools[tool.Descriptor.Name] = tool
	return nil
}

func (s *Server) descriptors() []ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	descriptors := make([]ToolDescriptor, 0, len(s.order))
	for _, name := range s.order {
		descriptors = append(descriptors, s.tools[name].Descriptor)
	}
	return descriptors
}

func (s *Server) handle(ctx context.Context, req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		result, _ := json.Marshal(map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo":      clientInfo{Name: s.name, Version: "0.1.0"},
		})
		resp.Result = result

	case "tools/list":
		result, _ := json.Marshal(listToolsResult{Tools: s.descriptors()})
		resp.Result = result

	case "tools/call":
		var params callToolParams
		if err := decodeParams(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
			break
		}

		s.mu.RLock()
		tool, ok := s.tools[params.Name]
		s.mu.RUnlock()
		if !ok {
			resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
			break
		}

		output, err := tool.Handler(ctx, params.Arguments)
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", params.Name).Msg("Tool handler failed")
			resp.Error = &rpcError{Code: -32000, Message: err.Error()}
			break
		}

		result, err := json.Marshal(output)
		if err != nil {
			resp.Error = &rpcError{Code: -32000, Message: fmt.Sprintf("encode result: %v", err)}
			break
		}
		resp.Result = result

	default:
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("unknown method: %s", req.Method)}
	}

	return resp
}

func decodeParams(params interface{}, target interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// ServeHTTP answers one JSON-RPC request per POST. A session id header
// is issued on initialize so clients can correlate follow-up requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Method == "initialize" && r.Header.Get(sessionHeader) == "" {
		if id, err := gonanoid.New(); err == nil {
			w.Header().Set(sessionHeader, id)
		}
	}

	resp := s.handle(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}

// ServeStdio answers newline-delimited JSON-RPC requests until the
// reader is exhausted. Used by the standalone backend process.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Error().Err(err).Msg("Failed to decode request line")
			continue
		}

		if err := encoder.Encode(s.handle(ctx, req)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}
