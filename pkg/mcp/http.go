package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const sessionHeader = "Mcp-Session-Id"

// HTTPClient talks to a backend server over streamable HTTP: one
// JSON-RPC request per POST on a persistent connection, correlated by
// a session id header issued during the handshake.
type HTTPClient struct {
	config BackendConfig
	http   *http.Client

	mu        sync.Mutex
	sessionID string
	connected bool
	closed    bool

	tools []ToolDescriptor
}

// NewHTTPClient creates a client for a network backend.
func NewHTTPClient(config BackendConfig) *HTTPClient {
	return &HTTPClient{
		config: config,
		http: &http.Client{
			Timeout: config.callTimeout(),
		},
	}
}

// Name returns the backend identifier.
func (c *HTTPClient) Name() string {
	return c.config.Name
}

// Connect performs the initialize handshake and caches the backend's
// tool descriptors. A failed connect leaves no session state behind.
func (c *HTTPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo: clientInfo{
			Name:    "nexo",
			Version: "0.1.0",
		},
	}
	if _, err := c.roundTrip(ctx, "initialize", params); err != nil {
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		return fmt.Errorf("initialize handshake: %w", err)
	}

	resp, err := c.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		return fmt.Errorf("list tools: %w", err)
	}

	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		return fmt.Errorf("decode tools: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.connected = true
	c.mu.Unlock()

	log.Info().
		Str("backend", c.config.Name).
		Str("url", c.config.URL).
		Int("tools", len(result.Tools)).
		Msg("Connected to HTTP backend")
	return nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", c.config.Name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend %s: unexpected status %d", c.config.Name, httpResp.StatusCode)
	}

	if issued := httpResp.Header.Get(sessionHeader); issued != "" {
		c.mu.Lock()
		c.sessionID = issued
		c.mu.Unlock()
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("backend error (%d): %s", resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}

// Tools returns the descriptors cached at connect time.
func (c *HTTPClient) Tools() []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

// Call invokes a named tool on the backend.
func (c *HTTPClient) Call(ctx context.Context, toolName string, arguments map[string]interface{}) (json.RawMessage, error) {
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	resp, err := c.roundTrip(ctx, "tools/call", callToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Close drops the session. Idempotent.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.sessionID = ""
	c.connected = false
	c.tools = nil
	c.http.CloseIdleConnections()
	return nil
}
