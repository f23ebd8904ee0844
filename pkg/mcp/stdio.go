package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// StdioClient talks to a backend server running as a child process,
// exchanging newline-delimited JSON-RPC messages over its pipes.
type StdioClient struct {
	config BackendConfig

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	closed  bool
	pending map[string]chan *rpcResponse

	tools []ToolDescriptor
}

// NewStdioClient creates a client for a process-pipe backend.
func NewStdioClient(config BackendConfig) *StdioClient {
	return &StdioClient{
		config:  config,
		pending: make(map[string]chan *rpcResponse),
	}
}

// Name returns the backend identifier.
func (c *StdioClient) Name() string {
	return c.config.Name
}

// Connect starts the process, performs the initialize handshake and
// caches the backend's tool descriptors. On any failure the process is
// torn down and the client ends up with no tools.
func (c *StdioClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.process != nil {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.config.Command, c.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start %s: %w", c.config.Command, err)
	}

	c.process = cmd
	c.stdin = stdin
	c.mu.Unlock()

	go c.listen(bufio.NewScanner(stdout))

	if err := c.initialize(ctx); err != nil {
		c.teardown()
		return fmt.Errorf("initialize handshake: %w", err)
	}

	tools, err := c.fetchTools(ctx)
	if err != nil {
		c.teardown()
		return fmt.Errorf("list tools: %w", err)
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()

	log.Info().
		Str("backend", c.config.Name).
		Str("command", c.config.Command).
		Int("tools", len(tools)).
		Msg("Connected to stdio backend")
	return nil
}

func (c *StdioClient) listen(scanner *bufio.Scanner) {
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Error().Err(err).Str("backend", c.config.Name).Msg("Failed to decode backend response")
			continue
		}

		id, ok := resp.ID.(string)
		if !ok {
			continue
		}

		c.mu.Lock()
		ch, exists := c.pending[id]
		if exists {
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if exists {
			ch <- &resp
		}
	}

	// Pipe closed: fail anything still waiting.
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *StdioClient) initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo: clientInfo{
			Name:    "nexo",
			Version: "0.1.0",
		},
	}
	_, err := c.roundTrip(ctx, "initialize", params)
	return err
}

func (c *StdioClient) fetchTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := c.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	return result.Tools, nil
}

func (c *StdioClient) roundTrip(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	c.mu.Lock()
	if c.closed || c.stdin == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	id, err := gonanoid.New()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	stdin := c.stdin
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("backend %s closed the pipe", c.config.Name)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("backend error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(c.config.callTimeout()):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("backend %s: request timeout", c.config.Name)
	}
}

// Tools returns the descriptors cached at connect time.
func (c *StdioClient) Tools() []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

// Call invokes a named tool on the backend process.
func (c *StdioClient) Call(ctx context.Context, toolName string, arguments map[string]interface{}) (json.RawMessage, error) {
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

// Close kills the backend process. Idempotent.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.teardown()
}

func (c *StdioClient) teardown() error {
	c.mu.Lock()
	process := c.process
	stdin := c.stdin
	c.process = nil
	c.stdin = nil
	c.tools = nil
	c.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if process != nil && process.Process != nil {
		if err := process.Process.Kill(); err != nil {
			return err
		}
		process.Wait()
	}
	return nil
}
