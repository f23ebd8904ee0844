package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcLine(t *testing.T, method string, params interface{}, id string) string {
	t.Helper()
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	require.NoError(t, err)
	return string(data) + "\n"
}

func TestServerStdio(t *testing.T) {
	t.Run("should answer handshake, listing and calls over pipes", func(t *testing.T) {
		server := newEchoServer(t)

		input := rpcLine(t, "initialize", initializeParams{ProtocolVersion: protocolVersion}, "1") +
			rpcLine(t, "tools/list", nil, "2") +
			rpcLine(t, "tools/call", callToolParams{Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}, "3") +
			rpcLine(t, "tools/call", callToolParams{Name: "nope"}, "4")

		var output bytes.Buffer
		require.NoError(t, server.ServeStdio(context.Background(), strings.NewReader(input), &output))

		lines := strings.Split(strings.TrimSpace(output.String()), "\n")
		require.Len(t, lines, 4)

		var initResp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &initResp))
		assert.Nil(t, initResp.Error)
		assert.Equal(t, "1", initResp.ID)

		var listResp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &listResp))
		var listing listToolsResult
		require.NoError(t, json.Unmarshal(listResp.Result, &listing))
		assert.Len(t, listing.Tools, 2)

		var callResp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(lines[2]), &callResp))
		assert.JSONEq(t, `{"echoed":"hi"}`, string(callResp.Result))

		var badResp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(lines[3]), &badResp))
		require.NotNil(t, badResp.Error)
		assert.Contains(t, badResp.Error.Message, "unknown tool")
	})

	t.Run("should skip garbage lines", func(t *testing.T) {
		server := newEchoServer(t)

		input := "not json\n" + rpcLine(t, "tools/list", nil, "1")
		var output bytes.Buffer
		require.NoError(t, server.ServeStdio(context.Background(), strings.NewReader(input), &output))

		lines := strings.Split(strings.TrimSpace(output.String()), "\n")
		assert.Len(t, lines, 1)
	})

	t.Run("should reject unknown methods", func(t *testing.T) {
		server := newEchoServer(t)

		var output bytes.Buffer
		require.NoError(t, server.ServeStdio(context.Background(),
			strings.NewReader(rpcLine(t, "resources/list", nil, "1")), &output))

		var resp rpcResponse
		require.NoError(t, json.Unmarshal(output.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32601, resp.Error.Code)
	})
}

func TestServerRegisterTool(t *testing.T) {
	t.Run("should require name and handler", func(t *testing.T) {
		server := NewServer("test", testLogger())

		assert.Error(t, server.RegisterTool(ServerTool{
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil },
		}))
		assert.Error(t, server.RegisterTool(ServerTool{
			Descriptor: ToolDescriptor{Name: "x"},
		}))
	})
}
