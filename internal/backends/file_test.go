package backends

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/nexo/pkg/mcp"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

// newFileClient serves a file backend rooted at a temp dir and returns
// a connected client for it plus the root path.
func newFileClient(t *testing.T) (*mcp.HTTPClient, string) {
	t.Helper()
	root := t.TempDir()

	server, err := NewFileServer(root, testLogger())
	require.NoError(t, err)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	client := mcp.NewHTTPClient(mcp.BackendConfig{Name: "files", Transport: "http", URL: ts.URL})
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })

	return client, root
}

func TestFileServer(t *testing.T) {
	t.Run("should expose the three file tools", func(t *testing.T) {
		client, _ := newFileClient(t)

		names := []string{}
		for _, tool := range client.Tools() {
			names = append(names, tool.Name)
		}
		assert.ElementsMatch(t, []string{"read_file", "write_file", "list_files"}, names)
	})

	t.Run("should write then read a file back", func(t *testing.T) {
		client, root := newFileClient(t)

		_, err := client.Call(context.Background(), "write_file", map[string]interface{}{
			"path":    "notes/todo.txt",
			"content": "ship it",
		})
		require.NoError(t, err)

		// The file landed under the root, nowhere else.
		onDisk, err := os.ReadFile(filepath.Join(root, "notes", "todo.txt"))
		require.NoError(t, err)
		assert.Equal(t, "ship it", string(onDisk))

		result, err := client.Call(context.Background(), "read_file", map[string]interface{}{
			"path": "notes/todo.txt",
		})
		require.NoError(t, err)

		var payload struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal(result, &payload))
		assert.Equal(t, "ship it", payload.Content)
	})

	t.Run("should list directories with a trailing slash", func(t *testing.T) {
		client, root := newFileClient(t)
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0644))

		result, err := client.Call(context.Background(), "list_files", map[string]interface{}{})
		require.NoError(t, err)

		var payload struct {
			Entries []string `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(result, &payload))
		assert.ElementsMatch(t, []string{"a.txt", "sub/"}, payload.Entries)
	})

	t.Run("should fail to read a missing file", func(t *testing.T) {
		client, _ := newFileClient(t)

		_, err := client.Call(context.Background(), "read_file", map[string]interface{}{
			"path": "missing.txt",
		})
		assert.Error(t, err)
	})

	t.Run("should confine traversal to the root", func(t *testing.T) {
		client, root := newFileClient(t)

		// Clean collapses the escape inside the root instead of above it.
		_, err := client.Call(context.Background(), "write_file", map[string]interface{}{
			"path":    "../../escape.txt",
			"content": "nope",
		})
		require.NoError(t, err)

		_, statErr := os.Stat(filepath.Join(root, "escape.txt"))
		assert.NoError(t, statErr)
		_, statErr = os.Stat(filepath.Join(filepath.Dir(filepath.Dir(root)), "escape.txt"))
		assert.True(t, os.IsNotExist(statErr))
	})
}
