// Package backends hosts the builtin tool servers the gateway mounts,
// so a default install has working tools without external processes.
package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hakim/nexo/pkg/mcp"
	"github.com/rs/zerolog"
)

// NewFileServer builds the builtin file backend: read, write and list
// operations rooted at baseDir. Paths escaping the root are rejected.
func NewFileServer(baseDir string, logger zerolog.Logger) (*mcp.Server, error) {
	if baseDir == "" {
		baseDir = "."
	}
	root, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	server := mcp.NewServer("files", logger)

	resolve := func(path string) (string, error) {
		full := filepath.Join(root, filepath.Clean("/"+path))
		if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
			return "", fmt.Errorf("path escapes the file root: %s", path)
		}
		return full, nil
	}

	server.RegisterTool(mcp.ServerTool{
		Descriptor: mcp.ToolDescriptor{
			Name:        "read_file",
			Description: "Read the content of a file under the file root",
			InputSchema: objectSchema(map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "File path relative to the root"},
			}, []string{"path"}),
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			path, _ := args["path"].(string)
			full, err := resolve(path)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			return map[string]interface{}{"path": path, "content": string(data)}, nil
		},
	})

	server.RegisterTool(mcp.ServerTool{
		Descriptor: mcp.ToolDescriptor{
			Name:        "write_file",
			Description: "Write content to a file under the file root",
			InputSchema: objectSchema(map[string]interface{}{
				"path":    map[string]interface{}{"type": "string", "description": "File path relative to the root"},
				"content": map[string]interface{}{"type": "string", "description": "Content to write"},
			}, []string{"path", "content"}),
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			full, err := resolve(path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
				return nil, fmt.Errorf("create parent directory: %w", err)
			}
			if err := os.WriteFile(full, []byte(content), 0644); err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			return map[string]interface{}{"path": path, "bytes": len(content)}, nil
		},
	})

	server.RegisterTool(mcp.ServerTool{
		Descriptor: mcp.ToolDescriptor{
			Name:        "list_files",
			Description: "List files in a directory under the file root",
			InputSchema: objectSchema(map[string]interface{}{
				"directory": map[string]interface{}{"type": "string", "description": "Directory relative to the root, defaults to the root"},
			}, nil),
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			directory, _ := args["directory"].(string)
			full, err := resolve(directory)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(full)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", directory, err)
			}
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			return map[string]interface{}{"directory": directory, "entries": names}, nil
		},
	})

	return server, nil
}

func objectSchema(properties map[string]interface{}, required []string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
