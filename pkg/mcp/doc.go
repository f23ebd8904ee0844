// Package mcp implements the client side of the Model Context Protocol:
// tool discovery and invocation against backend servers reached over
// stdio or streamable HTTP transports.
//
// Invariants:
// - A client whose Connect fails registers nothing.
// - Every tool call routes through Manager.Dispatch by tool name.
// - Closing a client removes its tools from the registry.
//
// Usage:
//
//	mgr := mcp.NewManager(logger)
//	_, _ = mgr.AddClient(ctx, mcp.BackendConfig{Name: "files", Transport: "http", URL: url})
//	result, _ := mgr.Dispatch(ctx, "read_file", map[string]interface{}{"path": "a.txt"})
//	_ = result
//	mgr.Shutdown()
package mcp
