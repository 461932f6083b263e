// Package mcp provides a Model Context Protocol server for operating the relay.
//
// The mcp package implements:
//   - MCP server for AI agent integration
//   - Tool definitions that proxy the admin REST API
//   - Stdio transport mode
//
// MCP Tools:
//
// The package exposes the following tools for AI agents:
//   - list_spaces: Configured and occupied spaces
//   - list_sessions: Sessions connected to one space
//   - get_session: One session by client id
//   - relay_stats: Relay-wide counters and uptime
//   - announce: Broadcast a server chat message into a space
//   - reload_spaces: Reload the space catalog
//
// The tools hold no relay state of their own. Every call is an HTTP request
// to a running relay, so the MCP process can live on a different machine.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	if err := client.ServeStdio(); err != nil {
//		log.Fatal(err)
//	}
package mcp
