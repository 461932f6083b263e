package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/spacerelay/relay/service"
)

// Client is a thin MCP client that proxies to the admin REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Space Relay",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Space Relay - MCP Interface

This is a thin client that proxies all requests to the relay's admin REST API.

The relay forwards movement and chat between clients that share a space.
Spaces are identified by UUID; clients are identified by the id they sent
in their handshake.

AVAILABLE TOOLS:
- list_spaces: Configured and occupied spaces with session counts
- list_sessions: Sessions connected to one space
- get_session: Details of one session by client id
- relay_stats: Relay-wide counters and uptime
- announce: Send a chat message from "server" to every client in a space
- reload_spaces: Re-read the space catalog from disk`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_spaces",
		Description: "List configured and occupied spaces",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSpaces)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List the sessions connected to a space",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"space_id": map[string]interface{}{
					"type":        "string",
					"description": "Space UUID",
				},
			},
			Required: []string{"space_id"},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a connected client",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Client id from its handshake",
				},
			},
			Required: []string{"id"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "relay_stats",
		Description: "Get relay-wide statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "announce",
		Description: "Broadcast a chat message from \"server\" to every client in a space",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"space_id": map[string]interface{}{
					"type":        "string",
					"description": "Space UUID",
				},
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Text to broadcast",
				},
			},
			Required: []string{"space_id", "message"},
		},
	}, c.handleAnnounce)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reload_spaces",
		Description: "Reload the space catalog from disk",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleReloadSpaces)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects
func (c *Client) ServeStdio() error {
	return server.ServeStdio(c.mcpServer)
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func stringArg(request mcp.CallToolRequest, name string) string {
	args, _ := request.Params.Arguments.(map[string]interface{})
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}

// Tool handlers

func (c *Client) handleListSpaces(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Total  int                  `json:"total"`
		Spaces []*service.SpaceInfo `json:"spaces"`
	}

	if err := c.apiCall(ctx, "GET", "/api/spaces", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSpaces(response.Spaces)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spaceID := stringArg(request, "space_id")
	if spaceID == "" {
		return mcp.NewToolResultError("space_id is required"), nil
	}

	var response struct {
		Total    int                    `json:"total"`
		Sessions []*service.SessionInfo `json:"sessions"`
	}
	path := fmt.Sprintf("/api/spaces/%s/sessions", url.PathEscape(spaceID))
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Sessions in %s (%d):\n\n", spaceID, response.Total)
	for _, s := range response.Sessions {
		result += formatSessionLine(s)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(request, "id")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	var info service.SessionInfo
	if err := c.apiCall(ctx, "GET", "/api/sessions/"+url.PathEscape(id), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

func (c *Client) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats service.Stats
	if err := c.apiCall(ctx, "GET", "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Relay Stats:\n- Active sessions: %d\n- Active spaces: %d\n- Configured spaces: %d\n- Uptime: %s\n",
		stats.ActiveSessions, stats.ActiveSpaces, stats.CatalogSpaces, stats.Uptime)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleAnnounce(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spaceID := stringArg(request, "space_id")
	message := stringArg(request, "message")
	if spaceID == "" || message == "" {
		return mcp.NewToolResultError("space_id and message are required"), nil
	}

	var res service.AnnounceResult
	path := fmt.Sprintf("/api/spaces/%s/announce", url.PathEscape(spaceID))
	if err := c.apiCall(ctx, "POST", path, map[string]string{"message": message}, &res); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Announced to %s: delivered %d/%d", res.SpaceID, res.Delivered, res.Recipients)
	if len(res.Failed) > 0 {
		result += fmt.Sprintf(" (failed: %s)", strings.Join(res.Failed, ", "))
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleReloadSpaces(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.apiCall(ctx, "POST", "/api/spaces/reload", nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Space catalog reloaded"), nil
}

// Formatting helpers

func formatSpaces(spaces []*service.SpaceInfo) string {
	if len(spaces) == 0 {
		return "No spaces configured or occupied."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Spaces (%d):\n\n", len(spaces))
	for _, s := range spaces {
		name := s.Name
		if name == "" {
			name = "(unconfigured)"
		}
		fmt.Fprintf(&b, "- %s %s: %d session(s)", s.SpaceID, name, s.Sessions)
		if s.Description != "" {
			fmt.Fprintf(&b, " - %s", s.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatSessionLine(s *service.SessionInfo) string {
	return fmt.Sprintf("- %s (from %s, connected %s, sent %d, failed %d)\n",
		s.Identity, s.RemoteAddr, s.ConnectedAt.Format("15:04:05"), s.Sent, s.Failed)
}

func formatSessionInfo(s *service.SessionInfo) string {
	return fmt.Sprintf("Session: %s\nSpace: %s\nRemote: %s\nConnected: %s\nDelivered: %d\nFailed: %d\n",
		s.Identity, s.SpaceID, s.RemoteAddr, s.ConnectedAt.Format(time.RFC3339), s.Sent, s.Failed)
}
