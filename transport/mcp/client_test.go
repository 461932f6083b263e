package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/spacerelay/relay/service"
)

const lobbyID = "2f3b1892-6d5b-4118-a1f1-0f5d9d6a3abc"

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8080/")

	assert.Equal(t, "http://localhost:8080", client.baseURL)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.GetMCPServer())
}

func TestClient_apiCall(t *testing.T) {
	t.Run("decodes result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		}))
		defer srv.Close()

		var out map[string]string
		require.NoError(t, NewClient(srv.URL).apiCall(context.Background(), "GET", "/api/health", nil, &out))
		assert.Equal(t, "healthy", out["status"])
	})

	t.Run("error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "session not found"})
		}))
		defer srv.Close()

		err := NewClient(srv.URL).apiCall(context.Background(), "GET", "/api/sessions/x", nil, nil)
		assert.EqualError(t, err, "session not found")
	})

	t.Run("bare status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal Server Error"))
		}))
		defer srv.Close()

		err := NewClient(srv.URL).apiCall(context.Background(), "GET", "/api/stats", nil, nil)
		assert.ErrorContains(t, err, "API error: 500")
	})

	t.Run("unreachable", func(t *testing.T) {
		err := NewClient("http://127.0.0.1:1").apiCall(context.Background(), "GET", "/api/stats", nil, nil)
		assert.Error(t, err)
	})
}

func TestClient_handleListSpaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/spaces", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"total": 2,
			"spaces": []service.SpaceInfo{
				{SpaceID: lobbyID, Name: "Lobby", Sessions: 3, Configured: true},
				{SpaceID: "11111111-1111-1111-1111-111111111111", Sessions: 1},
			},
		})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).handleListSpaces(context.Background(), callTool("list_spaces", nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Spaces (2)")
	assert.Contains(t, text, lobbyID+" Lobby: 3 session(s)")
	assert.Contains(t, text, "(unconfigured)")
}

func TestClient_handleListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/spaces/"+lobbyID+"/sessions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"total": 1,
			"sessions": []service.SessionInfo{
				{Identity: "alice", SpaceID: lobbyID, RemoteAddr: "10.0.0.1:5000", ConnectedAt: time.Now(), Sent: 4},
			},
		})
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	result, err := client.handleListSessions(context.Background(), callTool("list_sessions", map[string]interface{}{"space_id": lobbyID}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Sessions in "+lobbyID+" (1)")
	assert.Contains(t, text, "alice (from 10.0.0.1:5000")

	result, err = client.handleListSessions(context.Background(), callTool("list_sessions", map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestClient_handleGetSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/alice" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "session not found"})
			return
		}
		json.NewEncoder(w).Encode(service.SessionInfo{Identity: "alice", SpaceID: lobbyID})
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	result, err := client.handleGetSession(context.Background(), callTool("get_session", map[string]interface{}{"id": "alice"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Space: "+lobbyID)

	result, err = client.handleGetSession(context.Background(), callTool("get_session", map[string]interface{}{"id": "bob"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "session not found")
}

func TestClient_handleStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(service.Stats{ActiveSessions: 5, ActiveSpaces: 2, CatalogSpaces: 3, Uptime: "1m0s"})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).handleStats(context.Background(), callTool("relay_stats", nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Active sessions: 5")
	assert.Contains(t, text, "Uptime: 1m0s")
}

func TestClient_handleAnnounce(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/spaces/"+lobbyID+"/announce", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(service.AnnounceResult{SpaceID: lobbyID, Recipients: 3, Delivered: 2, Failed: []string{"bob"}})
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	result, err := client.handleAnnounce(context.Background(), callTool("announce", map[string]interface{}{
		"space_id": lobbyID,
		"message":  "restarting soon",
	}))
	require.NoError(t, err)
	assert.Equal(t, "restarting soon", gotBody["message"])
	assert.Equal(t, "Announced to "+lobbyID+": delivered 2/3 (failed: bob)", resultText(t, result))

	result, err = client.handleAnnounce(context.Background(), callTool("announce", map[string]interface{}{"space_id": lobbyID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestClient_handleReloadSpaces(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = r.Method == "POST" && r.URL.Path == "/api/spaces/reload"
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).handleReloadSpaces(context.Background(), callTool("reload_spaces", nil))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "Space catalog reloaded", resultText(t, result))
}

func TestFormatSpaces_Empty(t *testing.T) {
	assert.Equal(t, "No spaces configured or occupied.", formatSpaces(nil))
}
