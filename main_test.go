package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lobbyID = "2f3b1892-6d5b-4118-a1f1-0f5d9d6a3abc"

func TestConstants(t *testing.T) {
	assert.Equal(t, "1.0.0", Version)
	assert.Equal(t, "Space Relay", AppName)
}

func TestFlagDefaults(t *testing.T) {
	assert.NotEmpty(t, *tcpAddr)
	assert.NotEmpty(t, *httpAddr)
	assert.Positive(t, *maxMessageSize)
	assert.GreaterOrEqual(t, *handshakeTimeout, time.Duration(0))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("RELAY_TEST_STR", "x")
	t.Setenv("RELAY_TEST_INT", "42")
	t.Setenv("RELAY_TEST_BAD_INT", "many")
	t.Setenv("RELAY_TEST_DUR", "3s")

	assert.Equal(t, "x", envOr("RELAY_TEST_STR", "y"))
	assert.Equal(t, "y", envOr("RELAY_TEST_UNSET", "y"))
	assert.Equal(t, 42, envInt("RELAY_TEST_INT", 1))
	assert.Equal(t, 1, envInt("RELAY_TEST_BAD_INT", 1))
	assert.Equal(t, 3*time.Second, envDuration("RELAY_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, envDuration("RELAY_TEST_UNSET", time.Second))
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"},
		parseOrigins(" https://a.example.com, ,https://b.example.com "))
}

func TestIsStdioMode(t *testing.T) {
	for _, mode := range []string{"stdio-mcp", "mcp-stdio", "mcp"} {
		assert.True(t, isStdioMode(mode), mode)
	}
	assert.False(t, isStdioMode("server"))
}

func TestNewRelay_InvalidConfigDir(t *testing.T) {
	_, err := newRelay(relayConfig{ConfigDir: "/non/existent/path"}, discardLogger())
	assert.Error(t, err)
}

func TestNewRelay_MissingDefaultConfigDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "spaces")

	r, err := newRelay(relayConfig{ConfigDir: missing, ConfigDirDefaulted: true}, discardLogger())
	require.NoError(t, err)
	def := r.catalog.GetDefault()
	require.NotNil(t, def)
	assert.Equal(t, "default", def.Name)

	_, err = newRelay(relayConfig{ConfigDir: missing}, discardLogger())
	assert.Error(t, err, "an explicitly chosen directory must exist")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type lineClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (c *lineClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *lineClient) read(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRelayServe_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lobby.yaml"),
		[]byte("space_id: "+lobbyID+"\nname: Lobby\nmodel_url: https://m/lobby.glb\n"), 0644))

	r, err := newRelay(relayConfig{
		ConfigDir:        dir,
		HandshakeTimeout: time.Second,
		MaxMessageSize:   4096,
	}, discardLogger())
	require.NoError(t, err)

	tcpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	baseURL := "http://" + httpLn.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.serve(ctx, tcpLn, httpLn) }()
	defer func() {
		cancel()
		<-done
	}()

	join := func(identity string) *lineClient {
		conn, err := net.Dial("tcp", tcpLn.Addr().String())
		require.NoError(t, err)
		c := &lineClient{conn: conn, reader: bufio.NewReader(conn)}
		c.send(t, `{"id":"`+identity+`","space_id":"`+lobbyID+`"}`)
		require.Eventually(t, func() bool {
			_, err := r.registry.Get(identity)
			return err == nil
		}, 2*time.Second, time.Millisecond)
		return c
	}

	alice := join("alice")
	bob := join("bob")
	assert.Equal(t, `{"type":"Spawn","id":"bob","model_url":"https://m/lobby.glb"}`, alice.read(t))
	assert.Equal(t, `{"type":"Spawn","id":"alice","model_url":"https://m/lobby.glb"}`, bob.read(t))

	alice.send(t, `{"type":"Chat","message":"hello"}`)
	assert.Equal(t, `{"type":"Chat","id":"alice","message":"hello"}`, bob.read(t))

	var stats struct {
		ActiveSessions int `json:"active_sessions"`
	}
	getJSON(t, baseURL+"/api/stats", &stats)
	assert.Equal(t, 2, stats.ActiveSessions)

	resp, err := http.Post(baseURL+"/api/spaces/"+lobbyID+"/announce", "application/json",
		strings.NewReader(`{"message":"welcome"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"type":"Chat","id":"server","message":"welcome"}`, alice.read(t))
	assert.Equal(t, `{"type":"Chat","id":"server","message":"welcome"}`, bob.read(t))

	resp, err = http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "spacerelay_active_sessions 2")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
	assert.Zero(t, r.registry.Count())
}
