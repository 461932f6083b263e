package websocket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize is the largest frame accepted from a peer.
	DefaultMaxMessageSize = 64 * 1024
)

// Stream adapts a *websocket.Conn to whole-message reads and writes.
type Stream struct {
	conn *websocket.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// NewStream wraps conn and starts its keepalive pings.
func NewStream(conn *websocket.Conn, maxMessageSize int64) *Stream {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s := &Stream{conn: conn, done: make(chan struct{})}
	go s.pingLoop()
	return s
}

// Dial connects to a relay WebSocket endpoint such as ws://host:8080/ws.
func Dial(ctx context.Context, url string) (*Stream, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewStream(conn, 0), nil
}

// ReadMessage returns the payload of the next non-empty data frame. A
// normal close from the peer is reported as io.EOF.
func (s *Stream) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		return data, nil
	}
}

// WriteMessage sends data as one text frame.
func (s *Stream) WriteMessage(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection. Later calls are
// no-ops.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func allowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin.
		return origin == "" || allowed[origin]
	}
}
