package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/wricardo/spacerelay/relay/handler"
	"github.com/wricardo/spacerelay/relay/protocol"
)

// ConnHandler serves one connection to completion.
type ConnHandler interface {
	Serve(ctx context.Context, stream handler.Stream) error
}

// Server upgrades HTTP requests and hands each connection to a ConnHandler.
type Server struct {
	handler        ConnHandler
	log            *slog.Logger
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins restricts browser origins. "*" allows every origin;
// no origins allows only requests without an Origin header.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = allowOrigins(origins) }
}

// WithMaxMessageSize sets the largest accepted frame.
func WithMaxMessageSize(n int64) Option {
	return func(s *Server) { s.maxMessageSize = n }
}

// NewServer creates a WebSocket endpoint. By default every origin is
// allowed.
func NewServer(h ConnHandler, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		handler: h,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowOrigins([]string{"*"}),
		},
		maxMessageSize: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until it ends.
// The connection is cancelled with the request context, so the owning
// http.Server's BaseContext controls shutdown.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	stream := NewStream(conn, s.maxMessageSize)
	err = s.handler.Serve(r.Context(), stream)

	var hsErr *protocol.HandshakeError
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &hsErr):
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		s.log.Warn("websocket error", "remote_addr", stream.RemoteAddr(), "err", err)
	default:
		s.log.Debug("websocket connection ended", "remote_addr", stream.RemoteAddr(), "err", err)
	}
}
