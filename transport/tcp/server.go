package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/wricardo/spacerelay/relay/handler"
	"github.com/wricardo/spacerelay/relay/protocol"
)

// ConnHandler serves one connection to completion.
type ConnHandler interface {
	Serve(ctx context.Context, stream handler.Stream) error
}

// Server accepts TCP connections and runs each on its own goroutine.
type Server struct {
	handler        ConnHandler
	log            *slog.Logger
	maxMessageSize int

	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMaxMessageSize sets the longest accepted line.
func WithMaxMessageSize(n int) Option {
	return func(s *Server) { s.maxMessageSize = n }
}

// NewServer creates a server handing connections to h.
func NewServer(h ConnHandler, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		handler:        h,
		log:            logger,
		maxMessageSize: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// every connection to finish. It returns nil after a cancellation and the
// accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.log.Info("tcp relay listening", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn("accept failed, retrying", "err", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			_ = ln.Close()
			return err
		}
		backoff = 0

		s.wg.Add(1)
		go s.serveConn(ctx, NewConn(nc, s.maxMessageSize))
	}
}

func (s *Server) serveConn(ctx context.Context, c *Conn) {
	defer s.wg.Done()

	err := s.handler.Serve(ctx, c)
	var hsErr *protocol.HandshakeError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.As(err, &hsErr):
		// Already logged by the handler.
	default:
		s.log.Debug("connection ended", "remote_addr", c.RemoteAddr(), "err", err)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
