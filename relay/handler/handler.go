// Package handler runs the lifecycle of one client connection.
//
// Every connection moves through three states:
//
//	AwaitingHandshake -> Active -> Terminated
//
// In AwaitingHandshake exactly one message is read and must be a valid
// handshake whose identity is free; anything else terminates the connection
// without touching the registry. In Active each message is decoded and
// routed to the session's space; undecodable messages are logged and
// skipped. End of stream, a read error, a broken outbound sink or
// cancellation of the serving context moves the connection to Terminated.
//
// Terminated is entered from one place only, a deferred cleanup that
// announces the departure, releases the session (if one was registered)
// and closes the stream.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wricardo/spacerelay/relay/metrics"
	"github.com/wricardo/spacerelay/relay/protocol"
	"github.com/wricardo/spacerelay/relay/router"
	"github.com/wricardo/spacerelay/relay/session"
)

// DefaultHandshakeTimeout bounds the wait for the first message.
const DefaultHandshakeTimeout = 10 * time.Second

// Stream is one client connection carrying whole logical messages. Framing
// is the implementation's concern.
type Stream interface {
	// ReadMessage blocks until one complete message arrives. It returns
	// io.EOF on a clean close.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one complete message.
	WriteMessage(data []byte) error
	// Close unblocks pending reads and writes. It may be called more than
	// once and concurrently with ReadMessage.
	Close() error
	RemoteAddr() string
}

// Router is the part of the broadcast router the handler needs.
type Router interface {
	Route(ctx context.Context, ev router.Event, space uuid.UUID) router.DeliveryReport
}

// State is a connection's lifecycle state.
type State int

const (
	StateAwaitingHandshake State = iota
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handler serves client connections against a shared registry and router.
type Handler struct {
	registry         *session.Registry
	router           Router
	metrics          *metrics.Metrics
	log              *slog.Logger
	handshakeTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithHandshakeTimeout sets how long a new connection may take to send its
// handshake. Zero disables the timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(h *Handler) { h.handshakeTimeout = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a handler.
func New(registry *session.Registry, rt Router, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		registry:         registry,
		router:           rt,
		log:              logger,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs one connection to completion. It returns nil when the client
// closed the stream cleanly, a *protocol.HandshakeError when the handshake
// was rejected, and the transport or context error otherwise. The stream is
// always closed on return.
func (h *Handler) Serve(ctx context.Context, stream Stream) error {
	c := &conn{
		h:      h,
		stream: stream,
		state:  StateAwaitingHandshake,
		log:    h.log.With("remote_addr", stream.RemoteAddr()),
	}

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	var err error
	defer func() { c.terminate(ctx, err) }()

	if err = c.handshake(); err != nil {
		return err
	}
	err = c.active(ctx)
	return err
}

// conn is the per-connection state machine.
type conn struct {
	h      *Handler
	stream Stream
	log    *slog.Logger

	mu    sync.Mutex
	state State
	sess  *session.Session
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.log.Debug("connection state", "from", prev, "to", s)
}

func (c *conn) handshake() error {
	var timer *time.Timer
	if c.h.handshakeTimeout > 0 {
		timer = time.AfterFunc(c.h.handshakeTimeout, func() { _ = c.stream.Close() })
	}

	data, err := c.stream.ReadMessage()
	if timer != nil && !timer.Stop() {
		return c.reject(&protocol.HandshakeError{
			Reason: protocol.ReasonTimeout,
			Err:    fmt.Errorf("no handshake within %s", c.h.handshakeTimeout),
		})
	}
	if err != nil {
		return c.reject(&protocol.HandshakeError{Reason: protocol.ReasonClosed, Err: err})
	}

	hs, err := protocol.DecodeHandshake(data)
	if err != nil {
		return c.reject(err)
	}

	sess := session.New(hs.Identity, hs.SpaceID, c.stream)
	sess.RemoteAddr = c.stream.RemoteAddr()
	if err := c.h.registry.Register(sess); err != nil {
		return c.reject(&protocol.HandshakeError{Reason: protocol.ReasonDuplicate, Err: err})
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	c.log = c.log.With("identity", sess.Identity, "space_id", sess.SpaceID)
	c.setState(StateActive)

	c.h.metrics.Handshake(metrics.HandshakeAccepted)
	c.h.metrics.SessionOpened()
	c.log.Info("session joined")
	return nil
}

func (c *conn) reject(err error) error {
	reason := string(protocol.ReasonMalformed)
	var hsErr *protocol.HandshakeError
	if errors.As(err, &hsErr) {
		reason = string(hsErr.Reason)
	}
	c.h.metrics.Handshake(reason)
	if reason == string(protocol.ReasonClosed) {
		c.log.Debug("connection closed before handshake", "err", err)
	} else {
		c.log.Warn("handshake rejected", "reason", reason, "err", err)
	}
	return err
}

func (c *conn) active(ctx context.Context) error {
	sess := c.sess

	// A failed broadcast write marks the session broken; closing the stream
	// makes the read below fail so this loop terminates the session itself.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sess.Broken():
			c.log.Info("outbound sink broken, closing connection", "err", sess.Err())
			_ = c.stream.Close()
		case <-done:
		}
	}()

	c.h.router.Route(ctx, router.Join{Identity: sess.Identity}, sess.SpaceID)

	for {
		data, err := c.stream.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, io.EOF):
				return nil
			case sess.Err() != nil:
				return fmt.Errorf("write: %w", sess.Err())
			case errors.Is(err, net.ErrClosed):
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.h.metrics.DecodeError()
			c.log.Warn("discarding undecodable message", "err", err, "bytes", len(data))
			continue
		}

		c.h.router.Route(ctx, router.FromClient(sess.Identity, msg), sess.SpaceID)
	}
}

// terminate is the single exit path of every connection.
func (c *conn) terminate(ctx context.Context, cause error) {
	c.setState(StateTerminated)

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess != nil {
		// Despawn is routed while the identity is still held, so a reconnect
		// under the same identity cannot spawn before it and be despawned
		// after it.
		if current, err := c.h.registry.Get(sess.Identity); err == nil && current == sess {
			c.h.router.Route(context.WithoutCancel(ctx), router.Leave{Identity: sess.Identity}, sess.SpaceID)
		}
		if c.h.registry.Release(sess) {
			c.h.metrics.SessionClosed()
			sent, failed := sess.Stats()
			c.log.Info("session left", "reason", describe(cause), "sent", sent, "failed", failed)
		}
	}

	_ = c.stream.Close()
}

func describe(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
