package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/spacerelay/relay/metrics"
	"github.com/wricardo/spacerelay/relay/protocol"
	"github.com/wricardo/spacerelay/relay/router"
	"github.com/wricardo/spacerelay/relay/session"
)

const (
	space1 = "11111111-1111-1111-1111-111111111111"
	space2 = "22222222-2222-2222-2222-222222222222"
)

// memStream is an in-memory Stream driven by the test.
type memStream struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	out      []string
	writeErr error
}

func newMemStream() *memStream {
	return &memStream{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *memStream) ReadMessage() ([]byte, error) {
	select {
	case m, ok := <-s.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-s.closed:
		return nil, net.ErrClosed
	}
}

func (s *memStream) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.out = append(s.out, string(data))
	return nil
}

func (s *memStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *memStream) RemoteAddr() string { return "mem" }

func (s *memStream) send(msg string) { s.in <- []byte(msg) }
func (s *memStream) hangup()         { close(s.in) }

func (s *memStream) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.out...)
}

func (s *memStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type harness struct {
	registry *session.Registry
	router   *router.Router
	handler  *Handler
	metrics  *metrics.Metrics
}

func newHarness(opts ...Option) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := session.NewRegistry()
	m := metrics.New(prometheus.NewRegistry())
	rt := router.New(reg, nil, m, logger)
	opts = append([]Option{WithMetrics(m)}, opts...)
	return &harness{
		registry: reg,
		router:   rt,
		handler:  New(reg, rt, logger, opts...),
		metrics:  m,
	}
}

// serve starts Serve for s and returns a channel with its result.
func (h *harness) serve(ctx context.Context, s *memStream) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.handler.Serve(ctx, s) }()
	return done
}

// connect serves a new stream and waits for its handshake to register.
func (h *harness) connect(t *testing.T, identity, space string) (*memStream, <-chan error) {
	t.Helper()
	s := newMemStream()
	done := h.serve(context.Background(), s)
	s.send(`{"id":"` + identity + `","space_id":"` + space + `"}`)
	require.Eventually(t, func() bool {
		_, err := h.registry.Get(identity)
		return err == nil
	}, time.Second, time.Millisecond)
	return s, done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestServe_HandshakeRegisters(t *testing.T) {
	h := newHarness()
	a, done := h.connect(t, "a", space1)

	sess, err := h.registry.Get("a")
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse(space1), sess.SpaceID)
	assert.Equal(t, "mem", sess.RemoteAddr)
	assert.Empty(t, a.received(), "join has no other recipients")

	a.hangup()
	assert.NoError(t, waitResult(t, done))
}

func TestServe_ChatReachesPeerNotSender(t *testing.T) {
	h := newHarness()
	a, _ := h.connect(t, "a", space1)
	b, _ := h.connect(t, "b", space1)

	require.Eventually(t, func() bool { return len(a.received()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, `{"type":"Spawn","id":"b","model_url":""}`, a.received()[0])
	assert.Equal(t, []string{`{"type":"Spawn","id":"a","model_url":""}`}, b.received())

	a.send(`{"type":"Chat","message":"hi"}`)
	require.Eventually(t, func() bool { return len(b.received()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, `{"type":"Chat","id":"a","message":"hi"}`, b.received()[1])
	assert.Len(t, a.received(), 1, "sender gets nothing back")
}

func TestServe_OtherSpaceIsIsolated(t *testing.T) {
	h := newHarness()
	a, _ := h.connect(t, "a", space1)
	b, _ := h.connect(t, "b", space1)
	c, _ := h.connect(t, "c", space2)
	d, _ := h.connect(t, "d", space2)

	require.Eventually(t, func() bool { return len(c.received()) == 1 }, time.Second, time.Millisecond)
	aBefore, bBefore := len(a.received()), len(b.received())

	c.send(`{"type":"Move","x":3,"y":4}`)
	require.Eventually(t, func() bool { return len(d.received()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, `{"type":"Move","id":"c","x":3,"y":4}`, d.received()[1])

	assert.Len(t, a.received(), aBefore)
	assert.Len(t, b.received(), bBefore)
}

func TestServe_ConcurrentDuplicateIdentity(t *testing.T) {
	h := newHarness()
	s1, s2 := newMemStream(), newMemStream()
	done1 := h.serve(context.Background(), s1)
	done2 := h.serve(context.Background(), s2)

	hs := `{"id":"same","space_id":"` + space1 + `"}`
	go s1.send(hs)
	go s2.send(hs)

	var rejected error
	var loser *memStream
	select {
	case rejected = <-done1:
		loser = s1
	case rejected = <-done2:
		loser = s2
	case <-time.After(2 * time.Second):
		t.Fatal("no connection was rejected")
	}

	var hsErr *protocol.HandshakeError
	require.ErrorAs(t, rejected, &hsErr)
	assert.Equal(t, protocol.ReasonDuplicate, hsErr.Reason)
	assert.ErrorIs(t, rejected, session.ErrDuplicateIdentity)
	assert.True(t, loser.isClosed())

	assert.Equal(t, 1, h.registry.Count())
	assert.Len(t, h.registry.SnapshotForSpace(uuid.MustParse(space1)), 1)
}

func TestServe_HangupRemovesSession(t *testing.T) {
	h := newHarness()
	a, doneA := h.connect(t, "a", space1)
	b, _ := h.connect(t, "b", space1)

	a.hangup()
	require.NoError(t, waitResult(t, doneA))

	_, err := h.registry.Get("a")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	require.Eventually(t, func() bool {
		msgs := b.received()
		return len(msgs) > 0 && msgs[len(msgs)-1] == `{"type":"Despawn","id":"a"}`
	}, time.Second, time.Millisecond)

	report := h.router.Route(context.Background(), router.Chat{Identity: "b", Message: "anyone?"}, uuid.MustParse(space1))
	assert.Zero(t, report.Recipients)
}

func TestServe_UndecodableMessageIsSkipped(t *testing.T) {
	h := newHarness()
	a, doneA := h.connect(t, "a", space1)
	b, _ := h.connect(t, "b", space1)

	a.send(`this is not json`)
	a.send(`{"type":"Teleport"}`)
	a.send(`{"type":"Move","x":1,"y":2}`)

	require.Eventually(t, func() bool {
		msgs := b.received()
		return len(msgs) > 0 && msgs[len(msgs)-1] == `{"type":"Move","id":"a","x":1,"y":2}`
	}, time.Second, time.Millisecond)

	select {
	case err := <-doneA:
		t.Fatalf("connection ended after bad input: %v", err)
	default:
	}
	_, err := h.registry.Get("a")
	assert.NoError(t, err)
}

func TestServe_RejectedHandshakeNeverRegisters(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason protocol.HandshakeReason
	}{
		{"malformed", `{"id":`, protocol.ReasonMalformed},
		{"bad space", `{"id":"a","space_id":"nope"}`, protocol.ReasonSpace},
		{"reserved identity", `{"id":"server","space_id":"` + space1 + `"}`, protocol.ReasonIdentity},
		{"chat instead of handshake", `{"type":"Chat","message":"hi"}`, protocol.ReasonMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			s := newMemStream()
			done := h.serve(context.Background(), s)
			s.send(tt.input)

			err := waitResult(t, done)
			var hsErr *protocol.HandshakeError
			require.ErrorAs(t, err, &hsErr)
			assert.Equal(t, tt.reason, hsErr.Reason)
			assert.Zero(t, h.registry.Count())
			assert.True(t, s.isClosed())
		})
	}
}

func TestServe_HandshakeTimeout(t *testing.T) {
	h := newHarness(WithHandshakeTimeout(20 * time.Millisecond))
	s := newMemStream()

	err := waitResult(t, h.serve(context.Background(), s))

	var hsErr *protocol.HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, protocol.ReasonTimeout, hsErr.Reason)
	assert.Zero(t, h.registry.Count())
}

func TestServe_HangupBeforeHandshake(t *testing.T) {
	h := newHarness()
	s := newMemStream()
	done := h.serve(context.Background(), s)
	s.hangup()

	err := waitResult(t, done)
	var hsErr *protocol.HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, protocol.ReasonClosed, hsErr.Reason)
}

func TestServe_ContextCancelTerminates(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	s := newMemStream()
	done := h.serve(ctx, s)
	s.send(`{"id":"a","space_id":"` + space1 + `"}`)
	require.Eventually(t, func() bool { return h.registry.Count() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := waitResult(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.registry.Count())
}

func TestServe_BrokenSinkTerminatesOwner(t *testing.T) {
	h := newHarness()
	a, doneA := h.connect(t, "a", space1)
	b, _ := h.connect(t, "b", space1)

	a.mu.Lock()
	a.writeErr = errors.New("broken pipe")
	a.mu.Unlock()

	b.send(`{"type":"Chat","message":"still there?"}`)

	err := waitResult(t, doneA)
	assert.Error(t, err)
	_, getErr := h.registry.Get("a")
	assert.ErrorIs(t, getErr, session.ErrSessionNotFound)
	_, getErr = h.registry.Get("b")
	assert.NoError(t, getErr)
}

// gatedRouter holds the first Leave until the test releases it.
type gatedRouter struct {
	next    Router
	once    sync.Once
	leaving chan struct{}
	release chan struct{}
}

func (g *gatedRouter) Route(ctx context.Context, ev router.Event, space uuid.UUID) router.DeliveryReport {
	if _, ok := ev.(router.Leave); ok {
		g.once.Do(func() {
			g.leaving <- struct{}{}
			<-g.release
		})
	}
	return g.next.Route(ctx, ev, space)
}

func TestServe_ReconnectIsNotDespawnedByStaleLeave(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := session.NewRegistry()
	rt := router.New(reg, nil, nil, logger)
	gate := &gatedRouter{next: rt, leaving: make(chan struct{}), release: make(chan struct{})}
	h := &harness{registry: reg, router: rt, handler: New(reg, gate, logger)}

	b, _ := h.connect(t, "b", space1)
	a1, done1 := h.connect(t, "a", space1)
	a1.hangup()

	select {
	case <-gate.leaving:
	case <-time.After(2 * time.Second):
		t.Fatal("leave was never routed")
	}

	// the departing session still holds its identity while Despawn is routed
	_, err := reg.Get("a")
	require.NoError(t, err)

	a2 := newMemStream()
	done2 := h.serve(context.Background(), a2)
	a2.send(`{"id":"a","space_id":"` + space1 + `"}`)
	assert.ErrorIs(t, waitResult(t, done2), session.ErrDuplicateIdentity)

	close(gate.release)
	require.NoError(t, waitResult(t, done1))

	h.connect(t, "a", space1)
	require.Eventually(t, func() bool { return len(b.received()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{
		`{"type":"Spawn","id":"a","model_url":""}`,
		`{"type":"Despawn","id":"a"}`,
		`{"type":"Spawn","id":"a","model_url":""}`,
	}, b.received())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_handshake", StateAwaitingHandshake.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "state(9)", State(9).String())
}
