package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrSinkBroken is returned by Send after an earlier write to the same
// session failed. The owning handler is expected to notice via Broken and
// terminate the connection.
var ErrSinkBroken = errors.New("session sink broken")

// Sink writes one complete encoded message to a single connection.
// Implementations need not be safe for concurrent use; Session serializes
// calls.
type Sink interface {
	WriteMessage(data []byte) error
}

// Session is the live state of one handshaken connection.
type Session struct {
	Identity    string
	SpaceID     uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time

	seq uint64 // registration order, assigned by Registry.Register

	mu   sync.Mutex // serializes writes to sink
	sink Sink
	err  error

	broken     chan struct{}
	brokenOnce sync.Once

	sent   atomic.Uint64
	failed atomic.Uint64
}

// New creates a session for identity in space writing to sink.
func New(identity string, space uuid.UUID, sink Sink) *Session {
	return &Session{
		Identity:    identity,
		SpaceID:     space,
		ConnectedAt: time.Now(),
		sink:        sink,
		broken:      make(chan struct{}),
	}
}

// Send writes data to the session's connection. It is safe to call from any
// goroutine. Once a write has failed every later call returns ErrSinkBroken
// without touching the connection again.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		s.failed.Add(1)
		return fmt.Errorf("%w: %v", ErrSinkBroken, s.err)
	}

	if err := s.sink.WriteMessage(data); err != nil {
		s.err = err
		s.failed.Add(1)
		s.markBroken()
		return err
	}

	s.sent.Add(1)
	return nil
}

// RegisteredBefore reports whether s was registered before o. Sessions
// never registered sort first.
func (s *Session) RegisteredBefore(o *Session) bool {
	return s.seq < o.seq
}

// Broken is closed after the first failed write.
func (s *Session) Broken() <-chan struct{} {
	return s.broken
}

// Err returns the first write error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns the number of successful and failed sends.
func (s *Session) Stats() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}

func (s *Session) markBroken() {
	s.brokenOnce.Do(func() { close(s.broken) })
}
