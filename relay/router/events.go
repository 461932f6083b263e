package router

import "github.com/wricardo/spacerelay/relay/protocol"

// Event is a state change awaiting broadcast. It lives only for the single
// Route call it is passed to.
type Event interface {
	// Origin is the identity that produced the event. The origin never
	// receives its own event.
	Origin() string
	Kind() string
	event()
}

// Join is produced when a session completes its handshake.
type Join struct {
	Identity string
}

// Move is produced when a session reports a new position.
type Move struct {
	Identity string
	X, Y     float32
}

// Chat is produced when a session, or the server, sends a chat line.
type Chat struct {
	Identity string
	Message  string
}

// Leave is produced when a session ends, before it is released from the
// registry.
type Leave struct {
	Identity string
}

func (e Join) Origin() string  { return e.Identity }
func (e Move) Origin() string  { return e.Identity }
func (e Chat) Origin() string  { return e.Identity }
func (e Leave) Origin() string { return e.Identity }

func (Join) Kind() string  { return "Join" }
func (Move) Kind() string  { return "Move" }
func (Chat) Kind() string  { return "Chat" }
func (Leave) Kind() string { return "Leave" }

func (Join) event()  {}
func (Move) event()  {}
func (Chat) event()  {}
func (Leave) event() {}

// FromClient converts a decoded client message into the event it triggers.
func FromClient(identity string, msg protocol.ClientMessage) Event {
	switch m := msg.(type) {
	case protocol.Move:
		return Move{Identity: identity, X: m.X, Y: m.Y}
	case protocol.Chat:
		return Chat{Identity: identity, Message: m.Message}
	default:
		return nil
	}
}
