package protocol

import "github.com/google/uuid"

// Wire names of the message kinds.
const (
	KindMove    = "Move"
	KindChat    = "Chat"
	KindSpawn   = "Spawn"
	KindDespawn = "Despawn"
)

// Handshake is the validated first message of a connection.
type Handshake struct {
	Identity string
	SpaceID  uuid.UUID
}

// ClientMessage is a decoded client message sent after the handshake.
// The set of implementations is closed: Move and Chat.
type ClientMessage interface {
	Kind() string
	clientMessage()
}

// Move reports the sender's new position.
type Move struct {
	X float32
	Y float32
}

// Chat carries a chat line from the sender.
type Chat struct {
	Message string
}

func (Move) Kind() string { return KindMove }
func (Chat) Kind() string { return KindChat }

func (Move) clientMessage() {}
func (Chat) clientMessage() {}

// ServerEvent is an event the server writes to clients.
// The set of implementations is closed: SpawnEvent, MoveEvent, ChatEvent and
// DespawnEvent.
type ServerEvent interface {
	Kind() string
	serverEvent()
}

// SpawnEvent announces a session that entered the space.
type SpawnEvent struct {
	ID       string
	ModelURL string
}

// MoveEvent relays a position update.
type MoveEvent struct {
	ID string
	X  float32
	Y  float32
}

// ChatEvent relays a chat line.
type ChatEvent struct {
	ID      string
	Message string
}

// DespawnEvent announces a session that left the space.
type DespawnEvent struct {
	ID string
}

func (SpawnEvent) Kind() string   { return KindSpawn }
func (MoveEvent) Kind() string    { return KindMove }
func (ChatEvent) Kind() string    { return KindChat }
func (DespawnEvent) Kind() string { return KindDespawn }

func (SpawnEvent) serverEvent()   {}
func (MoveEvent) serverEvent()    {}
func (ChatEvent) serverEvent()    {}
func (DespawnEvent) serverEvent() {}
