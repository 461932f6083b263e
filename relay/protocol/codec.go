package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ServerIdentity is the identity used for server-originated events. Clients
// cannot claim it.
const ServerIdentity = "server"

type wireHandshake struct {
	ID      *string `json:"id"`
	SpaceID *string `json:"space_id"`
}

type wireClientMessage struct {
	Type    string   `json:"type"`
	X       *float32 `json:"x"`
	Y       *float32 `json:"y"`
	Message *string  `json:"message"`
}

// DecodeHandshake parses and validates the first message of a connection.
// The space ID is returned in canonical form, so two spellings of the same
// UUID name the same space.
func DecodeHandshake(data []byte) (Handshake, error) {
	var w wireHandshake
	if err := json.Unmarshal(data, &w); err != nil {
		return Handshake{}, &HandshakeError{Reason: ReasonMalformed, Err: err}
	}
	if w.ID == nil {
		return Handshake{}, &HandshakeError{Reason: ReasonMalformed, Err: fmt.Errorf("%w: id", ErrMissingField)}
	}
	if w.SpaceID == nil {
		return Handshake{}, &HandshakeError{Reason: ReasonMalformed, Err: fmt.Errorf("%w: space_id", ErrMissingField)}
	}

	identity := strings.TrimSpace(*w.ID)
	if identity == "" {
		return Handshake{}, &HandshakeError{Reason: ReasonIdentity, Err: ErrEmptyIdentity}
	}
	if strings.EqualFold(identity, ServerIdentity) {
		return Handshake{}, &HandshakeError{Reason: ReasonIdentity, Err: fmt.Errorf("%w: %q", ErrReserved, identity)}
	}

	space, err := ParseSpaceID(*w.SpaceID)
	if err != nil {
		return Handshake{}, &HandshakeError{Reason: ReasonSpace, Err: err}
	}

	return Handshake{Identity: identity, SpaceID: space}, nil
}

// ParseSpaceID parses a space identifier in any form uuid.Parse accepts.
func ParseSpaceID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	return id, nil
}

// Decode parses one client message sent after the handshake. Any failure is
// returned as a *DecodeError.
func Decode(data []byte) (ClientMessage, error) {
	var w wireClientMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch w.Type {
	case KindMove:
		if w.X == nil || w.Y == nil {
			return nil, &DecodeError{Kind: w.Type, Err: fmt.Errorf("%w: x and y", ErrMissingField)}
		}
		return Move{X: *w.X, Y: *w.Y}, nil
	case KindChat:
		if w.Message == nil {
			return nil, &DecodeError{Kind: w.Type, Err: fmt.Errorf("%w: message", ErrMissingField)}
		}
		return Chat{Message: *w.Message}, nil
	case "":
		return nil, &DecodeError{Err: fmt.Errorf("%w: type", ErrMissingField)}
	default:
		return nil, &DecodeError{Kind: w.Type, Err: ErrUnknownKind}
	}
}

// Encode renders a server event. It only fails for coordinates JSON cannot
// represent (NaN, Inf), which Decode never produces.
func Encode(ev ServerEvent) ([]byte, error) {
	var v any
	switch e := ev.(type) {
	case SpawnEvent:
		v = struct {
			Type     string `json:"type"`
			ID       string `json:"id"`
			ModelURL string `json:"model_url"`
		}{KindSpawn, e.ID, e.ModelURL}
	case MoveEvent:
		v = struct {
			Type string  `json:"type"`
			ID   string  `json:"id"`
			X    float32 `json:"x"`
			Y    float32 `json:"y"`
		}{KindMove, e.ID, e.X, e.Y}
	case ChatEvent:
		v = struct {
			Type    string `json:"type"`
			ID      string `json:"id"`
			Message string `json:"message"`
		}{KindChat, e.ID, e.Message}
	case DespawnEvent:
		v = struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}{KindDespawn, e.ID}
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", ev)
	}
	return json.Marshal(v)
}

// EncodeHandshake renders a handshake. Used by clients.
func EncodeHandshake(identity string, space uuid.UUID) ([]byte, error) {
	return json.Marshal(struct {
		ID      string `json:"id"`
		SpaceID string `json:"space_id"`
	}{identity, space.String()})
}

// EncodeClient renders a client message. Used by clients.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Move:
		return json.Marshal(struct {
			Type string  `json:"type"`
			X    float32 `json:"x"`
			Y    float32 `json:"y"`
		}{KindMove, m.X, m.Y})
	case Chat:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{KindChat, m.Message})
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", msg)
	}
}

// wireServerEvent is the union of every server event field.
type wireServerEvent struct {
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	ModelURL string  `json:"model_url"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Message  string  `json:"message"`
}

// DecodeEvent parses a server event. Used by clients.
func DecodeEvent(data []byte) (ServerEvent, error) {
	var w wireServerEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Err: err}
	}
	switch w.Type {
	case KindSpawn:
		return SpawnEvent{ID: w.ID, ModelURL: w.ModelURL}, nil
	case KindMove:
		return MoveEvent{ID: w.ID, X: w.X, Y: w.Y}, nil
	case KindChat:
		return ChatEvent{ID: w.ID, Message: w.Message}, nil
	case KindDespawn:
		return DespawnEvent{ID: w.ID}, nil
	default:
		return nil, &DecodeError{Kind: w.Type, Err: ErrUnknownKind}
	}
}
