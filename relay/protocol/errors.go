package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind   = errors.New("unknown message type")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidSpace  = errors.New("invalid space_id")
	ErrEmptyIdentity = errors.New("empty identity")
	ErrReserved      = errors.New("reserved identity")
)

// DecodeError reports a client message that could not be decoded. It is not
// fatal to the connection that sent it.
type DecodeError struct {
	Kind string // the "type" field, if one was readable
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("decode %s message: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandshakeReason classifies why a handshake was rejected.
type HandshakeReason string

const (
	ReasonMalformed HandshakeReason = "malformed"
	ReasonIdentity  HandshakeReason = "invalid_identity"
	ReasonSpace     HandshakeReason = "invalid_space"
	ReasonDuplicate HandshakeReason = "duplicate_identity"
	ReasonTimeout   HandshakeReason = "timeout"
	ReasonClosed    HandshakeReason = "closed"
)

// HandshakeError reports a rejected handshake. The connection that produced
// it is closed before it ever becomes visible to other clients.
type HandshakeError struct {
	Reason HandshakeReason
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected (%s): %v", e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
