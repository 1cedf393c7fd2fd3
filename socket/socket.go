package socket

import (
	"fmt"

	"github.com/pkg/errors"
)

// ReadyState is the lifecycle state of a Socket.
type ReadyState int32

const (
	Connecting ReadyState = 0
	Open       ReadyState = 1
	Closed     ReadyState = 2
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("ReadyState(%d)", int32(s))
}

// SessionID is the server-assigned correlation token. The zero value is
// unassigned.
type SessionID struct {
	id    string
	valid bool
}

func NewSessionID(id string) SessionID {
	return SessionID{id: id, valid: true}
}

func (s SessionID) Valid() bool {
	return s.valid
}

// String is the wire form: "null" while unassigned.
func (s SessionID) String() string {
	if !s.valid {
		return "null"
	}
	return s.id
}

// MessageEvent is delivered to the message handler once per inbound message.
type MessageEvent struct {
	Data string
}

type Event string

const (
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
	EventMessage    Event = "message"
)

var (
	ErrLoopClosed        = errors.New("event loop closed")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrMalformedResponse = errors.New("malformed response")
)

// CallbackError wraps a panic raised by a consumer callback.
type CallbackError struct {
	Callback string
	Value    interface{}
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback panicked: %v", e.Callback, e.Value)
}
