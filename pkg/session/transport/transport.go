// Package transport provides the asynchronous bidirectional channel between
// the interview client and its peer. Two interchangeable implementations
// exist: WS speaks the live protocol over a websocket, and Sim reproduces the
// same vocabulary and causal ordering in-process with artificial delays.
package transport

import (
	"context"
	"errors"

	"github.com/hackabby/interview-live/pkg/session/protocol"
)

// ErrClosed is returned by Send after the channel has been released.
var ErrClosed = errors.New("transport is closed")

// Event is one item delivered on the inbound stream.
type Event interface {
	transportEventType() string
}

// MessageEvent wraps a decoded server frame, including UnknownMessage.
type MessageEvent struct {
	Msg protocol.ServerMessage
}

func (MessageEvent) transportEventType() string { return "message" }

// DecodeFailedEvent reports a frame the protocol boundary rejected.
type DecodeFailedEvent struct {
	Err *protocol.DecodeError
}

func (DecodeFailedEvent) transportEventType() string { return "decode_failed" }

// DisconnectedEvent reports an abnormal loss of the channel. A normal close
// ends the event stream without emitting one.
type DisconnectedEvent struct {
	Err error
}

func (DisconnectedEvent) transportEventType() string { return "disconnected" }

// Transport is the abstract session channel.
//
// Connect is idempotent once established. Send delivers at most once per
// call. Events yields inbound events in arrival order on a single stream;
// the channel is closed when the transport shuts down. Close releases the
// channel and is safe to call multiple times.
type Transport interface {
	Connect(ctx context.Context) error
	Send(msg protocol.ClientMessage) error
	Events() <-chan Event
	Close() error
}
