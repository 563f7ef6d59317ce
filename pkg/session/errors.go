package session

import "fmt"

// TransportError is a fatal loss or fault of the session channel. Never
// retried automatically; partial server-side state cannot be assumed intact.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolViolationError is a payload that breaks an invariant the
// orchestrator depends on. Wrong batch size is fatal; an analysis for an
// unknown identifier is logged and ignored at the call site instead.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return "protocol violation: " + e.Reason
}
