package device

import (
	"errors"
	"fmt"
	"time"
)

// ErrBusy is returned when a capture is requested while another is in flight.
var ErrBusy = errors.New("device: capture already in flight")

// ErrSessionClosed is returned for operations on a torn-down session.
var ErrSessionClosed = errors.New("device: session closed")

// ErrListenerClosed is returned when waiting on a listener that has shut down.
var ErrListenerClosed = errors.New("device: listener closed")

// Corruption reasons carried by CorruptionError.
const (
	ReasonOversize   = "no terminator within expected frame size"
	ReasonShortFrame = "terminator before header end"
)

// ConnectionError reports a failed accept, a broken device socket, or an
// aborted wait for a device. Fatal to the session, never to the process.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError reports a failed command write. The capture aborts; the session
// stays open for another attempt.
type WriteError struct {
	Command string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("device: send %s: %v", e.Command, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CorruptionError reports a frame that violated the framing contract. The
// receive buffer has already been discarded when this error is returned.
type CorruptionError struct {
	Reason   string
	Buffered int
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("device: corrupt frame: %s (%d bytes dropped)", e.Reason, e.Buffered)
}

// TimeoutError reports that the device went silent before a frame completed.
type TimeoutError struct {
	Phase string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device: %s timed out after %s", e.Phase, e.After)
}
