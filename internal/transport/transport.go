// Package transport provides a uniform link abstraction over the media that
// can carry engraver command frames: a local serial device or a TCP network
// connection. Both variants expose the same operations and the same error
// taxonomy so the connection supervisor never needs to know which medium it
// is driving.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Link is the capability surface shared by all transport variants. A Link
// owns at most one underlying handle at a time; Open replaces nothing and
// fails if the link is already open, Close is idempotent.
type Link interface {
	// Open establishes the underlying handle. Failures carry an *OpenError
	// with the cause classified.
	Open(ctx context.Context) error

	// Close releases the underlying handle. Safe to call when not open.
	Close() error

	// Send writes one complete frame. Mid-session failures, including the
	// configured IO timeout elapsing, are reported as *IOError.
	Send(ctx context.Context, frame []byte) error

	// Receive reads available reply bytes into buf, blocking up to the
	// configured IO timeout.
	Receive(ctx context.Context, buf []byte) (int, error)

	// IsAlive reports whether the link currently holds an open handle.
	IsAlive() bool

	// Kind names the variant ("serial", "tcp", "mock") for logs and events.
	Kind() string
}

// ErrNotOpen is returned by Send/Receive on a link with no open handle.
var ErrNotOpen = errors.New("transport: link not open")

// ErrAlreadyOpen is returned by Open on a link that already holds a handle.
var ErrAlreadyOpen = errors.New("transport: link already open")

// OpenCause classifies why establishing a connection failed. Serial links
// produce NotFound/Busy; network links produce AddressUnresolvable,
// ConnectionRefused and Timeout.
type OpenCause int

const (
	CauseUnknown OpenCause = iota
	CauseNotFound
	CauseBusy
	CauseAddressUnresolvable
	CauseConnectionRefused
	CauseTimeout
)

// String returns the cause name used in status events.
func (c OpenCause) String() string {
	switch c {
	case CauseNotFound:
		return "not-found"
	case CauseBusy:
		return "busy"
	case CauseAddressUnresolvable:
		return "address-unresolvable"
	case CauseConnectionRefused:
		return "connection-refused"
	case CauseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// OpenError reports a failed Open with its classified cause.
type OpenError struct {
	Kind   string
	Target string
	Cause  OpenCause
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s link to %s: %s: %v", e.Kind, e.Target, e.Cause, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// IOError reports a mid-session send or receive failure. The supervisor
// treats it as retryable up to the retry limit.
type IOError struct {
	Kind string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s link %s: %v", e.Kind, e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
