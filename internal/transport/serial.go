package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialLink drives an engraver controller attached as a local serial
// device (USB adapters included).
type SerialLink struct {
	device    string
	mode      *serial.Mode
	ioTimeout time.Duration

	mu   sync.Mutex
	port serial.Port
}

// NewSerialLink prepares a link for the serial device at path. The mode is
// typically built by config.Config.SerialMode. The link is not opened.
func NewSerialLink(device string, mode *serial.Mode, ioTimeout time.Duration) *SerialLink {
	return &SerialLink{device: device, mode: mode, ioTimeout: ioTimeout}
}

// Kind implements Link.
func (l *SerialLink) Kind() string { return "serial" }

// Open opens the serial device. PortNotFound and PortBusy failures from the
// OS are surfaced as distinct causes so callers can tell an unplugged
// controller apart from one held by another process.
func (l *SerialLink) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return ErrAlreadyOpen
	}
	if err := ctx.Err(); err != nil {
		return &OpenError{Kind: l.Kind(), Target: l.device, Cause: CauseTimeout, Err: err}
	}

	port, err := serial.Open(l.device, l.mode)
	if err != nil {
		return &OpenError{Kind: l.Kind(), Target: l.device, Cause: classifySerialOpen(err), Err: err}
	}
	if err := port.SetReadTimeout(l.ioTimeout); err != nil {
		port.Close()
		return &OpenError{Kind: l.Kind(), Target: l.device, Cause: CauseUnknown, Err: err}
	}
	l.port = port
	return nil
}

func classifySerialOpen(err error) OpenCause {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PortNotFound:
			return CauseNotFound
		case serial.PortBusy:
			return CauseBusy
		}
	}
	return CauseUnknown
}

// Close closes the device handle. Idempotent.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// IsAlive implements Link.
func (l *SerialLink) IsAlive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Send writes one frame. A short write is an IOError; the serial layer has
// no partial-frame recovery, so the supervisor must retransmit the whole
// packet.
func (l *SerialLink) Send(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return &IOError{Kind: l.Kind(), Op: "write", Err: ErrNotOpen}
	}
	if err := ctx.Err(); err != nil {
		return &IOError{Kind: l.Kind(), Op: "write", Err: err}
	}

	n, err := port.Write(frame)
	if err != nil {
		return &IOError{Kind: l.Kind(), Op: "write", Err: err}
	}
	if n != len(frame) {
		return &IOError{Kind: l.Kind(), Op: "write", Err: errors.New("short write")}
	}
	return nil
}

// Receive reads reply bytes, blocking up to the configured read timeout. A
// timeout with no data is reported as an IOError rather than a zero-byte
// success so a stalled controller is never mistaken for a quiet one.
func (l *SerialLink) Receive(ctx context.Context, buf []byte) (int, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return 0, &IOError{Kind: l.Kind(), Op: "read", Err: ErrNotOpen}
	}
	if err := ctx.Err(); err != nil {
		return 0, &IOError{Kind: l.Kind(), Op: "read", Err: err}
	}

	n, err := port.Read(buf)
	if err != nil {
		return n, &IOError{Kind: l.Kind(), Op: "read", Err: err}
	}
	if n == 0 {
		// go.bug.st/serial signals a read timeout as (0, nil)
		return 0, &IOError{Kind: l.Kind(), Op: "read", Err: context.DeadlineExceeded}
	}
	return n, nil
}
