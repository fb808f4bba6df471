package transport

import (
	"bytes"
	"context"
	"sync"
)

// MockLink implements Link with scriptable behaviour. It backs dev mode in
// the daemon and the supervisor tests, giving fine-grained control over
// open failures, per-send failures and canned status replies.
type MockLink struct {
	mu sync.Mutex

	// OpenErr is returned by the next Open call if set.
	OpenErr error

	// HandshakeReply is queued for Receive after every successful Open.
	HandshakeReply []byte

	// sendErrs is a FIFO of errors consumed by Send, one per call; a nil
	// entry means that send succeeds.
	sendErrs []error

	readBuf bytes.Buffer
	sent    [][]byte
	opened  bool

	openCalls  int
	closeCalls int
}

// NewMockLink returns a link whose every operation succeeds and whose
// handshake replies with an idle status frame.
func NewMockLink() *MockLink {
	return &MockLink{HandshakeReply: []byte{0x5A, 0x10, 0x00}}
}

// Kind implements Link.
func (l *MockLink) Kind() string { return "mock" }

// FailOpen makes the next Open return err.
func (l *MockLink) FailOpen(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.OpenErr = err
}

// ScriptSendErrors appends per-call send outcomes; nil entries succeed.
// Once the script is exhausted every send succeeds.
func (l *MockLink) ScriptSendErrors(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErrs = append(l.sendErrs, errs...)
}

// QueueStatus adds raw status bytes for subsequent Receive calls.
func (l *MockLink) QueueStatus(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readBuf.Write(b)
}

// Sent returns copies of every frame successfully sent.
func (l *MockLink) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent))
	for i, f := range l.sent {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// OpenCalls returns how many times Open was attempted.
func (l *MockLink) OpenCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openCalls
}

// CloseCalls returns how many times Close was called on an open link.
func (l *MockLink) CloseCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCalls
}

// Open implements Link.
func (l *MockLink) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openCalls++
	if l.opened {
		return ErrAlreadyOpen
	}
	if l.OpenErr != nil {
		err := l.OpenErr
		return err
	}
	l.opened = true
	l.readBuf.Reset()
	l.readBuf.Write(l.HandshakeReply)
	return nil
}

// Close implements Link.
func (l *MockLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		l.closeCalls++
	}
	l.opened = false
	return nil
}

// IsAlive implements Link.
func (l *MockLink) IsAlive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

// Send implements Link, consuming the scripted outcome for this call.
func (l *MockLink) Send(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened {
		return &IOError{Kind: l.Kind(), Op: "write", Err: ErrNotOpen}
	}
	if len(l.sendErrs) > 0 {
		err := l.sendErrs[0]
		l.sendErrs = l.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	l.sent = append(l.sent, append([]byte(nil), frame...))
	return nil
}

// Receive implements Link, draining queued status bytes. An empty queue
// reports a timeout the way the real variants do.
func (l *MockLink) Receive(ctx context.Context, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened {
		return 0, &IOError{Kind: l.Kind(), Op: "read", Err: ErrNotOpen}
	}
	if l.readBuf.Len() == 0 {
		return 0, &IOError{Kind: l.Kind(), Op: "read", Err: context.DeadlineExceeded}
	}
	return l.readBuf.Read(buf)
}
