package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"
)

// TCPLink drives an engraver controller reachable over the network, such as
// a controller board with an ethernet bridge.
type TCPLink struct {
	addr        string
	dialTimeout time.Duration
	ioTimeout   time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPLink prepares a link to host:port. The link is not opened.
func NewTCPLink(addr string, dialTimeout, ioTimeout time.Duration) *TCPLink {
	return &TCPLink{addr: addr, dialTimeout: dialTimeout, ioTimeout: ioTimeout}
}

// Kind implements Link.
func (l *TCPLink) Kind() string { return "tcp" }

// Open dials the controller. Resolution failures, refused connections and
// dial timeouts are classified separately so the status surface can name
// the actual obstacle.
func (l *TCPLink) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return ErrAlreadyOpen
	}

	dialer := net.Dialer{Timeout: l.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return &OpenError{Kind: l.Kind(), Target: l.addr, Cause: classifyDial(err), Err: err}
	}
	l.conn = conn
	return nil
}

func classifyDial(err error) OpenCause {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CauseAddressUnresolvable
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return CauseConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CauseTimeout
	}
	return CauseUnknown
}

// Close closes the connection. Idempotent.
func (l *TCPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// IsAlive implements Link.
func (l *TCPLink) IsAlive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send writes one frame under a write deadline derived from the IO timeout.
func (l *TCPLink) Send(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return &IOError{Kind: l.Kind(), Op: "write", Err: ErrNotOpen}
	}
	if err := ctx.Err(); err != nil {
		return &IOError{Kind: l.Kind(), Op: "write", Err: err}
	}

	if err := conn.SetWriteDeadline(deadline(ctx, l.ioTimeout)); err != nil {
		return &IOError{Kind: l.Kind(), Op: "write", Err: err}
	}
	if _, err := conn.Write(frame); err != nil {
		return &IOError{Kind: l.Kind(), Op: "write", Err: err}
	}
	return nil
}

// Receive reads reply bytes under a read deadline derived from the IO
// timeout.
func (l *TCPLink) Receive(ctx context.Context, buf []byte) (int, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return 0, &IOError{Kind: l.Kind(), Op: "read", Err: ErrNotOpen}
	}
	if err := ctx.Err(); err != nil {
		return 0, &IOError{Kind: l.Kind(), Op: "read", Err: err}
	}

	if err := conn.SetReadDeadline(deadline(ctx, l.ioTimeout)); err != nil {
		return 0, &IOError{Kind: l.Kind(), Op: "read", Err: err}
	}
	n, err := conn.Read(buf)
	if err != nil {
		return n, &IOError{Kind: l.Kind(), Op: "read", Err: err}
	}
	return n, nil
}

// deadline picks the sooner of the context deadline and the IO timeout.
func deadline(ctx context.Context, ioTimeout time.Duration) time.Time {
	d := time.Now().Add(ioTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
