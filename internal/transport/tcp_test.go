package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestTCPLinkOpenSendReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// echo server for one connection
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			conn.Write(buf[:n])
		}
	}()

	link := NewTCPLink(ln.Addr().String(), time.Second, time.Second)
	ctx := context.Background()

	if link.IsAlive() {
		t.Fatal("link alive before Open")
	}
	if err := link.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close()
	if !link.IsAlive() {
		t.Fatal("link not alive after Open")
	}
	if err := link.Open(ctx); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open = %v, want ErrAlreadyOpen", err)
	}

	frame := []byte{0xAB, 0x05, 0x01, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}
	if err := link.Send(ctx, frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 64)
	n, err := link.Receive(ctx, buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(buf[:n]) != string(frame[:n]) {
		t.Errorf("echoed bytes mismatch")
	}

	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := link.Send(ctx, frame); err == nil {
		t.Fatal("Send on closed link succeeded")
	}
}

func TestTCPLinkOpenConnectionRefused(t *testing.T) {
	// grab a port and release it so nothing is listening there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	link := NewTCPLink(addr, time.Second, time.Second)
	err = link.Open(context.Background())
	var oerr *OpenError
	if !errors.As(err, &oerr) {
		t.Fatalf("Open = %v, want *OpenError", err)
	}
	if oerr.Cause != CauseConnectionRefused {
		t.Errorf("cause = %v, want %v", oerr.Cause, CauseConnectionRefused)
	}
	if link.IsAlive() {
		t.Error("link alive after failed Open")
	}
}

func TestTCPLinkOpenAddressUnresolvable(t *testing.T) {
	link := NewTCPLink("engraver.invalid:5005", 2*time.Second, time.Second)
	err := link.Open(context.Background())
	var oerr *OpenError
	if !errors.As(err, &oerr) {
		t.Fatalf("Open = %v, want *OpenError", err)
	}
	if oerr.Cause != CauseAddressUnresolvable {
		t.Errorf("cause = %v, want %v", oerr.Cause, CauseAddressUnresolvable)
	}
}

func TestTCPLinkOpenTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 2s dial timeout in short mode")
	}

	// RFC 5737 TEST-NET-1 address: unroutable, so the dial hangs until the
	// timeout fires
	link := NewTCPLink("192.0.2.1:5005", 2*time.Second, time.Second)

	start := time.Now()
	err := link.Open(context.Background())
	elapsed := time.Since(start)

	var oerr *OpenError
	if !errors.As(err, &oerr) {
		t.Fatalf("Open = %v, want *OpenError", err)
	}
	if oerr.Cause != CauseTimeout {
		t.Errorf("cause = %v, want %v", oerr.Cause, CauseTimeout)
	}
	if elapsed < 2*time.Second {
		t.Errorf("dial failed after %v, want >= 2s", elapsed)
	}
}

func TestTCPLinkReceiveTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// hold the connection open without writing
		defer conn.Close()
		time.Sleep(5 * time.Second)
	}()

	link := NewTCPLink(ln.Addr().String(), time.Second, 100*time.Millisecond)
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close()

	buf := make([]byte, 16)
	_, err = link.Receive(context.Background(), buf)
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("Receive = %v, want *IOError", err)
	}
	var netErr net.Error
	if !errors.As(ioErr.Err, &netErr) || !netErr.Timeout() {
		t.Errorf("Receive error %v is not a timeout", ioErr.Err)
	}
}
