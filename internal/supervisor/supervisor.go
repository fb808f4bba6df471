// Package supervisor owns the connection-lifecycle state machine for one
// engraver link. It drives the background sender loop, applies retry and
// backoff on mid-session transport failures, and publishes every state
// transition on the status bus.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/etchlab/engravelink/internal/eventlog"
	"github.com/etchlab/engravelink/internal/monitoring"
	"github.com/etchlab/engravelink/internal/protocol"
	"github.com/etchlab/engravelink/internal/sendqueue"
	"github.com/etchlab/engravelink/internal/stats"
	"github.com/etchlab/engravelink/internal/statusbus"
	"github.com/etchlab/engravelink/internal/timeutil"
	"github.com/etchlab/engravelink/internal/transport"
)

// ErrNotConnected is returned by Send when the link cannot accept work.
var ErrNotConnected = errors.New("supervisor: link not connected")

// Options configures a Supervisor. Link is required; everything else has a
// usable default.
type Options struct {
	Link transport.Link

	// Bus receives state/packet/buffer events; a private bus is created
	// when nil.
	Bus *statusbus.Bus

	// Log persists transitions and sent commands; nil disables persistence.
	Log *eventlog.Store

	// Clock defaults to the real clock.
	Clock timeutil.Clock

	MaxBufferBytes   int
	RetryLimit       int
	SuspendThreshold int
	IOTimeout        time.Duration
	Backoff          BackoffPolicy

	// DisableAutoReconnect turns off the automatic Failed → Connecting
	// transition; recovery then requires an explicit Connect.
	DisableAutoReconnect bool
}

func (o Options) withDefaults() Options {
	if o.Bus == nil {
		o.Bus = statusbus.New()
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.MaxBufferBytes <= 0 {
		o.MaxBufferBytes = 64 * 1024
	}
	if o.RetryLimit <= 0 {
		o.RetryLimit = 3
	}
	if o.SuspendThreshold <= 0 {
		o.SuspendThreshold = 5
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 2 * time.Second
	}
	if o.Backoff.Initial <= 0 {
		o.Backoff.Initial = 500 * time.Millisecond
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = 30 * time.Second
	}
	if o.Backoff.Factor < 1 {
		o.Backoff.Factor = 2.0
	}
	return o
}

// Supervisor drives one transport link. Create with New, wire commands in
// with Send, observe through Bus subscriptions and Statistics.
type Supervisor struct {
	link    transport.Link
	queue   *sendqueue.Queue
	codec   *protocol.Codec
	bus     *statusbus.Bus
	tracker *stats.Tracker
	log     *eventlog.Store
	clock   timeutil.Clock
	opts    Options

	mu          sync.Mutex
	state       State
	consecFails int
	// generation invalidates stale sender loops, reconnect timers and
	// in-flight establish attempts whenever the lifecycle is redirected
	generation   int
	senderCancel context.CancelFunc
	senderDone   chan struct{}
}

// New builds a supervisor bound to opts.Link. The initial state is
// Disconnected; nothing touches the transport until Connect.
func New(opts Options) (*Supervisor, error) {
	if opts.Link == nil {
		return nil, errors.New("supervisor: a transport link is required")
	}
	opts = opts.withDefaults()

	s := &Supervisor{
		link:    opts.Link,
		queue:   sendqueue.New(opts.MaxBufferBytes),
		codec:   protocol.NewCodec(),
		bus:     opts.Bus,
		tracker: stats.NewTracker(),
		log:     opts.Log,
		clock:   opts.Clock,
		opts:    opts,
		state:   StateUninitialized,
	}

	s.mu.Lock()
	s.setStateLocked(StateDisconnected, "supervisor ready")
	s.mu.Unlock()
	return s, nil
}

// Bus returns the status bus for subscriptions.
func (s *Supervisor) Bus() *statusbus.Bus { return s.bus }

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Statistics returns a snapshot of the running counters.
func (s *Supervisor) Statistics() stats.Snapshot {
	return s.tracker.Snapshot()
}

// ResetStatistics zeroes the sent/rejected/peak counters. The connection
// state and queued packets are untouched.
func (s *Supervisor) ResetStatistics() {
	s.tracker.Reset()
}

// Connect opens the transport and performs the handshake. Valid from
// Disconnected, Failed and Suspended; Suspended in particular requires this
// explicit call, automatic reconnection never leaves it.
func (s *Supervisor) Connect() error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateFailed, StateSuspended:
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("supervisor: cannot connect from state %s", st)
	}
	if s.state == StateSuspended {
		// explicit action resets the failure streak
		s.consecFails = 0
	}
	s.generation++
	gen := s.generation
	s.setStateLocked(StateConnecting, fmt.Sprintf("opening %s link", s.link.Kind()))
	s.mu.Unlock()

	return s.establish(gen)
}

// establish runs open + handshake outside the lock, then settles the
// resulting state if the attempt has not been superseded.
func (s *Supervisor) establish(gen int) error {
	err := s.openAndHandshake()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.state != StateConnecting {
		// superseded by Disconnect or a newer Connect
		if err == nil {
			if cerr := s.link.Close(); cerr != nil {
				monitoring.Logf("close superseded %s link: %v", s.link.Kind(), cerr)
			}
		}
		return err
	}

	if err != nil {
		if cerr := s.link.Close(); cerr != nil {
			monitoring.Logf("close %s link after failed open: %v", s.link.Kind(), cerr)
		}
		s.failLocked(err)
		return err
	}

	s.consecFails = 0
	s.setStateLocked(StateConnected, fmt.Sprintf("%s link established", s.link.Kind()))
	s.startSenderLocked()
	return nil
}

// openAndHandshake opens the link, sends a ping and waits for one decodable
// status frame. The transport's own IO timeout bounds each receive; the
// overall wait is additionally capped at the configured IO timeout.
func (s *Supervisor) openAndHandshake() error {
	ctx := context.Background()
	if err := s.link.Open(ctx); err != nil {
		return err
	}

	pkt, err := s.codec.Encode(protocol.Ping())
	if err != nil {
		return err
	}
	if err := s.link.Send(ctx, pkt.Data); err != nil {
		return err
	}

	start := s.clock.Now()
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := s.link.Receive(ctx, buf)
		if err != nil {
			return err
		}
		pending = append(pending, buf[:n]...)

		for len(pending) > 0 {
			rec, consumed, derr := protocol.DecodeStatus(pending)
			pending = pending[consumed:]
			if derr == nil {
				monitoring.Logf("handshake: controller reports %s", rec.Text())
				return nil
			}
			if errors.Is(derr, protocol.ErrIncomplete) {
				break
			}
			// malformed frame inside the handshake window: skip it
			monitoring.Logf("handshake: %v", derr)
		}

		if s.clock.Since(start) > s.opts.IOTimeout {
			return &transport.IOError{Kind: s.link.Kind(), Op: "handshake", Err: context.DeadlineExceeded}
		}
	}
}

// Send encodes the command and queues it for the sender loop. Encoding
// failures and backpressure rejections surface immediately to the caller;
// rejections also increment the rejected counter.
func (s *Supervisor) Send(cmd protocol.Command) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	switch st {
	case StateConnecting, StateConnected, StateRetrying:
	default:
		return fmt.Errorf("%w (state %s)", ErrNotConnected, st)
	}

	pkt, err := s.codec.Encode(cmd)
	if err != nil {
		return err
	}

	if err := s.queue.Enqueue(pkt); err != nil {
		if errors.Is(err, sendqueue.ErrBufferFull) {
			s.tracker.RecordRejected()
			s.bus.Publish(statusbus.Event{
				Topic:    statusbus.TopicBufferOccupancy,
				Text:     fmt.Sprintf("rejected %s: %v", pkt.Text(), err),
				Buffered: s.queue.Buffered(),
			})
		}
		return err
	}

	buffered := s.queue.Buffered()
	s.tracker.SetBuffer(buffered)
	s.bus.Publish(statusbus.Event{Topic: statusbus.TopicBufferOccupancy, Buffered: buffered})
	return nil
}

// Disconnect tears the link down. An in-flight send finishes or times out
// before the handle closes; close failures are logged and never block the
// Disconnected transition.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateDisconnecting, StateUninitialized:
		s.mu.Unlock()
		return nil
	}
	s.generation++
	cancel := s.senderCancel
	done := s.senderDone
	s.senderCancel, s.senderDone = nil, nil
	s.setStateLocked(StateDisconnecting, "disconnect requested")
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := s.link.Close(); err != nil {
		monitoring.Logf("close %s link: %v", s.link.Kind(), err)
	}

	s.mu.Lock()
	s.consecFails = 0
	s.setStateLocked(StateDisconnected, "link closed")
	s.mu.Unlock()
	return nil
}

// Close shuts the supervisor down for good: disconnects and closes the
// queue so the sender loop (if any) exits.
func (s *Supervisor) Close() error {
	err := s.Disconnect()
	s.queue.Close()
	return err
}

// startSenderLocked launches the background sender loop for the current
// generation. Caller holds s.mu.
func (s *Supervisor) startSenderLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.senderCancel = cancel
	s.senderDone = done
	go s.senderLoop(ctx, s.generation, done)
}

// senderLoop dequeues packets and transmits them in order, suspending on an
// empty queue. It exits on cancellation, queue shutdown, or escalation to
// Failed.
func (s *Supervisor) senderLoop(ctx context.Context, gen int, done chan struct{}) {
	defer close(done)
	for {
		pkt, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		s.tracker.SetBuffer(s.queue.Buffered())
		if err := s.transmit(ctx, gen, pkt); err != nil {
			return
		}
	}
}

// transmit sends one packet, retrying the same packet with backoff on
// transport IO errors. One Retrying event is published per attempt. When
// the retry limit is exhausted the packet is requeued at the head and the
// supervisor escalates to Failed.
func (s *Supervisor) transmit(ctx context.Context, gen int, pkt protocol.Packet) error {
	attempt := 0
	for {
		err := s.link.Send(ctx, pkt.Data)
		if err == nil {
			if attempt > 0 {
				s.transition(gen, StateConnected, fmt.Sprintf("send recovered on attempt %d", attempt+1))
			}
			s.recordSent(pkt)
			return nil
		}
		if ctx.Err() != nil {
			// disconnect took priority; keep the packet for a later session
			s.queue.Requeue(pkt)
			return ctx.Err()
		}

		attempt++
		if attempt > s.opts.RetryLimit {
			s.queue.Requeue(pkt)
			s.escalate(gen, err)
			return err
		}
		s.transition(gen, StateRetrying, fmt.Sprintf("attempt %d of %d: %v", attempt, s.opts.RetryLimit, err))

		timer := s.clock.NewTimer(s.opts.Backoff.Delay(attempt))
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			s.queue.Requeue(pkt)
			return ctx.Err()
		}
	}
}

func (s *Supervisor) recordSent(pkt protocol.Packet) {
	s.tracker.RecordSent(pkt.Text())
	buffered := s.queue.Buffered()
	s.tracker.SetBuffer(buffered)
	s.bus.Publish(statusbus.Event{Topic: statusbus.TopicPacketText, Text: pkt.Text()})
	s.bus.Publish(statusbus.Event{Topic: statusbus.TopicBufferOccupancy, Buffered: buffered})
	if err := s.log.RecordCommand(pkt.Seq, pkt.Kind.String(), pkt.Text(), pkt.Size()); err != nil {
		monitoring.Logf("event log: record command: %v", err)
	}
}

// escalate moves a retry-exhausted session to Failed, then either suspends
// or schedules an automatic reconnect.
func (s *Supervisor) escalate(gen int, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	if cerr := s.link.Close(); cerr != nil {
		monitoring.Logf("close %s link after retry exhaustion: %v", s.link.Kind(), cerr)
	}
	s.senderCancel, s.senderDone = nil, nil
	s.failLocked(cause)
}

// failLocked applies the Failed transition bookkeeping shared by connect
// failures and retry exhaustion. Caller holds s.mu.
func (s *Supervisor) failLocked(cause error) {
	s.consecFails++
	s.setStateLocked(StateFailed, cause.Error())
	if s.consecFails >= s.opts.SuspendThreshold {
		s.setStateLocked(StateSuspended, fmt.Sprintf("suspended after %d consecutive failures; reconnect required", s.consecFails))
		return
	}
	if !s.opts.DisableAutoReconnect {
		s.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms a backoff timer that re-enters Connecting if
// the supervisor is still Failed when it fires. Caller holds s.mu.
func (s *Supervisor) scheduleReconnectLocked() {
	gen := s.generation
	delay := s.opts.Backoff.Delay(s.consecFails)
	timer := s.clock.NewTimer(delay)
	monitoring.Logf("reconnect in %v", delay)

	go func() {
		<-timer.C()
		s.mu.Lock()
		if s.generation != gen || s.state != StateFailed {
			s.mu.Unlock()
			return
		}
		s.generation++
		next := s.generation
		s.setStateLocked(StateConnecting, "automatic reconnect")
		s.mu.Unlock()
		s.establish(next)
	}()
}

// transition applies a state change attributed to the given generation,
// ignoring it when the lifecycle has moved on.
func (s *Supervisor) transition(gen int, st State, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.setStateLocked(st, detail)
}

// setStateLocked mutates the state and publishes the transition. Caller
// holds s.mu. Publishing under the lock keeps events in transition order;
// the bus never blocks.
func (s *Supervisor) setStateLocked(st State, detail string) {
	s.state = st
	monitoring.Logf("link state: %s (%s)", st, detail)
	s.bus.Publish(statusbus.Event{
		Topic: statusbus.TopicConnectionState,
		State: st.String(),
		Text:  detail,
	})
	if err := s.log.RecordTransition(st.String(), detail); err != nil {
		monitoring.Logf("event log: record transition: %v", err)
	}
}
