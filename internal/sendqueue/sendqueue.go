// Package sendqueue provides the bounded FIFO between command producers and
// the supervisor's sender loop. Enqueue applies hard backpressure: a packet
// that would push the buffered byte total past the configured maximum is
// rejected, never silently dropped.
package sendqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/etchlab/engravelink/internal/protocol"
)

// ErrBufferFull marks rejections caused by the byte budget. Use errors.Is
// against *RejectedError values.
var ErrBufferFull = errors.New("sendqueue: buffer full")

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("sendqueue: closed")

// RejectedError carries the accounting behind a backpressure rejection.
type RejectedError struct {
	PacketBytes int
	Buffered    int
	Max         int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("sendqueue: packet of %d bytes rejected: %d buffered of %d max", e.PacketBytes, e.Buffered, e.Max)
}

// Is lets errors.Is(err, ErrBufferFull) match rejections.
func (e *RejectedError) Is(target error) bool { return target == ErrBufferFull }

// Queue is a bounded FIFO of encoded packets. Byte accounting mutates under
// the same lock as the packet list, so observers never see a partial
// update. Safe for concurrent use by producers and one consumer.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	packets  []protocol.Packet
	buffered int
	peak     int
	max      int
	closed   bool
}

// New returns a queue holding at most maxBytes of encoded frames.
func New(maxBytes int) *Queue {
	q := &Queue{max: maxBytes}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends p in FIFO order, or rejects it with a *RejectedError when
// the packet would exceed the byte budget.
func (q *Queue) Enqueue(p protocol.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.buffered+p.Size() > q.max {
		return &RejectedError{PacketBytes: p.Size(), Buffered: q.buffered, Max: q.max}
	}
	q.packets = append(q.packets, p)
	q.buffered += p.Size()
	if q.buffered > q.peak {
		q.peak = q.buffered
	}
	q.cond.Signal()
	return nil
}

// Requeue puts p back at the head of the queue, ahead of everything else.
// Used by the sender to preserve the position of an in-flight packet whose
// transmission failed; the byte budget is not re-checked because the packet
// was already accounted for when first accepted.
func (q *Queue) Requeue(p protocol.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.packets = append([]protocol.Packet{p}, q.packets...)
	q.buffered += p.Size()
	if q.buffered > q.peak {
		q.peak = q.buffered
	}
	q.cond.Signal()
}

// Dequeue removes and returns the oldest packet, blocking while the queue
// is empty until the next Enqueue, Close, or ctx cancellation.
func (q *Queue) Dequeue(ctx context.Context) (protocol.Packet, error) {
	// wake the cond wait when the context is cancelled
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.packets) == 0 {
		if q.closed {
			return protocol.Packet{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return protocol.Packet{}, err
		}
		q.cond.Wait()
	}

	p := q.packets[0]
	q.packets = q.packets[1:]
	q.buffered -= p.Size()
	return p, nil
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

// Buffered returns the byte total currently queued.
func (q *Queue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buffered
}

// Peak returns the highest byte total observed since creation or Clear.
func (q *Queue) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

// Clear drops all queued packets and resets the byte accounting, including
// the peak. Used on supervisor teardown and explicit reset.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.packets = nil
	q.buffered = 0
	q.peak = 0
}

// Close shuts the queue down; blocked Dequeue calls return ErrClosed and
// future Enqueue calls fail.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
