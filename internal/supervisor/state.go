package supervisor

import (
	"math"
	"time"
)

// State is the connection-lifecycle state. Exactly one live value exists
// per supervisor; only the supervisor mutates it.
type State int32

const (
	StateUninitialized State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateRetrying
	StateFailed
	StateSuspended
	StateDisconnecting
)

// String returns the lowercase state name published on the status bus.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	case StateSuspended:
		return "suspended"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// BackoffPolicy produces increasing delays between successive retry or
// reconnect attempts: Initial grows by Factor per attempt, capped at Max.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// Delay returns the wait before the given attempt (1-based). Attempt
// values below 1 are treated as 1.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1))
	if d > float64(p.Max) || math.IsInf(d, 1) {
		return p.Max
	}
	return time.Duration(d)
}
