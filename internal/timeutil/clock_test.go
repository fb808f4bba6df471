package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Timer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestMockClock_AdvanceFiresTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	timer := clock.NewTimer(time.Minute)
	select {
	case <-timer.C():
		t.Fatal("timer fired before Advance")
	default:
	}

	clock.Advance(30 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	clock.Advance(30 * time.Second)
	select {
	case fired := <-timer.C():
		if !fired.Equal(start.Add(time.Minute)) {
			t.Errorf("fired at %v, want %v", fired, start.Add(time.Minute))
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestMockClock_StoppedTimerNeverFires(t *testing.T) {
	clock := NewMockClock(time.Now())
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop on an active timer returned false")
	}
	clock.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Error("stopped timer fired")
	default:
	}
	if timer.Stop() {
		t.Error("second Stop returned true")
	}
}

func TestMockClock_ZeroDurationTimerFiresImmediately(t *testing.T) {
	clock := NewMockClock(time.Now())
	timer := clock.NewTimer(0)
	select {
	case <-timer.C():
	default:
		t.Fatal("zero-duration timer did not fire")
	}
}

func TestMockClock_SleepRecords(t *testing.T) {
	clock := NewMockClock(time.Now())
	clock.Sleep(time.Second)
	clock.Sleep(2 * time.Second)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}
