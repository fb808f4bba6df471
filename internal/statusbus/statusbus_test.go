package statusbus

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribersInOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	states := []string{"disconnected", "connecting", "connected"}
	for _, s := range states {
		bus.Publish(Event{Topic: TopicConnectionState, State: s})
	}

	for i, want := range states {
		select {
		case ev := <-ch:
			if ev.State != want {
				t.Errorf("event %d: state %q, want %q", i, ev.State, want)
			}
			if ev.At.IsZero() {
				t.Error("event timestamp not stamped")
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestTopicFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	id, ch := bus.Subscribe(TopicPacketText)
	defer bus.Unsubscribe(id)

	bus.Publish(Event{Topic: TopicConnectionState, State: "connected"})
	bus.Publish(Event{Topic: TopicBufferOccupancy, Buffered: 12})
	bus.Publish(Event{Topic: TopicPacketText, Text: "move x=1 y=1"})

	select {
	case ev := <-ch:
		if ev.Topic != TopicPacketText {
			t.Errorf("received %q, want packet_text only", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber received nothing")
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfStalling(t *testing.T) {
	bus := New()
	defer bus.Close()

	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	// never drained: publishing far past the channel depth must not block
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*10; i++ {
			bus.Publish(Event{Topic: TopicPacketText, Text: "ping"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d", got, subscriberBuffer)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	defer bus.Close()

	id, ch := bus.Subscribe()
	bus.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
	// double unsubscribe is harmless
	bus.Unsubscribe(id)
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	bus := New()
	_, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe(TopicConnectionState)

	bus.Close()

	for i, ch := range []<-chan Event{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Errorf("subscriber %d channel open after Close", i)
		}
	}

	// publish after close is a no-op, subscribe yields a closed channel
	bus.Publish(Event{Topic: TopicPacketText})
	_, ch3 := bus.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("Subscribe after Close returned a live channel")
	}
}
