package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: SignalScheduled, Data: "trip-1"})

	select {
	case e := <-ch:
		if e.Type != SignalScheduled || e.Data != "trip-1" {
			t.Fatalf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("publish did not stamp the time")
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: SignalDelivered})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1 (rest dropped)", len(ch))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()

	b.Publish(Event{Type: SignalExpired})
	if _, ok := <-ch; ok {
		t.Fatal("received on an unsubscribed channel")
	}
}
