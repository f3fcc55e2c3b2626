package eventbus

import (
	"testing"
)

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New()
	out := b.Publish(Event{Type: TypeListUpdated})
	if !out.NoSubscribers() {
		t.Fatalf("expected no_subscribers, got %s", out)
	}
}

func TestPublishDeliversAndStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	out := b.Publish(Event{Type: TypeListUpdated, Data: 42})
	if out.Delivered != 1 || out.String() != "delivered" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	e := <-ch
	if e.Type != TypeListUpdated || e.Data.(int) != 42 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Time.IsZero() {
		t.Fatal("expected publish to stamp time")
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	out := b.Publish(Event{Type: "b"})
	if out.Dropped != 1 || out.NoSubscribers() {
		t.Fatalf("expected a dropped delivery, got %+v", out)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if out := b.Publish(Event{Type: "x"}); !out.NoSubscribers() {
		t.Fatalf("expected no subscribers after unsubscribe, got %+v", out)
	}
}
