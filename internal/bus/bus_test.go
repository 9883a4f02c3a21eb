package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.batch_merged", Timestamp: time.Now(), Payload: 3})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.batch_merged" || evt.Payload != 3 {
			t.Errorf("got %+v, want sync.batch_merged with payload 3", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("media.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.fetch_completed"})
	b.Publish(Event{Kind: "media.downloaded"})

	select {
	case evt := <-ch:
		if evt.Kind != "media.downloaded" {
			t.Errorf("got kind %q, want media.downloaded", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyNamespaceReceivesEverything(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.fetch_completed"})
	b.Publish(Event{Kind: "pipeline.completed"})

	if len(ch) != 2 {
		t.Errorf("buffered = %d, want 2", len(ch))
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: "session.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("media.", 1)
	defer unsub()

	b.Publish(Event{Kind: "media.downloaded"})
	// Buffer is full, so this one is dropped.
	b.Publish(Event{Kind: "media.failed"})

	if evt := <-ch; evt.Kind != "media.downloaded" {
		t.Errorf("got %q, want media.downloaded", evt.Kind)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: "sync.batch_merged"})
	if b.Dropped() != 0 {
		t.Error("nil bus should report no drops")
	}
}
