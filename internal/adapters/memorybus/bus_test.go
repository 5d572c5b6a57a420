package memorybus

import (
	"testing"

	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

func TestBus_PublishSubscribeCancel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()

	b.Publish(ports.TopicSubtitleCaptured, []byte(`{"id":"1"}`))
	evt := <-ch
	if evt.Topic != ports.TopicSubtitleCaptured || string(evt.Payload) != `{"id":"1"}` {
		t.Fatalf("unexpected event: %+v", evt)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers: want 0, got %d", b.Subscribers())
	}
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < defaultBuffer+10; i++ {
		b.Publish(ports.TopicHistoryUpdated, nil)
	}
	if len(ch) != defaultBuffer {
		t.Fatalf("buffered: want %d, got %d", defaultBuffer, len(ch))
	}
}

func TestBus_Close(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	b.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(ports.TopicCacheCleared, nil)

	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("subscribe after Close should return a closed channel")
	}
}
