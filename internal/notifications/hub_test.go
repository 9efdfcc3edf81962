package notifications

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestHubPublishSubscribe проверяет доставку событий подписчику запроса.
func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()
	requestID := uuid.New()

	ch, unsubscribe := hub.Subscribe(requestID)
	defer unsubscribe()

	hub.Publish(requestID, Event{Type: "intent"})

	select {
	case event := <-ch:
		if event.Type != "intent" {
			t.Fatalf("expected event type intent, got %s", event.Type)
		}
		if event.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event to be delivered")
	}
}

// TestHubIsolation проверяет, что события не текут между запросами.
func TestHubIsolation(t *testing.T) {
	hub := NewHub()
	first := uuid.New()
	second := uuid.New()

	ch, unsubscribe := hub.Subscribe(first)
	defer unsubscribe()

	hub.Publish(second, Event{Type: "chunk"})

	select {
	case event := <-ch:
		t.Fatalf("unexpected event %s for another request", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestHubUnsubscribe проверяет закрытие канала после отписки.
func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	requestID := uuid.New()

	ch, unsubscribe := hub.Subscribe(requestID)
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}
