package notifications

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event — одно событие потока выполнения запроса для SSE.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Hub раздает события исполнителя подписчикам конкретного запроса.
// Отправка неблокирующая: медленный подписчик теряет события, а не
// останавливает конвейер.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan Event]struct{}
}

// NewHub создает хаб событий выполнения.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]map[chan Event]struct{}),
	}
}

// Subscribe подписывает на события запроса и возвращает канал с функцией
// отписки.
func (h *Hub) Subscribe(requestID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[requestID]
	if !ok {
		subs = make(map[chan Event]struct{})
		h.subscribers[requestID] = subs
	}
	subs[ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if subs, exists := h.subscribers[requestID]; exists {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.subscribers, requestID)
			}
		}
		close(ch)
	}
}

// Publish отправляет событие всем подписчикам запроса.
func (h *Hub) Publish(requestID uuid.UUID, event Event) {
	event.Timestamp = time.Now().UTC()

	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.subscribers[requestID]
	if !ok {
		return
	}

	for ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}
