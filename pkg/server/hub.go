package server

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/astromechza/tasklive/pkg/tasks"
)

const subscriberBuffer = 64

var ErrHubClosed = errors.New("hub closed")

// Hub fans change events out to every connected stream.
type Hub struct {
	logger *slog.Logger

	mu          sync.Mutex
	closed      bool
	subscribers map[uuid.UUID]chan tasks.ChangeEvent
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subscribers: make(map[uuid.UUID]chan tasks.ChangeEvent)}
}

// Subscriber is one stream's view of the hub. Events is closed when the
// subscriber falls too far behind or the hub shuts down.
type Subscriber struct {
	ID     uuid.UUID
	Events <-chan tasks.ChangeEvent
}

func (h *Hub) Subscribe() (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	id := uuid.New()
	ch := make(chan tasks.ChangeEvent, subscriberBuffer)
	h.subscribers[id] = ch
	h.logger.Info("subscriber joined", "subscriber", id, "count", len(h.subscribers))
	return &Subscriber{ID: id, Events: ch}, nil
}

func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
		h.logger.Info("subscriber left", "subscriber", id, "count", len(h.subscribers))
	}
}

// Publish never blocks. A subscriber whose buffer is full is dropped and will
// have to reconnect and refresh.
func (h *Hub) Publish(ev tasks.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			delete(h.subscribers, id)
			close(ch)
			h.logger.Warn("dropped slow subscriber", "subscriber", id)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close ends every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
