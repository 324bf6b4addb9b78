package hub

import (
	"sync"
	"sync/atomic"

	"logsift/pkg/metrics"
)

const subscriberBuffer = 1024

// Subscription is one consumer of a Hub. C is closed when the subscription
// is cancelled or the hub is closed.
type Subscription[T any] struct {
	C <-chan T

	ch   chan T
	hub  *Hub[T]
	once sync.Once
}

// Cancel detaches the subscription. It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans values out to every subscriber. A subscriber that falls behind
// loses values instead of blocking the publisher.
type Hub[T any] struct {
	name string

	mu          sync.RWMutex
	subscribers map[*Subscription[T]]struct{}
	closed      bool
	dropped     atomic.Int64
}

// New creates a hub. name labels its metrics.
func New[T any](name string) *Hub[T] {
	return &Hub[T]{
		name:        name,
		subscribers: make(map[*Subscription[T]]struct{}),
	}
}

func (h *Hub[T]) Subscribe() *Subscription[T] {
	ch := make(chan T, subscriberBuffer)
	sub := &Subscription[T]{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subscribers[sub] = struct{}{}
	metrics.SetWebsocketClients(h.name, len(h.subscribers))
	return sub
}

func (h *Hub[T]) remove(sub *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.ch)
	metrics.SetWebsocketClients(h.name, len(h.subscribers))
}

// Broadcast delivers v to every subscriber with room for it and returns
// how many received it.
func (h *Hub[T]) Broadcast(v T) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for sub := range h.subscribers {
		select {
		case sub.ch <- v:
			sent++
		default:
			h.dropped.Add(1)
			metrics.IncWebsocketDropped(h.name)
		}
	}
	return sent
}

// Dropped is the number of values lost to slow subscribers.
func (h *Hub[T]) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscription. Later subscriptions are closed at once.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		close(sub.ch)
	}
	h.subscribers = make(map[*Subscription[T]]struct{})
	metrics.SetWebsocketClients(h.name, 0)
}
