// Package notify provides the subscribe/unsubscribe fan-out shared by the
// adapters and the coordinator.
package notify

import "sync"

// Hub delivers values to registered subscribers in registration order.
// The zero value is ready to use.
type Hub[E any] struct {
	mu   sync.RWMutex
	next int
	ids  []int
	subs map[int]func(E)
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (h *Hub[E]) Subscribe(fn func(E)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(E))
	}
	h.next++
	id := h.next
	h.subs[id] = fn
	h.ids = append(h.ids, id)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[E]) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
	for i, v := range h.ids {
		if v == id {
			h.ids = append(h.ids[:i], h.ids[i+1:]...)
			break
		}
	}
}

// Publish calls every subscriber with e on the calling goroutine.
func (h *Hub[E]) Publish(e E) {
	h.mu.RLock()
	fns := make([]func(E), 0, len(h.ids))
	for _, id := range h.ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Len returns the number of active subscribers.
func (h *Hub[E]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}
