package speech

import (
	"context"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-interview/internal/notify"
)

// Request is a Speak call recorded by Manual.
type Request struct {
	ID   string
	Text string
}

// Manual records Speak calls and leaves playback events to the caller.
type Manual struct {
	hub notify.Hub[Event]

	mu       sync.Mutex
	seq      int
	requests []Request
	stops    int
	speakErr error
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Speak(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.speakErr; err != nil {
		m.speakErr = nil
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("req-%d", m.seq)
	m.requests = append(m.requests, Request{ID: id, Text: text})
	return id, nil
}

func (m *Manual) Stop() error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	return nil
}

func (m *Manual) Subscribe(fn func(Event)) func() {
	return m.hub.Subscribe(fn)
}

// Emit delivers e to subscribers synchronously.
func (m *Manual) Emit(e Event) {
	m.hub.Publish(e)
}

// FailNextSpeak makes the next Speak call return err.
func (m *Manual) FailNextSpeak(err error) {
	m.mu.Lock()
	m.speakErr = err
	m.mu.Unlock()
}

// Requests returns every accepted Speak call in order.
func (m *Manual) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Last returns the most recent request.
func (m *Manual) Last() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}

func (m *Manual) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *Manual) Subscribers() int {
	return m.hub.Len()
}
