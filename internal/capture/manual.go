package capture

import (
	"context"
	"sync"

	"github.com/loqalabs/loqa-interview/internal/notify"
)

// Manual is an in-process adapter whose events are injected by the caller.
// It backs typed-input deployments and tests.
type Manual struct {
	hub notify.Hub[Event]

	mu        sync.Mutex
	listening bool
	locale    string
	starts    int
	stops     int
	startErr  error
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Start(_ context.Context, locale string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if err := m.startErr; err != nil {
		m.startErr = nil
		return err
	}
	m.listening = true
	m.locale = locale
	return nil
}

func (m *Manual) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		m.stops++
	}
	m.listening = false
	return nil
}

func (m *Manual) Subscribe(fn func(Event)) func() {
	return m.hub.Subscribe(fn)
}

// Emit delivers e to subscribers synchronously.
func (m *Manual) Emit(e Event) {
	m.hub.Publish(e)
}

// FailNextStart makes the next Start call return err.
func (m *Manual) FailNextStart(err error) {
	m.mu.Lock()
	m.startErr = err
	m.mu.Unlock()
}

func (m *Manual) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

func (m *Manual) Locale() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locale
}

// Starts returns how many times Start was called.
func (m *Manual) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Stops returns how many times an open capture was stopped.
func (m *Manual) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Subscribers returns the number of attached listeners.
func (m *Manual) Subscribers() int {
	return m.hub.Len()
}
