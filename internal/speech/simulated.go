package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interview/internal/notify"
)

// DefaultWordsPerSecond approximates conversational pace (150 wpm).
const DefaultWordsPerSecond = 2.5

// Simulated stands in for a synthesis engine when none is deployed: each
// request "plays" for as long as reading the text aloud would take.
type Simulated struct {
	hub   notify.Hub[Event]
	rate  float64
	scale float64
	clock func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimulated builds an adapter speaking at wordsPerSecond. scale
// multiplies the simulated duration; zero plays instantly.
func NewSimulated(wordsPerSecond, scale float64) *Simulated {
	if wordsPerSecond <= 0 {
		wordsPerSecond = DefaultWordsPerSecond
	}
	return &Simulated{rate: wordsPerSecond, scale: scale, clock: time.Now}
}

func (s *Simulated) Subscribe(fn func(Event)) func() {
	return s.hub.Subscribe(fn)
}

// Duration returns the simulated playback time for text.
func (s *Simulated) Duration(text string) time.Duration {
	words := float64(len(strings.Fields(text)))
	return time.Duration(words / s.rate * s.scale * float64(time.Second))
}

func (s *Simulated) Speak(ctx context.Context, text string) (string, error) {
	id := uuid.NewString()
	playCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	d := s.Duration(text)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.hub.Publish(Event{Kind: Started, RequestID: id, At: s.clock()})
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.hub.Publish(Event{Kind: Finished, RequestID: id, At: s.clock()})
		case <-playCtx.Done():
			s.hub.Publish(Event{Kind: Cancelled, RequestID: id, At: s.clock()})
		}
	}()
	return id, nil
}

func (s *Simulated) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Close stops playback and waits for pending events to be delivered.
func (s *Simulated) Close() {
	_ = s.Stop()
	s.wg.Wait()
}
