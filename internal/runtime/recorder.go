package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interview/internal/bus"
	"github.com/loqalabs/loqa-interview/internal/coordinator"
	"github.com/loqalabs/loqa-interview/internal/eventstore"
	"github.com/loqalabs/loqa-interview/internal/protocol"
	"github.com/loqalabs/loqa-interview/internal/transcript"
)

// recorder persists and mirrors one session's notifications off the
// coordinator goroutine.
type recorder struct {
	id     string
	store  *eventstore.Store
	bus    *bus.Client
	logger *slog.Logger
	ch     chan coordinator.Notification
	done   chan struct{}
	seq    int
}

func newRecorder(id string, store *eventstore.Store, busClient *bus.Client, logger *slog.Logger) *recorder {
	rec := &recorder{
		id:     id,
		store:  store,
		bus:    busClient,
		logger: logger.With(slog.String("component", "recorder"), slog.String("session_id", id)),
		ch:     make(chan coordinator.Notification, 256),
		done:   make(chan struct{}),
	}
	go rec.run()
	return rec
}

// notify queues n without blocking the coordinator.
func (rec *recorder) notify(n coordinator.Notification) {
	select {
	case rec.ch <- n:
	default:
		rec.logger.Warn("recorder queue full, dropping notification", slog.String("kind", string(n.Kind)))
	}
}

// close drains queued notifications. The coordinator must be closed first.
func (rec *recorder) close() {
	close(rec.ch)
	<-rec.done
}

func (rec *recorder) run() {
	defer close(rec.done)
	for n := range rec.ch {
		rec.handle(n)
	}
}

func (rec *recorder) handle(n coordinator.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if n.Kind == coordinator.UtteranceAdded && n.Utterance != nil {
		if err := rec.store.AppendUtterance(ctx, rec.id, rec.seq, *n.Utterance); err != nil {
			rec.logger.Warn("failed to persist utterance", slog.String("error", err.Error()))
		}
		rec.seq++
	}

	evt := eventFromNotification(n)
	payload, err := json.Marshal(evt)
	if err != nil {
		rec.logger.Warn("failed to encode event", slog.String("error", err.Error()))
		return
	}
	if err := rec.store.AppendEvent(ctx, eventstore.Event{
		InterviewID: rec.id,
		Type:        evt.Kind,
		Payload:     payload,
		CreatedAt:   n.At.UTC(),
	}); err != nil {
		rec.logger.Warn("failed to persist event", slog.String("error", err.Error()))
	}
	rec.publish(payload)
}

func (rec *recorder) publish(payload []byte) {
	if rec.bus == nil {
		return
	}
	if err := rec.bus.Publish(protocol.InterviewSubject(rec.id), payload); err != nil {
		rec.logger.Warn("failed to publish interview event", slog.String("error", err.Error()))
	}
}

func eventFromNotification(n coordinator.Notification) protocol.InterviewEvent {
	evt := protocol.InterviewEvent{
		SessionID: n.Session,
		Kind:      string(n.Kind),
		State:     n.State.String(),
		Error:     n.Err,
		Timestamp: n.At.UTC(),
	}
	if n.Kind == coordinator.StateChanged {
		evt.Previous = n.Previous.String()
	}
	if n.Utterance != nil {
		evt.Utterance = wireUtterance(*n.Utterance)
	}
	return evt
}

func wireUtterance(u transcript.Utterance) *protocol.Utterance {
	return &protocol.Utterance{
		Role:      transcript.Role(u.Speaker),
		Text:      u.Text,
		Start:     u.Start,
		End:       u.End,
		Synthetic: u.Synthetic,
	}
}
