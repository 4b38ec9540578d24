package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interview/internal/bus"
	"github.com/loqalabs/loqa-interview/internal/notify"
	"github.com/loqalabs/loqa-interview/internal/protocol"
	"github.com/nats-io/nats.go"
)

// NATSAdapter drives a remote recognition engine over the bus. Results for
// other sessions are ignored.
type NATSAdapter struct {
	bus       *bus.Client
	sessionID string
	logger    *slog.Logger
	hub       notify.Hub[Event]

	mu    sync.Mutex
	unsub func()
}

func NewNATSAdapter(busClient *bus.Client, sessionID string, logger *slog.Logger) *NATSAdapter {
	return &NATSAdapter{
		bus:       busClient,
		sessionID: sessionID,
		logger:    logger.With(slog.String("component", "capture"), slog.String("session_id", sessionID)),
	}
}

func (a *NATSAdapter) Subscribe(fn func(Event)) func() {
	return a.hub.Subscribe(fn)
}

func (a *NATSAdapter) Start(ctx context.Context, locale string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.ensureSubscriptions(); err != nil {
		return err
	}
	return a.publishControl(protocol.ActionStart, locale)
}

func (a *NATSAdapter) Stop() error {
	return a.publishControl(protocol.ActionStop, "")
}

// Close detaches from the bus. Subsequent engine results are dropped.
func (a *NATSAdapter) Close() {
	a.mu.Lock()
	unsub := a.unsub
	a.unsub = nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// ensureSubscriptions attaches one wildcard subscription for every engine
// subject. A single subscription keeps the engine's publish order, so a
// partial is never overtaken by its final or by a later error.
func (a *NATSAdapter) ensureSubscriptions() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsub != nil {
		return nil
	}
	unsub, err := a.bus.Subscribe(protocol.SubjectCaptureAll, a.dispatch)
	if err != nil {
		return err
	}
	a.unsub = unsub
	return a.bus.Flush()
}

func (a *NATSAdapter) dispatch(msg *nats.Msg) {
	switch msg.Subject {
	case protocol.SubjectTranscriptPartial, protocol.SubjectTranscriptFinal:
		a.handleTranscript(msg)
	case protocol.SubjectCaptureError:
		a.handleError(msg)
	}
}

func (a *NATSAdapter) publishControl(action, locale string) error {
	data, err := json.Marshal(protocol.CaptureControl{
		SessionID: a.sessionID,
		Action:    action,
		Locale:    locale,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := a.bus.Publish(protocol.SubjectCaptureControl, data); err != nil {
		return fmt.Errorf("publish capture %s: %w", action, err)
	}
	return nil
}

func (a *NATSAdapter) handleTranscript(msg *nats.Msg) {
	var t protocol.Transcript
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		a.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	if t.SessionID != a.sessionID {
		return
	}
	kind := Final
	if t.Partial || msg.Subject == protocol.SubjectTranscriptPartial {
		kind = Partial
	}
	a.hub.Publish(Event{Kind: kind, Text: t.Text, At: t.Timestamp})
}

func (a *NATSAdapter) handleError(msg *nats.Msg) {
	var e protocol.CaptureError
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		a.logger.Warn("failed to decode capture error", slogError(err))
		return
	}
	if e.SessionID != a.sessionID {
		return
	}
	a.hub.Publish(Event{Kind: Error, Code: e.Code, Message: e.Message, At: e.Timestamp})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
