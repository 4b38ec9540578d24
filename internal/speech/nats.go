package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interview/internal/bus"
	"github.com/loqalabs/loqa-interview/internal/notify"
	"github.com/loqalabs/loqa-interview/internal/protocol"
	"github.com/nats-io/nats.go"
)

// NATSAdapter forwards utterances to a remote synthesis engine and relays
// its playback status for one session.
type NATSAdapter struct {
	bus       *bus.Client
	sessionID string
	voice     string
	logger    *slog.Logger
	hub       notify.Hub[Event]

	mu    sync.Mutex
	unsub func()
}

func NewNATSAdapter(busClient *bus.Client, sessionID, voice string, logger *slog.Logger) *NATSAdapter {
	return &NATSAdapter{
		bus:       busClient,
		sessionID: sessionID,
		voice:     voice,
		logger:    logger.With(slog.String("component", "speech"), slog.String("session_id", sessionID)),
	}
}

func (a *NATSAdapter) Subscribe(fn func(Event)) func() {
	return a.hub.Subscribe(fn)
}

func (a *NATSAdapter) Speak(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := a.ensureSubscription(); err != nil {
		return "", err
	}
	req := protocol.SpeechRequest{
		SessionID: a.sessionID,
		RequestID: uuid.NewString(),
		Text:      text,
		Voice:     a.voice,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	if err := a.bus.Publish(protocol.SubjectSpeechRequest, data); err != nil {
		return "", fmt.Errorf("publish speech request: %w", err)
	}
	return req.RequestID, nil
}

func (a *NATSAdapter) Stop() error {
	data, err := json.Marshal(protocol.SpeechControl{
		SessionID: a.sessionID,
		Action:    protocol.ActionStop,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return a.bus.Publish(protocol.SubjectSpeechControl, data)
}

// Close detaches from the bus.
func (a *NATSAdapter) Close() {
	a.mu.Lock()
	unsub := a.unsub
	a.unsub = nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (a *NATSAdapter) ensureSubscription() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsub != nil {
		return nil
	}
	unsub, err := a.bus.Subscribe(protocol.SubjectSpeechStatus, a.handleStatus)
	if err != nil {
		return err
	}
	a.unsub = unsub
	return a.bus.Flush()
}

func (a *NATSAdapter) handleStatus(msg *nats.Msg) {
	var status protocol.SpeechStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		a.logger.Warn("failed to decode speech status", slog.String("error", err.Error()))
		return
	}
	if status.SessionID != a.sessionID {
		return
	}
	var kind EventKind
	switch status.Status {
	case protocol.SpeechStarted:
		kind = Started
	case protocol.SpeechFinished:
		kind = Finished
	case protocol.SpeechCancelled:
		kind = Cancelled
	case protocol.SpeechFailed:
		kind = Failed
	default:
		a.logger.Debug("ignoring unknown speech status", slog.String("status", status.Status))
		return
	}
	a.hub.Publish(Event{Kind: kind, RequestID: status.RequestID, Message: status.Message, At: status.Timestamp})
}
