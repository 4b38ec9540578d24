package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interview/internal/bus"
	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/natsserver"
	"github.com/loqalabs/loqa-interview/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestManualStartStopAndEmit(t *testing.T) {
	m := NewManual()
	var got []Event
	unsub := m.Subscribe(func(e Event) { got = append(got, e) })

	if err := m.Start(context.Background(), "it-IT"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.Listening() || m.Locale() != "it-IT" {
		t.Fatal("expected listening with locale")
	}
	m.Emit(Event{Kind: Partial, Text: "ciao"})
	unsub()
	m.Emit(Event{Kind: Final, Text: "ciao a tutti"})

	if len(got) != 1 || got[0].Text != "ciao" {
		t.Fatalf("unexpected events %+v", got)
	}
	_ = m.Stop()
	_ = m.Stop()
	if m.Stops() != 1 {
		t.Fatalf("expected one effective stop, got %d", m.Stops())
	}
}

func TestManualFailNextStart(t *testing.T) {
	m := NewManual()
	boom := errors.New("microphone busy")
	m.FailNextStart(boom)
	if err := m.Start(context.Background(), "it-IT"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := m.Start(context.Background(), "it-IT"); err != nil {
		t.Fatalf("second start should succeed: %v", err)
	}
	if m.Starts() != 2 {
		t.Fatalf("expected 2 starts, got %d", m.Starts())
	}
}

func TestNoSpeech(t *testing.T) {
	if !(Event{Kind: Error, Code: CodeNoSpeech}).NoSpeech() {
		t.Fatal("expected no-speech classification")
	}
	if (Event{Kind: Error, Code: CodeEngine}).NoSpeech() {
		t.Fatal("engine error is not no-speech")
	}
}

func TestNATSAdapterRelaysSessionEvents(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	controls := make(chan protocol.CaptureControl, 4)
	unsubCtrl, err := client.Subscribe(protocol.SubjectCaptureControl, func(msg *nats.Msg) {
		var c protocol.CaptureControl
		if err := json.Unmarshal(msg.Data, &c); err == nil {
			controls <- c
		}
	})
	if err != nil {
		t.Fatalf("subscribe control: %v", err)
	}
	t.Cleanup(unsubCtrl)

	adapter := NewNATSAdapter(client, "session-1", newLogger())
	t.Cleanup(adapter.Close)
	events := make(chan Event, 8)
	adapter.Subscribe(func(e Event) { events <- e })

	if err := adapter.Start(context.Background(), "it-IT"); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case c := <-controls:
		if c.Action != protocol.ActionStart || c.Locale != "it-IT" || c.SessionID != "session-1" {
			t.Fatalf("unexpected control %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no start control published")
	}

	at := time.Date(2025, 3, 1, 10, 0, 11, 200_000_000, time.UTC)
	publish := func(subject string, v any) {
		data, _ := json.Marshal(v)
		if err := client.Publish(subject, data); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	publish(protocol.SubjectTranscriptPartial, protocol.Transcript{SessionID: "other", Text: "ignored", Partial: true, Timestamp: at})
	publish(protocol.SubjectTranscriptPartial, protocol.Transcript{SessionID: "session-1", Text: "buon", Partial: true, Timestamp: at})
	publish(protocol.SubjectTranscriptFinal, protocol.Transcript{SessionID: "session-1", Text: "buongiorno", Timestamp: at.Add(time.Second)})
	publish(protocol.SubjectCaptureError, protocol.CaptureError{SessionID: "session-1", Code: CodeNoSpeech, Timestamp: at})

	want := []EventKind{Partial, Final, Error}
	for i, kind := range want {
		select {
		case e := <-events:
			if e.Kind != kind {
				t.Fatalf("event %d: expected %v, got %v", i, kind, e.Kind)
			}
			if kind == Partial && (!e.At.Equal(at) || e.Text != "buon") {
				t.Fatalf("unexpected partial %+v", e)
			}
			if kind == Error && !e.NoSpeech() {
				t.Fatalf("expected no-speech error, got %+v", e)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %v", kind)
		}
	}

	if err := adapter.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case c := <-controls:
		if c.Action != protocol.ActionStop {
			t.Fatalf("expected stop control, got %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stop control published")
	}
}

func TestNATSAdapterKeepsEngineOrder(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	adapter := NewNATSAdapter(client, "session-1", newLogger())
	t.Cleanup(adapter.Close)
	const pairs = 200
	events := make(chan Event, 2*pairs+1)
	adapter.Subscribe(func(e Event) { events <- e })
	if err := adapter.Start(context.Background(), "it-IT"); err != nil {
		t.Fatalf("start: %v", err)
	}

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := range pairs {
		partial, _ := json.Marshal(protocol.Transcript{SessionID: "session-1", Text: "parola", Partial: true, Timestamp: at})
		final, _ := json.Marshal(protocol.Transcript{SessionID: "session-1", Text: "parola", Timestamp: at.Add(time.Duration(i) * time.Millisecond)})
		if err := client.Publish(protocol.SubjectTranscriptPartial, partial); err != nil {
			t.Fatalf("publish partial: %v", err)
		}
		if err := client.Publish(protocol.SubjectTranscriptFinal, final); err != nil {
			t.Fatalf("publish final: %v", err)
		}
	}
	noSpeech, _ := json.Marshal(protocol.CaptureError{SessionID: "session-1", Code: CodeNoSpeech, Timestamp: at})
	if err := client.Publish(protocol.SubjectCaptureError, noSpeech); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	for i := range 2*pairs + 1 {
		want := Partial
		switch {
		case i == 2*pairs:
			want = Error
		case i%2 == 1:
			want = Final
		}
		select {
		case e := <-events:
			if e.Kind != want {
				t.Fatalf("event %d: expected %v, got %v", i, want, e.Kind)
			}
			if want == Final && !e.At.Equal(at.Add(time.Duration(i/2)*time.Millisecond)) {
				t.Fatalf("event %d: final out of order, at %v", i, e.At)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}
