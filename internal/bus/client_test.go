package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startServer(t *testing.T) *natsserver.EmbeddedServer {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestConnectAndEnsureStream(t *testing.T) {
	srv := startServer(t)
	client, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}
	if err := client.EnsureStream("TEST_EVENTS", []string{"test.events.>"}, time.Hour); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	// second call updates in place
	if err := client.EnsureStream("TEST_EVENTS", []string{"test.events.>"}, 2*time.Hour); err != nil {
		t.Fatalf("ensure stream again: %v", err)
	}
	if err := client.Publish("test.events.abc", []byte("hello")); err != nil {
		t.Fatalf("publish to stream: %v", err)
	}
	info, err := client.JetStream().StreamInfo("TEST_EVENTS")
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Fatalf("expected 1 retained message, got %d", info.State.Msgs)
	}
}

func TestPublishOutsideStreamUsesCore(t *testing.T) {
	srv := startServer(t)
	client, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	got := make(chan string, 1)
	unsubscribe, err := client.Subscribe("speech.control", func(msg *nats.Msg) {
		got <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if client.streamed("speech.control") {
		t.Fatal("subject should not be streamed")
	}
	if err := client.Publish("speech.control", []byte("stop")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "stop" {
			t.Fatalf("unexpected payload %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	unsubscribe()
	if err := client.Publish("speech.control", []byte("again")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_ = client.Flush()
	select {
	case msg := <-got:
		t.Fatalf("unexpected delivery after unsubscribe: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
