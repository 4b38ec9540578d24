package natsserver

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/nats-io/nats.go"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartDisabled(t *testing.T) {
	for _, cfg := range []config.BusConfig{
		{Enabled: false, Embedded: true},
		{Enabled: true, Embedded: false},
	} {
		srv, err := Start(cfg, discard())
		if err != nil || srv != nil {
			t.Fatalf("expected no server for %+v, got %v %v", cfg, srv, err)
		}
		// nil receiver is safe
		if srv.ClientURL() != "" {
			t.Fatal("expected empty url")
		}
		srv.Shutdown()
	}
}

func TestStartWithToken(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "js")
	srv, err := Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: dir, Token: "s3cret"}, discard())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	if _, err := nats.Connect(srv.ClientURL()); err == nil {
		t.Fatal("expected anonymous connection to be rejected")
	}
	nc, err := nats.Connect(srv.ClientURL(), nats.Token("s3cret"))
	if err != nil {
		t.Fatalf("connect with token: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	if _, err := js.AccountInfo(); err != nil {
		t.Fatalf("jetstream unavailable: %v", err)
	}
}
