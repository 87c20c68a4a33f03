package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/cyruss/internal/config"
)

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv != nil {
		t.Fatal("expected nil server when embedded mode is off")
	}
	srv.Shutdown()
	if srv.ClientURL() != "" {
		t.Fatal("expected empty url for nil server")
	}
}

func TestStartEmbedded(t *testing.T) {
	cfg := config.BusConfig{Embedded: true, Port: -1}
	srv, err := Start(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	if srv.ClientURL() == "" {
		t.Fatal("expected client url")
	}
	if srv.ns.JetStreamEnabled() {
		t.Fatal("expected JetStream to stay off")
	}
}
