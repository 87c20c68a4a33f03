package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/cyruss/internal/bus"
	"github.com/loqalabs/cyruss/internal/config"
	"github.com/loqalabs/cyruss/internal/eventstore"
	"github.com/loqalabs/cyruss/internal/journal"
	"github.com/loqalabs/cyruss/internal/natsserver"
)

// Runtime owns the process-wide infrastructure shared by both binaries: telemetry, the
// optional NATS bus, the event store and the conversation journal.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	telemetryClose func(context.Context) error
	metrics        http.Handler
	nats           *natsserver.EmbeddedServer
	bus            *bus.Client
	store          *eventstore.Store
	journal        *journal.Journal
	ready          atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Open brings up telemetry and the journal backends. actor names the binary in the session row.
func (r *Runtime) Open(ctx context.Context, actor string) error {
	shutdownTelemetry, metrics, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry
	r.metrics = metrics

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			srv, err := natsserver.Start(busCfg, r.logger)
			if err != nil {
				r.Close(ctx)
				return fmt.Errorf("failed to start embedded NATS: %w", err)
			}
			r.nats = srv
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName+"-"+actor, r.logger)
		if err != nil {
			r.Close(ctx)
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.bus = client
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		r.Close(ctx)
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	r.journal = journal.New(uuid.NewString(), r.bus, r.store, r.logger)
	if err := r.journal.Start(ctx, actor); err != nil {
		r.logger.Warn("failed to record session", slog.String("error", err.Error()))
	}
	r.logger.Info("runtime opened",
		slog.String("session_id", r.journal.SessionID()),
		slog.Bool("bus", r.bus != nil),
		slog.String("event_store", r.cfg.EventStore.RetentionMode))
	return nil
}

func (r *Runtime) Journal() *journal.Journal { return r.journal }

func (r *Runtime) Store() *eventstore.Store { return r.store }

func (r *Runtime) SetReady(ready bool) { r.ready.Store(ready) }

// OpsHandler serves /healthz, /readyz and /metrics.
func (r *Runtime) OpsHandler() http.Handler {
	mux := http.NewServeMux()
	r.MountOps(mux)
	return mux
}

// MountOps registers the operational endpoints on mux.
func (r *Runtime) MountOps(mux interface {
	Handle(pattern string, h http.Handler)
}) {
	mux.Handle("GET /healthz", http.HandlerFunc(r.handleHealth))
	mux.Handle("GET /readyz", http.HandlerFunc(r.handleReady))
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it down gracefully.
func (r *Runtime) Serve(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return r.serve(ctx, ln, handler)
}

func (r *Runtime) serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Close releases everything Open acquired, in reverse order.
func (r *Runtime) Close(ctx context.Context) {
	r.ready.Store(false)
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	if r.nats != nil {
		r.nats.Shutdown()
		r.nats = nil
	}
	if r.telemetryClose != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
		r.telemetryClose = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
