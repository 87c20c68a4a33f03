package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/cyruss/internal/bus"
	"github.com/loqalabs/cyruss/internal/eventstore"
	"github.com/loqalabs/cyruss/internal/protocol"
)

// Recorder receives conversation events. Implementations must not block the caller for long
// and never fail the caller.
type Recorder interface {
	Record(ctx context.Context, evt protocol.Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, protocol.Event) {}

// Journal fans events out to the bus and the event store. Either may be nil.
type Journal struct {
	sessionID string
	bus       *bus.Client
	store     *eventstore.Store
	logger    *slog.Logger
	clock     func() time.Time
}

func New(sessionID string, busClient *bus.Client, store *eventstore.Store, logger *slog.Logger) *Journal {
	return &Journal{
		sessionID: sessionID,
		bus:       busClient,
		store:     store,
		logger:    logger.With(slog.String("component", "journal")),
		clock:     time.Now,
	}
}

// Start registers the session row for this process.
func (j *Journal) Start(ctx context.Context, actor string) error {
	if j.store == nil {
		return nil
	}
	return j.store.AppendSession(ctx, j.sessionID, actor, "session")
}

func (j *Journal) SessionID() string { return j.sessionID }

func (j *Journal) Record(ctx context.Context, evt protocol.Event) {
	if evt.SessionID == "" {
		evt.SessionID = j.sessionID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = j.clock().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		j.logger.Warn("failed to marshal event", slogError(err))
		return
	}

	if j.bus != nil {
		if err := j.bus.Publish(protocol.Subject(evt.Kind), data); err != nil {
			j.logger.Warn("failed to publish event", slog.String("kind", string(evt.Kind)), slogError(err))
		}
	}

	if j.store != nil {
		err := j.store.AppendEvent(ctx, eventstore.Event{
			SessionID: evt.SessionID,
			Type:      string(evt.Kind),
			Payload:   data,
			Privacy:   "session",
			CreatedAt: evt.Timestamp,
		})
		if err != nil {
			j.logger.Warn("failed to store event", slog.String("kind", string(evt.Kind)), slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
