package assistant

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
)

// Listener captures one spoken command; "" means nothing usable was heard.
type Listener interface {
	Listen(ctx context.Context) string
}

// Dispatcher handles one command.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string)
}

// SpeechQueue is the speech worker's lifecycle as seen by the main loop.
type SpeechQueue interface {
	Start()
	Enqueue(text string) bool
	Shutdown()
}

// Assistant runs the listen, dispatch, speak loop.
type Assistant struct {
	listener   Listener
	dispatcher Dispatcher
	queue      SpeechQueue
	greeting   string
	loopDelay  time.Duration
	log        *slog.Logger
}

func New(cfg config.AssistantConfig, listener Listener, dispatcher Dispatcher, queue SpeechQueue, log *slog.Logger) *Assistant {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assistant{
		listener:   listener,
		dispatcher: dispatcher,
		queue:      queue,
		greeting:   cfg.Greeting,
		loopDelay:  time.Duration(cfg.LoopDelayMS) * time.Millisecond,
		log:        log.With(slog.String("component", "assistant")),
	}
}

// Run greets the user and serves commands until ctx is cancelled, then drains the speech queue.
func (a *Assistant) Run(ctx context.Context) error {
	a.queue.Start()
	defer func() {
		a.log.Info("shutting down")
		a.queue.Shutdown()
		a.log.Info("stopped")
	}()

	a.log.Info("starting")
	a.queue.Enqueue(a.greeting)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if command := a.listener.Listen(ctx); command != "" {
			a.dispatcher.Dispatch(ctx, command)
		}

		timer := time.NewTimer(a.loopDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
