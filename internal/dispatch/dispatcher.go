package dispatch

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/cyruss/internal/browser"
	"github.com/loqalabs/cyruss/internal/config"
	"github.com/loqalabs/cyruss/internal/journal"
	"github.com/loqalabs/cyruss/internal/protocol"
	"github.com/loqalabs/cyruss/internal/speech"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	ErrorReply = "Sorry, I encountered an error."
	EmptyReply = "I didn't get a response. Please try again."
)

// LanguageModel answers free-form questions.
type LanguageModel interface {
	GetResponse(ctx context.Context, prompt string) (string, error)
}

// Queue accepts text to be spoken.
type Queue interface {
	Enqueue(text string) bool
}

// Dispatcher routes one recognized command: a matching site is opened, anything else goes to
// the language model and the answer is queued for speech.
type Dispatcher struct {
	sites        []config.Site
	openPrefix   string
	maxChunkSize int
	chunkDelay   time.Duration

	model     LanguageModel
	queue     Queue
	opener    browser.Opener
	recorder  journal.Recorder
	log       *slog.Logger
	commands  metric.Int64Counter
	fallbacks map[string]struct{}
}

type Option func(*Dispatcher)

func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func WithRecorder(r journal.Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithFallbackReplies names replies the model returns in place of an answer, such as a fixed
// apology. They are still spoken but are counted and journaled as fallbacks.
func WithFallbackReplies(replies ...string) Option {
	return func(d *Dispatcher) {
		if d.fallbacks == nil {
			d.fallbacks = make(map[string]struct{}, len(replies))
		}
		for _, r := range replies {
			d.fallbacks[r] = struct{}{}
		}
	}
}

func New(cfg config.SpeechConfig, sites []config.Site, model LanguageModel, queue Queue, opener browser.Opener, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sites:        sites,
		openPrefix:   cfg.OpenPrefix,
		maxChunkSize: cfg.MaxChunkSize,
		chunkDelay:   time.Duration(cfg.ChunkDelayMS) * time.Millisecond,
		model:        model,
		queue:        queue,
		opener:       opener,
		recorder:     journal.Nop{},
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if d.maxChunkSize <= 0 {
		d.maxChunkSize = speech.DefaultMaxChunkSize
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(slog.String("component", "dispatcher"))

	counter, err := otel.Meter("github.com/loqalabs/cyruss/dispatch").Int64Counter("cyruss.dispatch.commands",
		metric.WithDescription("Commands dispatched by route"))
	if err != nil {
		d.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	d.commands = counter
	return d
}

// Dispatch handles command. Failures are spoken to the user, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, command string) {
	if strings.TrimSpace(command) == "" {
		return
	}
	d.recorder.Record(ctx, protocol.Event{Kind: protocol.KindCommand, Text: command})

	if site, ok := d.matchSite(command); ok {
		d.openSite(ctx, site)
		return
	}

	response, err := d.model.GetResponse(ctx, command)
	if err != nil {
		d.log.Error("language model failed", slog.String("error", err.Error()))
		d.count(ctx, "error")
		d.recorder.Record(ctx, protocol.Event{Kind: protocol.KindFallback, Text: ErrorReply, Error: err.Error()})
		d.queue.Enqueue(ErrorReply)
		return
	}
	if strings.TrimSpace(response) == "" {
		d.count(ctx, "fallback")
		d.recorder.Record(ctx, protocol.Event{Kind: protocol.KindFallback, Text: EmptyReply})
		d.queue.Enqueue(EmptyReply)
		return
	}

	cleaned := Clean(response)
	if _, ok := d.fallbacks[response]; ok {
		d.count(ctx, "fallback")
		d.recorder.Record(ctx, protocol.Event{Kind: protocol.KindFallback, Text: cleaned})
		d.speakChunks(ctx, cleaned)
		return
	}
	d.count(ctx, "llm")
	d.recorder.Record(ctx, protocol.Event{Kind: protocol.KindResponse, Text: cleaned})
	d.log.Info("response ready", slog.Int("length", len(cleaned)))
	d.speakChunks(ctx, cleaned)
}

// matchSite reports the first site whose trigger phrase occurs in command.
func (d *Dispatcher) matchSite(command string) (config.Site, bool) {
	for _, site := range d.sites {
		if strings.Contains(command, d.openPrefix+site.Name) {
			return site, true
		}
	}
	return config.Site{}, false
}

func (d *Dispatcher) openSite(ctx context.Context, site config.Site) {
	d.count(ctx, "site")
	d.queue.Enqueue("Opening " + site.Name)
	evt := protocol.Event{Kind: protocol.KindSiteOpened, Text: site.Name, URL: site.URL}
	if err := d.opener.Open(site.URL); err != nil {
		d.log.Warn("failed to open site", slog.String("site", site.Name), slog.String("error", err.Error()))
		evt.Error = err.Error()
	}
	d.recorder.Record(ctx, evt)
}

func (d *Dispatcher) speakChunks(ctx context.Context, text string) {
	chunks := speech.Chunk(text, d.maxChunkSize)
	for i, chunk := range chunks {
		if i > 0 && d.chunkDelay > 0 {
			timer := time.NewTimer(d.chunkDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		d.queue.Enqueue(chunk)
	}
}

func (d *Dispatcher) count(ctx context.Context, route string) {
	if d.commands == nil {
		return
	}
	d.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// Clean prepares model output for speech: markdown emphasis characters are dropped, then
// whitespace runs collapse to one space and the ends are trimmed.
func Clean(text string) string {
	text = strings.NewReplacer("*", "", "_", "").Replace(text)
	return strings.Join(strings.Fields(text), " ")
}
