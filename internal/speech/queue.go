package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/cyruss/internal/journal"
	"github.com/loqalabs/cyruss/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Vocalizer turns one text segment into audible speech and returns once playback finished.
type Vocalizer interface {
	Speak(ctx context.Context, text string) error
}

// VocalizerFunc adapts a function to Vocalizer.
type VocalizerFunc func(ctx context.Context, text string) error

func (f VocalizerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// State is the worker lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type item struct {
	text     string
	sentinel bool
}

// Queue is an unbounded FIFO of speech segments consumed by a single worker goroutine.
// Producers never block. Shutdown drains every accepted segment before the worker exits.
type Queue struct {
	vocalizer Vocalizer
	log       *slog.Logger
	recorder  journal.Recorder
	meter     metric.Meter

	mu        sync.Mutex
	cond      *sync.Cond
	items     []item
	accepting bool
	started   bool

	state    atomic.Int32
	done     chan struct{}
	stopOnce sync.Once

	segments     metric.Int64Counter
	registration metric.Registration
}

type Option func(*Queue)

func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) {
		if log != nil {
			q.log = log
		}
	}
}

func WithRecorder(r journal.Recorder) Option {
	return func(q *Queue) {
		if r != nil {
			q.recorder = r
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(q *Queue) { q.meter = m }
}

func NewQueue(v Vocalizer, opts ...Option) *Queue {
	q := &Queue{
		vocalizer: v,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder:  journal.Nop{},
		meter:     otel.Meter("github.com/loqalabs/cyruss/speech"),
		accepting: true,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With(slog.String("component", "speech-queue"))
	q.cond = sync.NewCond(&q.mu)
	if err := q.initMetrics(); err != nil {
		q.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return q
}

func (q *Queue) initMetrics() error {
	if q.meter == nil {
		return nil
	}
	segments, err := q.meter.Int64Counter("cyruss.speech.segments", metric.WithDescription("Speech segments processed by outcome"))
	if err != nil {
		return err
	}
	q.segments = segments
	depth, err := q.meter.Int64ObservableGauge("cyruss.speech.queue_depth", metric.WithDescription("Segments waiting to be spoken"))
	if err != nil {
		return err
	}
	q.registration, err = q.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(depth, int64(q.Len()))
		return nil
	}, depth)
	return err
}

// Start launches the worker. Calling it again, or after Shutdown, does nothing.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || !q.accepting {
		return
	}
	q.started = true
	q.state.Store(int32(StateRunning))
	go q.run()
}

// Enqueue appends text at the tail. Blank text and text offered after Shutdown are rejected.
func (q *Queue) Enqueue(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.accepting {
		return false
	}
	q.items = append(q.items, item{text: text})
	q.cond.Signal()
	return true
}

// Len reports the number of segments waiting to be spoken.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if !it.sentinel {
			n++
		}
	}
	return n
}

func (q *Queue) State() State {
	return State(q.state.Load())
}

// Done is closed once the worker has stopped.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Shutdown stops accepting segments, lets the worker speak everything already queued and
// waits for it to exit. It is safe to call more than once and before Start.
func (q *Queue) Shutdown() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.accepting = false
		started := q.started
		q.items = append(q.items, item{sentinel: true})
		q.cond.Signal()
		q.mu.Unlock()

		if !started {
			q.state.Store(int32(StateStopped))
			close(q.done)
		}
		if q.registration != nil {
			if err := q.registration.Unregister(); err != nil {
				q.log.Debug("failed to unregister metrics callback", slog.String("error", err.Error()))
			}
		}
	})
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	ctx := context.Background()
	for {
		it := q.next()
		if it.sentinel {
			q.state.Store(int32(StateDraining))
			q.log.Debug("speech worker stopping")
			q.state.Store(int32(StateStopped))
			return
		}
		q.speak(ctx, it.text)
	}
}

func (q *Queue) next() item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	it := q.items[0]
	q.items[0] = item{}
	q.items = q.items[1:]
	return it
}

func (q *Queue) speak(ctx context.Context, text string) {
	err := q.vocalize(ctx, text)
	if err != nil {
		q.log.Error("failed to speak segment", slog.Int("length", len(text)), slog.String("error", err.Error()))
		q.count(ctx, "failed")
		q.recorder.Record(ctx, protocol.Event{Kind: protocol.KindSegmentFailed, Text: text, Error: err.Error()})
		return
	}
	q.count(ctx, "spoken")
	q.recorder.Record(ctx, protocol.Event{Kind: protocol.KindSegmentSpoken, Text: text})
}

func (q *Queue) vocalize(ctx context.Context, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vocalizer panic: %v", r)
		}
	}()
	if q.vocalizer == nil {
		return fmt.Errorf("no vocalizer configured")
	}
	return q.vocalizer.Speak(ctx, text)
}

func (q *Queue) count(ctx context.Context, outcome string) {
	if q.segments == nil {
		return
	}
	q.segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
