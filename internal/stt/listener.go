package stt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
)

// Listener captures one utterance. It never fails: silence, timeouts, unintelligible audio and
// backend errors all come back as "".
type Listener interface {
	Listen(ctx context.Context) string
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// VoiceListener records a phrase from a FrameSource and transcribes it.
type VoiceListener struct {
	src    FrameSource
	rec    Recognizer
	phrase PhraseConfig
	log    *slog.Logger
}

func NewVoiceListener(src FrameSource, rec Recognizer, phrase PhraseConfig, log *slog.Logger) *VoiceListener {
	return &VoiceListener{src: src, rec: rec, phrase: phrase, log: log.With(slog.String("component", "listener"))}
}

func (l *VoiceListener) Listen(ctx context.Context) string {
	l.log.Info("listening")
	pcm, err := RecordPhrase(ctx, l.src, l.phrase)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoSpeech):
			l.log.Debug("no speech detected")
		case ctx.Err() != nil:
		default:
			l.log.Warn("audio capture failed", slog.String("error", err.Error()))
		}
		return ""
	}

	result, err := l.rec.Transcribe(ctx, pcm, l.src.SampleRate(), l.src.Channels(), true)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warn("speech recognition failed", slog.String("error", err.Error()))
		}
		return ""
	}
	text := normalize(result.Text)
	if text == "" {
		l.log.Debug("could not understand audio")
		return ""
	}
	l.log.Info("heard command", slog.String("text", text))
	return text
}

// TextListener reads one command per line, for terminals without a microphone. Like the
// microphone, it gives up after the listen timeout and reports "".
type TextListener struct {
	lines    chan string
	eof      chan struct{}
	prompt   io.Writer
	timeout  time.Duration
	prompted bool
	log      *slog.Logger
}

// NewTextListener reads commands from r. A timeout <= 0 waits indefinitely.
func NewTextListener(r io.Reader, prompt io.Writer, timeout time.Duration, log *slog.Logger) *TextListener {
	l := &TextListener{
		lines:   make(chan string),
		eof:     make(chan struct{}),
		prompt:  prompt,
		timeout: timeout,
		log:     log.With(slog.String("component", "listener")),
	}
	go l.scan(r)
	return l
}

// EOF is closed once the input has been fully consumed.
func (l *TextListener) EOF() <-chan struct{} {
	return l.eof
}

func (l *TextListener) scan(r io.Reader) {
	defer close(l.eof)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		l.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		l.log.Warn("input read failed", slog.String("error", err.Error()))
	}
}

func (l *TextListener) Listen(ctx context.Context) string {
	// The prompt is shown once per command, not once per timed-out attempt.
	if l.prompt != nil && !l.prompted {
		fmt.Fprint(l.prompt, "> ")
		l.prompted = true
	}

	var expired <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		return ""
	case <-expired:
		l.log.Debug("no input before listen timeout")
		return ""
	case <-l.eof:
		select {
		case <-ctx.Done():
		case <-expired:
		}
		return ""
	case line := <-l.lines:
		l.prompted = false
		return normalize(line)
	}
}

// NewListener builds the listener selected by cfg.Source. The returned close function releases
// the capture device.
func NewListener(cfg config.STTConfig, stdin io.Reader, stdout io.Writer, log *slog.Logger) (Listener, func() error, error) {
	switch cfg.Source {
	case "stdin":
		timeout := time.Duration(cfg.ListenTimeoutMS) * time.Millisecond
		return NewTextListener(stdin, stdout, timeout, log), func() error { return nil }, nil
	case "microphone":
		rec, err := NewRecognizer(cfg)
		if err != nil {
			return nil, nil, err
		}
		mic, err := OpenMicrophone(cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, nil, err
		}
		phrase := PhraseConfig{
			EnergyThreshold: cfg.EnergyThreshold,
			Pause:           time.Duration(cfg.PauseMS) * time.Millisecond,
			ListenTimeout:   time.Duration(cfg.ListenTimeoutMS) * time.Millisecond,
			PhraseLimit:     time.Duration(cfg.PhraseLimitMS) * time.Millisecond,
		}
		return NewVoiceListener(mic, rec, phrase, log), mic.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown stt source %q", cfg.Source)
	}
}
