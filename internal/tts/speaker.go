package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
)

// Player renders PCM and returns once it has been heard.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate, channels int) error
}

// Speaker synthesizes text and plays it to completion.
type Speaker struct {
	synth    Synthesizer
	player   Player
	voice    string
	language string
	log      *slog.Logger
}

func NewSpeaker(synth Synthesizer, player Player, cfg config.TTSConfig, log *slog.Logger) *Speaker {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Speaker{
		synth:    synth,
		player:   player,
		voice:    cfg.Voice,
		language: cfg.Language,
		log:      log.With(slog.String("component", "tts")),
	}
}

func (s *Speaker) Speak(ctx context.Context, text string) error {
	start := time.Now()
	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{Text: text, Voice: s.voice, Language: s.language})

	played := 0
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if len(chunk.PCM) == 0 {
				continue
			}
			if err := s.player.Play(ctx, chunk.PCM, chunk.SampleRate, chunk.Channels); err != nil {
				return fmt.Errorf("play audio: %w", err)
			}
			played += len(chunk.PCM)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return fmt.Errorf("synthesize speech: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.log.Debug("spoke segment",
		slog.Int("chars", len(text)),
		slog.Int("pcm_bytes", played),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
