package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/cyruss/internal/config"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. pcm is signed 16-bit little-endian.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
}

// NewRecognizer selects the backend named by cfg.Mode.
func NewRecognizer(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "whisper":
		return NewWhisperRecognizer(cfg.WhisperAPIKey, cfg.WhisperEndpoint, cfg.Language, nil), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "mock":
		return NewMockRecognizer(""), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
