package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text     string
	Voice    string
	Language string
}

// SynthChunk carries signed 16-bit little-endian PCM.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// New selects the synthesizer named by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "gtts":
		return NewGTTSSynth(cfg.GTTSBinary, cfg.FFmpegBinary, cfg.SampleRate, cfg.Channels, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
