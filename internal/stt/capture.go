package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// ErrNoSpeech is returned when nothing crossed the energy threshold before the listen timeout.
var ErrNoSpeech = errors.New("no speech detected")

// FrameSource yields interleaved 16-bit samples from an input device.
type FrameSource interface {
	ReadFrame(ctx context.Context) ([]int16, error)
	SampleRate() int
	Channels() int
	Close() error
}

// PhraseConfig controls energy-based endpointing.
type PhraseConfig struct {
	EnergyThreshold int
	Pause           time.Duration
	ListenTimeout   time.Duration
	PhraseLimit     time.Duration
}

// RecordPhrase waits for speech, then records until a pause or the phrase limit. Durations are
// measured in audio time so the result does not depend on scheduling.
func RecordPhrase(ctx context.Context, src FrameSource, cfg PhraseConfig) ([]byte, error) {
	rate := src.SampleRate() * src.Channels()
	if rate <= 0 {
		return nil, errors.New("invalid source format")
	}

	var (
		samples []int16
		started bool
		waited  time.Duration
		silence time.Duration
		phrase  time.Duration
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			return nil, err
		}
		if len(frame) == 0 {
			continue
		}
		d := time.Duration(len(frame)) * time.Second / time.Duration(rate)
		loud := rms(frame) >= float64(cfg.EnergyThreshold)

		if !started {
			if !loud {
				waited += d
				if cfg.ListenTimeout > 0 && waited >= cfg.ListenTimeout {
					return nil, ErrNoSpeech
				}
				continue
			}
			started = true
		}

		samples = append(samples, frame...)
		phrase += d
		if loud {
			silence = 0
		} else {
			silence += d
		}
		if (cfg.Pause > 0 && silence >= cfg.Pause) || (cfg.PhraseLimit > 0 && phrase >= cfg.PhraseLimit) {
			break
		}
	}
	return samplesToPCM(samples), nil
}

func rms(frame []int16) float64 {
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func samplesToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
