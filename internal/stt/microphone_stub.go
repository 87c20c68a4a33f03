//go:build !portaudio

package stt

import (
	"context"
	"errors"
)

var errNoMicrophone = errors.New("microphone capture not available: rebuild with -tags portaudio")

// Microphone is unavailable in builds without the portaudio tag.
type Microphone struct{}

func OpenMicrophone(sampleRate, channels int) (*Microphone, error) {
	return nil, errNoMicrophone
}

func (m *Microphone) ReadFrame(context.Context) ([]int16, error) { return nil, errNoMicrophone }
func (m *Microphone) SampleRate() int                            { return 0 }
func (m *Microphone) Channels() int                              { return 0 }
func (m *Microphone) Close() error                               { return nil }
