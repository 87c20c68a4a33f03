//go:build portaudio

package stt

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

// Microphone reads from the default input device through PortAudio.
type Microphone struct {
	stream     *portaudio.Stream
	buffer     []int16
	sampleRate int
	channels   int
}

func OpenMicrophone(sampleRate, channels int) (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	buffer := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &Microphone{stream: stream, buffer: buffer, sampleRate: sampleRate, channels: channels}, nil
}

func (m *Microphone) ReadFrame(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.stream.Read(); err != nil {
		// Overflows only mean we lost some samples.
		if err != portaudio.InputOverflowed {
			return nil, fmt.Errorf("read input stream: %w", err)
		}
	}
	return append([]int16(nil), m.buffer...), nil
}

func (m *Microphone) SampleRate() int { return m.sampleRate }
func (m *Microphone) Channels() int   { return m.channels }

func (m *Microphone) Close() error {
	if m.stream != nil {
		m.stream.Stop()
		m.stream.Close()
	}
	return portaudio.Terminate()
}
