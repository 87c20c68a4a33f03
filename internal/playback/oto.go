package playback

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Player plays signed 16-bit PCM through the default audio device. The device is opened on the
// first Play call; oto allows one context per process, so the format is fixed at construction.
type Player struct {
	sampleRate int
	channels   int

	once    sync.Once
	ctx     *oto.Context
	initErr error
	mu      sync.Mutex
}

func New(sampleRate, channels int) *Player {
	return &Player{sampleRate: sampleRate, channels: channels}
}

func (p *Player) open() error {
	p.once.Do(func() {
		octx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   p.sampleRate,
			ChannelCount: p.channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			p.initErr = fmt.Errorf("open audio device: %w", err)
			return
		}
		<-ready
		p.ctx = octx
	})
	return p.initErr
}

// Play blocks until pcm has been played or ctx is cancelled.
func (p *Player) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	if sampleRate != p.sampleRate || channels != p.channels {
		return fmt.Errorf("audio format %dHz/%dch does not match device %dHz/%dch",
			sampleRate, channels, p.sampleRate, p.channels)
	}
	if len(pcm) == 0 {
		return nil
	}
	if err := p.open(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Err()
}
