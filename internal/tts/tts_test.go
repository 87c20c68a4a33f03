package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

type recordingPlayer struct {
	mu     sync.Mutex
	played [][]byte
	err    error
}

func (p *recordingPlayer) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.played = append(p.played, pcm)
	return nil
}

func TestGTTSPipeline(t *testing.T) {
	// Both stages pass stdin through, so the PCM equals the input text.
	gtts := writeScript(t, "gtts-cli", "cat")
	ffmpeg := writeScript(t, "ffmpeg", "cat")
	synth := NewGTTSSynth(gtts, ffmpeg, 22050, 1, 5*time.Second)

	player := &recordingPlayer{}
	speaker := NewSpeaker(synth, player, config.TTSConfig{Language: "en"}, nil)
	if err := speaker.Speak(context.Background(), "-hello there"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if len(player.played) != 1 || string(player.played[0]) != "-hello there" {
		t.Fatalf("unexpected playback %q", player.played)
	}
}

func TestGTTSFailure(t *testing.T) {
	gtts := writeScript(t, "gtts-cli", "echo 'network unreachable' >&2; exit 1")
	synth := NewGTTSSynth(gtts, "ffmpeg", 22050, 1, time.Second)
	speaker := NewSpeaker(synth, &recordingPlayer{}, config.TTSConfig{}, nil)
	if err := speaker.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("expected gtts failure to surface")
	}
}

func TestExecSynth(t *testing.T) {
	// "aGk=" is base64 for "hi".
	script := writeScript(t, "synth", `cat >/dev/null; echo '{"pcm_base64":"aGk=","final":false}'; echo '{"pcm_base64":"aGk=","final":true}'`)
	synth, err := NewExecSynth(script, 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	player := &recordingPlayer{}
	if err := NewSpeaker(synth, player, config.TTSConfig{}, nil).Speak(context.Background(), "hi"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if len(player.played) != 2 || string(player.played[1]) != "hi" {
		t.Fatalf("unexpected playback %q", player.played)
	}
}

func TestSpeakerSurfacesPlayerError(t *testing.T) {
	player := &recordingPlayer{err: errors.New("device busy")}
	speaker := NewSpeaker(NewMockSynth(16000, 1), player, config.TTSConfig{}, nil)
	if err := speaker.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("expected player error")
	}
}

func TestSpeakerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	speaker := NewSpeaker(NewMockSynth(16000, 1), &recordingPlayer{}, config.TTSConfig{}, nil)
	if err := speaker.Speak(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewSelectsSynth(t *testing.T) {
	cfg := config.Default().TTS
	for _, mode := range []string{"gtts", "mock"} {
		cfg.Mode = mode
		if _, err := New(cfg); err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
	}
	cfg.Mode = "exec"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for exec without command")
	}
}
