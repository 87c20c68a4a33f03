package playback

import (
	"context"
	"testing"
)

func TestPlayRejectsFormatMismatch(t *testing.T) {
	p := New(22050, 1)
	if err := p.Play(context.Background(), []byte{0, 0}, 44100, 1); err == nil {
		t.Fatal("expected format mismatch error")
	}
	if err := p.Play(context.Background(), []byte{0, 0}, 22050, 2); err == nil {
		t.Fatal("expected channel mismatch error")
	}
}

func TestPlayEmptyIsNoop(t *testing.T) {
	p := New(22050, 1)
	if err := p.Play(context.Background(), nil, 22050, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ctx != nil {
		t.Fatal("audio device should not be opened for empty input")
	}
}
