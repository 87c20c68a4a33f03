package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
	"github.com/loqalabs/cyruss/internal/retry"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource plays back a fixed list of frames: 100 samples each at 1kHz mono, so 100ms per frame.
type fakeSource struct {
	frames [][]int16
	err    error
}

func (f *fakeSource) ReadFrame(ctx context.Context) ([]int16, error) {
	if len(f.frames) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		return make([]int16, 100), nil
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, nil
}

func (f *fakeSource) SampleRate() int { return 1000 }
func (f *fakeSource) Channels() int   { return 1 }
func (f *fakeSource) Close() error    { return nil }

func frame(level int16) []int16 {
	out := make([]int16, 100)
	for i := range out {
		out[i] = level
	}
	return out
}

func testPhrase() PhraseConfig {
	return PhraseConfig{
		EnergyThreshold: 1000,
		Pause:           200 * time.Millisecond,
		ListenTimeout:   500 * time.Millisecond,
		PhraseLimit:     time.Second,
	}
}

func TestRecordPhraseStopsOnPause(t *testing.T) {
	src := &fakeSource{frames: [][]int16{frame(0), frame(5000), frame(5000), frame(0), frame(0), frame(5000)}}
	pcm, err := RecordPhrase(context.Background(), src, testPhrase())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	// two loud frames plus two silent frames before the pause threshold trips
	if len(pcm) != 4*100*2 {
		t.Fatalf("expected 4 frames of audio, got %d bytes", len(pcm))
	}
}

func TestRecordPhraseTimesOut(t *testing.T) {
	_, err := RecordPhrase(context.Background(), &fakeSource{}, testPhrase())
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestRecordPhraseLimit(t *testing.T) {
	var frames [][]int16
	for i := 0; i < 30; i++ {
		frames = append(frames, frame(5000))
	}
	pcm, err := RecordPhrase(context.Background(), &fakeSource{frames: frames}, testPhrase())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(pcm) != 10*100*2 {
		t.Fatalf("expected phrase limit of 10 frames, got %d bytes", len(pcm))
	}
}

func TestVoiceListenerNormalizes(t *testing.T) {
	src := &fakeSource{frames: [][]int16{frame(5000), frame(0), frame(0)}}
	l := NewVoiceListener(src, NewMockRecognizer("  Open YouTube  "), testPhrase(), newLogger())
	if got := l.Listen(context.Background()); got != "open youtube" {
		t.Fatalf("unexpected command %q", got)
	}
}

type failingRecognizer struct{}

func (failingRecognizer) Transcribe(context.Context, []byte, int, int, bool) (TranscriptResult, error) {
	return TranscriptResult{}, errors.New("service unavailable")
}

func TestVoiceListenerSwallowsErrors(t *testing.T) {
	cases := map[string]*VoiceListener{
		"timeout":      NewVoiceListener(&fakeSource{}, NewMockRecognizer("hi"), testPhrase(), newLogger()),
		"device error": NewVoiceListener(&fakeSource{err: errors.New("unplugged"), frames: nil}, NewMockRecognizer("hi"), PhraseConfig{EnergyThreshold: 1}, newLogger()),
		"recognizer":   NewVoiceListener(&fakeSource{frames: [][]int16{frame(5000), frame(0), frame(0)}}, failingRecognizer{}, testPhrase(), newLogger()),
	}
	for name, l := range cases {
		if got := l.Listen(context.Background()); got != "" {
			t.Fatalf("%s: expected empty result, got %q", name, got)
		}
	}
}

func TestTextListener(t *testing.T) {
	l := NewTextListener(strings.NewReader("  Open GitHub\nWhat is Go?\n"), nil, 0, newLogger())
	ctx := context.Background()
	if got := l.Listen(ctx); got != "open github" {
		t.Fatalf("unexpected first line %q", got)
	}
	if got := l.Listen(ctx); got != "what is go?" {
		t.Fatalf("unexpected second line %q", got)
	}
	select {
	case <-l.EOF():
	case <-time.After(time.Second):
		t.Fatal("expected EOF after input is consumed")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if got := l.Listen(cctx); got != "" {
		t.Fatalf("expected empty result after EOF, got %q", got)
	}
}

func TestTextListenerTimesOut(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	var prompt strings.Builder
	l := NewTextListener(r, &prompt, 20*time.Millisecond, newLogger())

	start := time.Now()
	if got := l.Listen(context.Background()); got != "" {
		t.Fatalf("expected empty result on timeout, got %q", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("listen did not honour timeout, took %s", elapsed)
	}
	if got := l.Listen(context.Background()); got != "" {
		t.Fatalf("expected second timeout, got %q", got)
	}
	if prompt.String() != "> " {
		t.Fatalf("expected a single prompt across timeouts, got %q", prompt.String())
	}

	go func() { _, _ = io.WriteString(w, "Hello\n") }()
	l.timeout = time.Second
	if got := l.Listen(context.Background()); got != "hello" {
		t.Fatalf("expected line after timeouts, got %q", got)
	}
}

func TestWhisperRecognizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" {
			t.Errorf("unexpected form fields %v", r.MultipartForm.Value)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
		} else {
			head := make([]byte, 4)
			_, _ = io.ReadFull(file, head)
			if string(head) != "RIFF" {
				t.Errorf("expected wav upload, got %q", head)
			}
		}
		_, _ = w.Write([]byte(`{"text":"Open Wikipedia"}`))
	}))
	defer srv.Close()

	rec := NewWhisperRecognizer("sk-test", srv.URL, "en", nil).(*whisperRecognizer)
	rec.retry = retry.Config{MaxAttempts: 1}
	res, err := rec.Transcribe(context.Background(), samplesToPCM(frame(5000)), 1000, 1, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "Open Wikipedia" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestWhisperRequiresKey(t *testing.T) {
	if _, err := NewWhisperRecognizer("", "", "en", nil).Transcribe(context.Background(), []byte{0, 0}, 16000, 1, true); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestExecRecognizer(t *testing.T) {
	script := filepath.Join(t.TempDir(), "stt")
	body := "#!/bin/sh\necho '{\"text\":\"open gmail\",\"confidence\":0.9}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	rec, err := NewExecRecognizer(config.STTConfig{Command: script, Language: "en"})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), samplesToPCM(frame(100)), 1000, 1, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "open gmail" || res.Confidence != 0.9 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEncodeWAV(t *testing.T) {
	data, err := encodeWAV(samplesToPCM(frame(1)), 16000, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("unexpected header %q", data[:12])
	}
	if _, err := encodeWAV([]byte{1}, 16000, 1); err == nil {
		t.Fatal("expected error for unaligned pcm")
	}
}

func TestNewListenerStdin(t *testing.T) {
	l, closeFn, err := NewListener(config.STTConfig{Source: "stdin"}, strings.NewReader("hello\n"), io.Discard, newLogger())
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	defer closeFn()
	if got := l.Listen(context.Background()); got != "hello" {
		t.Fatalf("unexpected command %q", got)
	}
}
