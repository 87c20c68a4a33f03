package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// gttsSynth pipes text through gtts-cli (MP3 on stdout) and ffmpeg (raw PCM on stdout).
type gttsSynth struct {
	gttsBinary   string
	ffmpegBinary string
	sampleRate   int
	channels     int
	timeout      time.Duration
}

func NewGTTSSynth(gttsBinary, ffmpegBinary string, sampleRate, channels int, timeout time.Duration) Synthesizer {
	if gttsBinary == "" {
		gttsBinary = "gtts-cli"
	}
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &gttsSynth{
		gttsBinary:   gttsBinary,
		ffmpegBinary: ffmpegBinary,
		sampleRate:   sampleRate,
		channels:     channels,
		timeout:      timeout,
	}
}

func (g *gttsSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		pcm, err := g.synthesize(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		chunks <- SynthChunk{
			SampleRate: g.sampleRate,
			Channels:   g.channels,
			PCM:        pcm,
			Final:      true,
		}
	}()
	return chunks, errs
}

func (g *gttsSynth) synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("empty text")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	lang := req.Language
	if lang == "" {
		lang = "en"
	}

	// "-" makes gtts-cli read the text from stdin, so text starting with a dash is safe.
	var mp3, stderr bytes.Buffer
	gtts := exec.CommandContext(ctx, g.gttsBinary, "-", "--lang", lang)
	gtts.Stdin = strings.NewReader(req.Text)
	gtts.Stdout = &mp3
	gtts.Stderr = &stderr
	if err := gtts.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("gtts-cli timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("gtts-cli failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if mp3.Len() == 0 {
		return nil, errors.New("gtts-cli produced no audio")
	}

	var pcm bytes.Buffer
	stderr.Reset()
	ffmpeg := exec.CommandContext(ctx, g.ffmpegBinary,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(g.sampleRate),
		"-ac", strconv.Itoa(g.channels),
		"-")
	ffmpeg.Stdin = &mp3
	ffmpeg.Stdout = &pcm
	ffmpeg.Stderr = &stderr
	if err := ffmpeg.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if pcm.Len() == 0 {
		return nil, errors.New("no audio data generated")
	}
	return pcm.Bytes(), nil
}
