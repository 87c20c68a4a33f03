package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/cyruss/internal/assistant"
	"github.com/loqalabs/cyruss/internal/browser"
	"github.com/loqalabs/cyruss/internal/config"
	"github.com/loqalabs/cyruss/internal/dispatch"
	"github.com/loqalabs/cyruss/internal/llm"
	"github.com/loqalabs/cyruss/internal/playback"
	"github.com/loqalabs/cyruss/internal/runtime"
	"github.com/loqalabs/cyruss/internal/sites"
	"github.com/loqalabs/cyruss/internal/speech"
	"github.com/loqalabs/cyruss/internal/stt"
	"github.com/loqalabs/cyruss/internal/tts"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("assistant exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rt := runtime.New(cfg, logger)
	if err := rt.Open(ctx, "assistant"); err != nil {
		return err
	}
	defer rt.Close(ctx)

	gen, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to init llm: %w", err)
	}
	responder := llm.NewResponder(gen, cfg.LLM, logger)

	synth, err := tts.New(cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to init tts: %w", err)
	}
	var player tts.Player = playback.New(cfg.TTS.SampleRate, cfg.TTS.Channels)
	if cfg.TTS.Mode == "mock" {
		player = silentPlayer{}
	}
	speaker := tts.NewSpeaker(synth, player, cfg.TTS, logger)

	queue := speech.NewQueue(speaker,
		speech.WithLogger(logger),
		speech.WithRecorder(rt.Journal()),
	)
	table, err := sites.Resolve(cfg)
	if err != nil {
		return fmt.Errorf("failed to load sites: %w", err)
	}
	dispatcher := dispatch.New(cfg.Speech, table, responder, queue, browser.NewSystem(logger),
		dispatch.WithLogger(logger),
		dispatch.WithRecorder(rt.Journal()),
		dispatch.WithFallbackReplies(llm.ErrorReply, llm.EmptyReply),
	)

	listener, closeListener, err := stt.NewListener(cfg.STT, os.Stdin, os.Stdout, logger)
	if err != nil {
		return fmt.Errorf("failed to init listener: %w", err)
	}
	defer func() {
		if err := closeListener(); err != nil {
			logger.Warn("failed to close listener", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if text, ok := listener.(*stt.TextListener); ok {
		go func() {
			select {
			case <-text.EOF():
				logger.Info("input closed")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	go func() {
		if err := rt.Serve(ctx, cfg.Telemetry.PrometheusBind, rt.OpsHandler()); err != nil {
			logger.Warn("ops server stopped", slog.String("error", err.Error()))
		}
	}()
	rt.SetReady(true)

	err = assistant.New(cfg.Assistant, listener, dispatcher, queue, logger).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// silentPlayer drops audio so the mock synthesizer runs without a sound device.
type silentPlayer struct{}

func (silentPlayer) Play(context.Context, []byte, int, int) error { return nil }
