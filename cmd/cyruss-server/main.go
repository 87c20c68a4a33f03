package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
	"github.com/loqalabs/cyruss/internal/llm"
	"github.com/loqalabs/cyruss/internal/runtime"
	"github.com/loqalabs/cyruss/internal/server"
	"github.com/loqalabs/cyruss/internal/sites"
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
	logger := config.NewLogger(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rt := runtime.New(cfg, logger)
	if err := rt.Open(ctx, "http"); err != nil {
		return err
	}
	defer rt.Close(ctx)

	gen, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to init llm: %w", err)
	}
	responder := llm.NewResponder(gen, cfg.LLM, logger)

	table, err := sites.Resolve(cfg)
	if err != nil {
		return fmt.Errorf("failed to load sites: %w", err)
	}
	srv := server.New(cfg.HTTP, table, responder, logger, server.WithRecorder(rt.Journal()))
	rt.MountOps(srv)
	rt.SetReady(true)

	addr := net.JoinHostPort(cfg.HTTP.Bind, strconv.Itoa(cfg.HTTP.Port))
	return rt.Serve(ctx, addr, srv.Handler())
}
