package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/app"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/config"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mirror start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("mirror starting", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mirror, err := app.NewMirror(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize mirror", "error", err.Error())
		return err
	}

	if err := mirror.Run(ctx); err != nil {
		return fmt.Errorf("mirror run: %w", err)
	}
	return nil
}
