package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clipcast-hq/clipcast-pipeline/internal/app"
	"github.com/clipcast-hq/clipcast-pipeline/internal/config"
	"github.com/clipcast-hq/clipcast-pipeline/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("orchestrator starting", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator, err := app.NewOrchestrator(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize orchestrator", "error", err)
		return err
	}

	if err := orchestrator.Run(ctx); err != nil {
		return fmt.Errorf("orchestrator run: %w", err)
	}

	return nil
}
