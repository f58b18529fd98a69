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

	"github.com/nimbusblock/control-plane/internal/app"
	"github.com/nimbusblock/control-plane/internal/config"
	"github.com/nimbusblock/control-plane/internal/telemetry"
)

func main() {
	mode := flag.String("mode", "", "run mode: agent or standby (overrides NIMBUSBLOCK_MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flag overrides env var.
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("fatal: building control plane", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		if errors.Is(err, app.ErrLeaseLost) {
			logger.Error("exiting: lease lost and EXIT_ON_LEASE_LOSS is set", "error", err)
			os.Exit(2)
		}
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}
