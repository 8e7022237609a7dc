// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/app"
	"github.com/relabs-tech/vr_assess/internal/config"
	"github.com/relabs-tech/vr_assess/internal/logging"
)

func main() {
	log.Println("starting vr-assess console (MQTT subscriber)")

	// Load configuration
	cfg, err := config.LoadDefaultFile()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	os.Exit(logging.ExitCode(logger, run(cfg, logger)))
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Wait for Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.RunConsoleMQTT(ctx, cfg, logger, os.Stdout)
}
