package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skaldhq/skald/internal/clients/r2"
	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/server"
	"github.com/skaldhq/skald/internal/services/quota"
	"github.com/skaldhq/skald/internal/services/submit"
	surrealstorage "github.com/skaldhq/skald/internal/storage/surrealdb"
)

func main() {
	common.LoadVersionFromFile()

	configPath := os.Getenv("SKALD_CONFIG")
	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	common.PrintBanner(config, logger, "skald-server")

	storage, err := surrealstorage.NewManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer storage.Close()

	ctx := context.Background()
	objects, err := r2.NewClient(ctx, config.ObjectStore, r2.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize object store client")
	}

	quotaService := quota.NewService(storage.UsageStore(), config.Quota.DailyLimitMinutes, logger)
	submitService := submit.NewService(storage.JobStore(), quotaService, objects, logger)

	srv := server.NewServer(config, logger, storage.JobStore(), objects, submitService, quotaService)

	shutdownChan := make(chan struct{}, 1)
	srv.SetShutdownChannel(shutdownChan)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", config.Server.Port)).
		Msg("Server ready")

	// Wait for interrupt signal or HTTP-requested shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info().Msg("Shutdown signal received")
	case <-shutdownChan:
		logger.Info().Msg("Shutdown requested via HTTP endpoint")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	common.PrintShutdownBanner(logger)
}
