package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skaldhq/skald/internal/clients/r2"
	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/engine/gemini"
	"github.com/skaldhq/skald/internal/engine/whispercpp"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/services/quota"
	"github.com/skaldhq/skald/internal/services/worker"
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
	common.PrintBanner(config, logger, "skald-worker")

	storage, err := surrealstorage.NewManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer storage.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	objects, err := r2.NewClient(ctx, config.ObjectStore, r2.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize object store client")
	}

	engine, err := buildEngine(ctx, config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize transcription engine")
	}
	logger.Info().
		Str("kind", config.Engine.Kind).
		Str("model_version", engine.ModelVersion()).
		Msg("Transcription engine ready")

	quotaService := quota.NewService(storage.UsageStore(), config.Quota.DailyLimitMinutes, logger)
	w := worker.New(
		storage.JobStore(),
		quotaService,
		objects,
		engine,
		logger,
		config.Worker,
		config.Engine.GetTimeout(),
	)

	// Cancel the run loop on interrupt; an in-flight job still completes.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()

	if err := w.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Worker run failed")
	}

	common.PrintShutdownBanner(logger)
}

// buildEngine selects the transcription engine from config.
func buildEngine(ctx context.Context, config *common.Config, logger *common.Logger) (interfaces.TranscriptionEngine, error) {
	switch config.Engine.Kind {
	case "gemini":
		return gemini.New(ctx, config.Engine, gemini.WithLogger(logger))
	case "", "whispercpp":
		return whispercpp.New(config.Engine, logger), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", config.Engine.Kind)
	}
}
