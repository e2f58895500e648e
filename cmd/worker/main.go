package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wb-go/wbf/zlog"
	_ "go.uber.org/automaxprocs"

	"github.com/yokitheyo/styleshot/internal/bootstrap"
	"github.com/yokitheyo/styleshot/internal/config"
	infradatabase "github.com/yokitheyo/styleshot/internal/infrastructure/database"
	"github.com/yokitheyo/styleshot/internal/infrastructure/kafka"
	"github.com/yokitheyo/styleshot/internal/infrastructure/metrics"
	"github.com/yokitheyo/styleshot/internal/infrastructure/storage"
	"github.com/yokitheyo/styleshot/internal/platformspec"
	"github.com/yokitheyo/styleshot/internal/repository/postgres"
	"github.com/yokitheyo/styleshot/internal/retry"
	"github.com/yokitheyo/styleshot/internal/usecase"
	"github.com/yokitheyo/styleshot/internal/worker"
)

func main() {
	zlog.Init()
	zlog.Logger.Info().Msg("Starting Styleshot Worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.Load("")
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	bootstrap.SetLogLevel(cfg.Logging.Level)
	if !cfg.Jobs.Enabled {
		zlog.Logger.Fatal().Msg("jobs.enabled is false, nothing for the worker to consume")
	}

	database, err := infradatabase.Connect(cfg.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database after all retries")
	}
	defer infradatabase.Close(database)

	// Run migrations
	zlog.Logger.Info().Msg("Running database migrations...")
	if err := infradatabase.RunMigrations(database, cfg.Migrations.Path); err != nil {
		zlog.Logger.Warn().Err(err).Msg("Migrations warning (might be already applied)")
	}

	// Setup Storage
	storageService, err := storage.New(&cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	sink, err := metrics.New(cfg.Metrics)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to initialize metrics sink")
	}
	defer sink.Close()

	orch, err := bootstrap.NewOrchestrator(cfg.Orchestrator, platformspec.New(), sink)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to initialize orchestrator")
	}
	defer orch.Close()

	// Setup Repository and Usecase
	repo := postgres.NewJobRepository(database, retry.DefaultStrategy)
	jobUsecase := usecase.NewJobUsecase(repo, storageService, orch, time.Duration(cfg.Jobs.JobTimeoutSec)*time.Second)
	transformWorker := worker.NewTransformWorker(jobUsecase)

	// Kafka Consumer
	kafkaConsumer, err := kafka.NewConsumer(&cfg.Kafka, transformWorker.HandleTransformTask)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize Kafka consumer")
	}
	defer kafkaConsumer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := kafkaConsumer.Start(ctx); err != nil {
			zlog.Logger.Error().Err(err).Msg("Kafka consumer error")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("Shutdown signal received")

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		zlog.Logger.Warn().Msg("Kafka consumer did not stop in time")
	}

	zlog.Logger.Info().Msg("Worker shutdown complete")
}
