package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
	_ "go.uber.org/automaxprocs"

	"github.com/yokitheyo/styleshot/internal/bootstrap"
	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
	httpHandler "github.com/yokitheyo/styleshot/internal/handler/http"
	"github.com/yokitheyo/styleshot/internal/handler/middleware"
	infradatabase "github.com/yokitheyo/styleshot/internal/infrastructure/database"
	"github.com/yokitheyo/styleshot/internal/infrastructure/kafka"
	"github.com/yokitheyo/styleshot/internal/infrastructure/metrics"
	"github.com/yokitheyo/styleshot/internal/infrastructure/storage"
	"github.com/yokitheyo/styleshot/internal/platformspec"
	"github.com/yokitheyo/styleshot/internal/repository/postgres"
	"github.com/yokitheyo/styleshot/internal/retry"
	"github.com/yokitheyo/styleshot/internal/usecase"
)

func main() {
	zlog.Init()
	zlog.Logger.Info().Msg("Starting Styleshot API Server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.Load("")
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	bootstrap.SetLogLevel(cfg.Logging.Level)
	zlog.Logger.Info().
		Int("max_upload_size_mb", cfg.Server.MaxUploadSizeMB).
		Strs("supported_formats", cfg.Server.SupportedFormats).
		Msg("Loaded server config")

	// Metrics
	sink, err := metrics.New(cfg.Metrics)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to initialize metrics sink")
	}
	defer sink.Close()

	// Orchestrator
	table := platformspec.New()
	orch, err := bootstrap.NewOrchestrator(cfg.Orchestrator, table, sink)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to initialize orchestrator")
	}
	defer orch.Close()

	// Setup Storage
	storageService, err := storage.New(&cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	// Optional async jobs: database + kafka producer
	var (
		repo  domain.JobRepository
		queue domain.QueueService
	)
	if cfg.Jobs.Enabled {
		database, err := infradatabase.Connect(cfg.Database)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to database after all retries")
		}
		defer infradatabase.Close(database)

		zlog.Logger.Info().Msg("Running database migrations...")
		if err := infradatabase.RunMigrations(database, cfg.Migrations.Path); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("Migrations failed")
		}

		kafkaProducer := kafka.NewProducer(&cfg.Kafka)
		defer kafkaProducer.Close()

		repo = postgres.NewJobRepository(database, retry.DefaultStrategy)
		queue = kafkaProducer
	} else {
		zlog.Logger.Info().Msg("Async jobs disabled, serving synchronous transformations only")
	}

	transformUsecase := usecase.NewTransformUsecase(orch, storageService, repo, queue, usecase.TransformConfig{
		SupportedFormats: cfg.Server.SupportedFormats,
		Timeout:          time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
	})

	// Gin engine + middleware
	engine := ginext.New("api")
	engine.Use(
		middleware.ErrorHandlerMiddleware(),
		middleware.LoggerMiddleware(),
		middleware.CORSMiddleware(),
	)

	httpHandler.NewHealthHandler(orch).RegisterRoutes(engine)
	httpHandler.NewTransformHandler(transformUsecase, table, orch, cfg.Server.MaxUploadSizeMB).RegisterRoutes(engine)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Logger.Fatal().Err(err).Msg("Failed to start API server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	} else {
		zlog.Logger.Info().Msg("HTTP server stopped gracefully")
	}

	zlog.Logger.Info().Msg("API shutdown complete")
}
