// Package bootstrap assembles the orchestrator and its collaborators from configuration.
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/breaker"
	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/engine"
	"github.com/yokitheyo/styleshot/internal/infrastructure/processor"
	"github.com/yokitheyo/styleshot/internal/infrastructure/providers"
	"github.com/yokitheyo/styleshot/internal/orchestrator"
	"github.com/yokitheyo/styleshot/internal/platformspec"
	"github.com/yokitheyo/styleshot/internal/quality"
)

// SetLogLevel applies logging.level; an unknown level keeps info.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		zlog.Logger.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// NewOrchestrator builds tiers, breakers, gate and engine. Every configured provider gets a
// closed breaker up front so it is visible before its first call.
func NewOrchestrator(cfg config.OrchestratorConfig, table *platformspec.Table, sink domain.MetricsSink) (*orchestrator.Orchestrator, error) {
	cfg.Defaults()

	tiers, err := providers.BuildTiers(cfg)
	if err != nil {
		return nil, fmt.Errorf("build tiers: %w", err)
	}

	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		CoolDown:         time.Duration(cfg.Breaker.CoolDownSec) * time.Second,
	}, breaker.WithObserver(orchestrator.BreakerEvents(sink)))
	for _, t := range tiers {
		for _, p := range t.Providers {
			registry.State(p.Name())
		}
	}

	prims := processor.NewImageProcessor()
	orch, err := orchestrator.New(orchestrator.Deps{
		Tiers:    tiers,
		Breakers: registry,
		Gate: quality.NewGate(quality.Config{
			Threshold:       cfg.Quality.Threshold,
			MinPayloadBytes: cfg.Quality.MinPayloadBytes,
		}),
		Engine: engine.New(prims, engine.Config{
			WorkingSize:      cfg.Engine.WorkingSize,
			CosmeticRotation: cfg.Engine.CosmeticRotation,
			RotationDegrees:  cfg.Engine.RotationDegrees,
			MinQuality:       cfg.Engine.MinQuality,
			QualityStep:      cfg.Engine.QualityStep,
		}),
		Table:      table,
		Primitives: prims,
		Sink:       sink,
	}, orchestrator.Config{
		ShapingWorkers: cfg.ShapingWorkers,
		BatchLimit:     cfg.BatchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	for _, t := range orch.Tiers() {
		zlog.Logger.Info().
			Str("tier", t.Name).
			Int("priority", t.Priority).
			Str("kind", string(t.Kind)).
			Bool("premium_only", t.PremiumOnly).
			Int("providers", len(t.Providers)).
			Msg("tier configured")
	}
	zlog.Logger.Info().
		Int("tiers", len(tiers)).
		Float64("quality_threshold", cfg.Quality.Threshold).
		Int("failure_threshold", cfg.Breaker.FailureThreshold).
		Int("cool_down_sec", cfg.Breaker.CoolDownSec).
		Msg("orchestrator ready")

	return orch, nil
}
