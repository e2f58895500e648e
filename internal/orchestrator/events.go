package orchestrator

import (
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/breaker"
	"github.com/yokitheyo/styleshot/internal/domain"
)

const (
	EventTransformStarted    = "transform.started"
	EventTransformCompleted  = "transform.completed"
	EventTransformCancelled  = "transform.cancelled"
	EventProviderSkipped     = "provider.skipped"
	EventProviderAttempt     = "provider.attempt"
	EventProviderSuccess     = "provider.success"
	EventProviderFailure     = "provider.failure"
	EventGuaranteeApplied    = "guarantee.applied"
	EventBreakerStateChanged = "breaker.state_changed"
)

type nopSink struct{}

func (nopSink) Emit(string, map[string]any) {}

// BreakerEvents forwards breaker transitions to sink. Pass it to breaker.WithObserver.
func BreakerEvents(sink domain.MetricsSink) breaker.Observer {
	if sink == nil {
		sink = nopSink{}
	}
	return func(provider string, from, to breaker.State) {
		zlog.Logger.Info().
			Str("provider", provider).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
		emit(sink, EventBreakerStateChanged, map[string]any{
			"provider": provider,
			"from":     from.String(),
			"to":       to.String(),
		})
	}
}

// emit shields the caller from a misbehaving sink.
func emit(sink domain.MetricsSink, event string, fields map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Logger.Error().Interface("panic", r).Str("event", event).Msg("metrics sink panicked")
		}
	}()
	sink.Emit(event, fields)
}
