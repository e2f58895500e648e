package metrics

import (
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
)

// Sink is a MetricsSink that owns resources.
type Sink interface {
	domain.MetricsSink
	Close() error
}

// New returns the log sink, or the log sink fanned out with redis counters.
func New(cfg config.MetricsConfig) (Sink, error) {
	switch cfg.Backend {
	case "", config.MetricsLog:
		return NewLogSink(), nil
	case config.MetricsRedis:
		rs, err := NewRedisSink(RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Prefix:     cfg.Prefix,
			BufferSize: cfg.BufferSize,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis metrics sink: %w", err)
		}
		return Multi(NewLogSink(), rs), nil
	default:
		return nil, fmt.Errorf("unsupported metrics backend %q", cfg.Backend)
	}
}

// LogSink writes every event as a structured debug log line.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (LogSink) Emit(event string, fields map[string]any) {
	zlog.Logger.Debug().Fields(fields).Str("event", event).Msg("metric")
}

func (LogSink) Close() error {
	return nil
}

type multiSink []Sink

// Multi fans every event out to all sinks in order.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Emit(event string, fields map[string]any) {
	for _, s := range m {
		s.Emit(event, fields)
	}
}

func (m multiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
