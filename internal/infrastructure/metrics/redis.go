package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/zlog"
)

const (
	defaultPrefix     = "styleshot:metrics:"
	defaultBufferSize = 1024
	recentEvents      = 200
	writeTimeout      = 2 * time.Second
)

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	BufferSize int
}

type record struct {
	Event  string         `json:"event"`
	Fields map[string]any `json:"fields"`
	At     time.Time      `json:"at"`
}

// RedisSink keeps event counters in redis hashes. Emit never blocks: events are queued
// to a single writer goroutine and dropped when the queue is full.
type RedisSink struct {
	client *redis.Client
	prefix string

	mu     sync.RWMutex
	closed bool
	queue  chan record
	done   chan struct{}

	dropped atomic.Int64
}

func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}

	s := &RedisSink{
		client: client,
		prefix: prefix,
		queue:  make(chan record, size),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *RedisSink) Emit(event string, fields map[string]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- record{Event: event, Fields: fields, At: time.Now()}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped is the number of events discarded because the queue was full.
func (s *RedisSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes queued events and closes the client.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.client.Close()
}

// Counters returns the global per-event counters.
func (s *RedisSink) Counters(ctx context.Context) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.prefix+"events").Result()
}

func (s *RedisSink) run() {
	defer close(s.done)
	for r := range s.queue {
		if err := s.write(r); err != nil {
			zlog.Logger.Warn().Err(err).Str("event", r.Event).Msg("failed to write metric to redis")
		}
	}
}

func (s *RedisSink) write(r record) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+"events", r.Event, 1)

	if provider, ok := r.Fields["provider"].(string); ok && provider != "" {
		field := r.Event
		if reason, ok := r.Fields["reason"].(string); ok && reason != "" {
			field += ":" + reason
		}
		pipe.HIncrBy(ctx, s.prefix+"provider:"+provider, field, 1)
	}
	if tier, ok := r.Fields["tier"].(string); ok && r.Event == "transform.completed" {
		pipe.HIncrBy(ctx, s.prefix+"tiers", tier, 1)
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal metric: %w", err)
	}
	pipe.LPush(ctx, s.prefix+"recent", payload)
	pipe.LTrim(ctx, s.prefix+"recent", 0, recentEvents-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec metrics pipeline: %w", err)
	}
	return nil
}
