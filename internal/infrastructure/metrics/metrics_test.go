package metrics

import (
	"context"
	"os"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func TestRedisSinkCounters(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	sink, err := NewRedisSink(RedisConfig{Addr: mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)

	sink.Emit("transform.started", map[string]any{"request_id": "r1"})
	sink.Emit("provider.failure", map[string]any{"provider": "openai", "reason": "timeout"})
	sink.Emit("provider.failure", map[string]any{"provider": "openai", "reason": "timeout"})
	sink.Emit("transform.completed", map[string]any{"tier": "guarantee", "provider": "local-engine"})

	require.NoError(t, sink.Close())

	assert.Equal(t, "1", mr.HGet("test:events", "transform.started"))
	assert.Equal(t, "2", mr.HGet("test:events", "provider.failure"))
	assert.Equal(t, "2", mr.HGet("test:provider:openai", "provider.failure:timeout"))
	assert.Equal(t, "1", mr.HGet("test:tiers", "guarantee"))

	recent, err := mr.List("test:recent")
	require.NoError(t, err)
	assert.Len(t, recent, 4)
}

func TestRedisSinkCountersQuery(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	mr.HSet("styleshot:metrics:events", "transform.completed", "7")

	sink, err := NewRedisSink(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer sink.Close()

	counters, err := sink.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7", counters["transform.completed"])
}

func TestRedisSinkDropsWhenFull(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	sink, err := NewRedisSink(RedisConfig{Addr: mr.Addr(), BufferSize: 1})
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		sink.Emit("provider.attempt", nil)
	}
	require.NoError(t, sink.Close())

	written := mr.HGet(defaultPrefix+"events", "provider.attempt")
	assert.NotEmpty(t, written)
	assert.Positive(t, sink.Dropped())
}

func TestRedisSinkEmitAfterClose(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	sink, err := NewRedisSink(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.NotPanics(t, func() { sink.Emit("transform.started", nil) })
}

func TestRedisSinkUnreachable(t *testing.T) {
	_, err := NewRedisSink(RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)

	_, err = NewRedisSink(RedisConfig{})
	require.Error(t, err)
}

type captureSink struct {
	events []string
	closed bool
}

func (c *captureSink) Emit(event string, _ map[string]any) { c.events = append(c.events, event) }
func (c *captureSink) Close() error                         { c.closed = true; return nil }

func TestMultiSink(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	m := Multi(a, b)

	m.Emit("guarantee.applied", map[string]any{"floor": false})
	require.NoError(t, m.Close())

	assert.Equal(t, []string{"guarantee.applied"}, a.events)
	assert.Equal(t, []string{"guarantee.applied"}, b.events)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNewFromConfig(t *testing.T) {
	s, err := New(config.MetricsConfig{Backend: config.MetricsLog})
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, s)
	s.Emit("transform.started", map[string]any{"request_id": "x"})

	_, err = New(config.MetricsConfig{Backend: "statsd"})
	require.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err = New(config.MetricsConfig{Backend: config.MetricsRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
