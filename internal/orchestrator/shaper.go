package orchestrator

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/wb-go/wbf/zlog"
)

// shaper fans per-platform work out onto a bounded goroutine pool shared by all requests.
type shaper struct {
	pool *ants.Pool
}

func newShaper(workers int) (*shaper, error) {
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p any) {
		zlog.Logger.Error().Interface("panic", p).Msg("shaping task panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("create shaping pool: %w", err)
	}
	return &shaper{pool: pool}, nil
}

// each runs fn(0..n-1) and waits. A task the pool refuses runs on the calling goroutine.
func (s *shaper) each(n int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		task := func() {
			defer wg.Done()
			fn(i)
		}
		if err := s.pool.Submit(task); err != nil {
			zlog.Logger.Debug().Err(err).Msg("shaping pool rejected task, running inline")
			task()
		}
	}
	wg.Wait()
}

func (s *shaper) release() {
	s.pool.Release()
}
