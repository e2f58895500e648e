package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/yokitheyo/styleshot/internal/domain"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 3
	DefaultCoolDown         = 60 * time.Second

	// a hard failure costs two penalty points, a quality miss one
	hardPenalty = 2
	softPenalty = 1
)

type Config struct {
	FailureThreshold int
	CoolDown         time.Duration
}

// Observer is told about every state transition, outside the breaker lock.
type Observer func(provider string, from, to State)

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

type breaker struct {
	mu sync.Mutex

	state       State
	failures    int
	penalty     int
	lastFailure time.Time
	openedAt    time.Time
	trialOut    bool
}

// Registry holds one breaker per provider. Breakers are created lazily and locked individually.
type Registry struct {
	cfg      Config
	now      func() time.Time
	observer Observer

	mu       sync.RWMutex
	breakers map[string]*breaker
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultCoolDown
	}
	r := &Registry{
		cfg:      cfg,
		now:      time.Now,
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) get(provider string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[provider]; ok {
		return b
	}
	b = &breaker{state: Closed}
	r.breakers[provider] = b
	return b
}

func (r *Registry) notify(provider string, from, to State) {
	if r.observer != nil && from != to {
		r.observer(provider, from, to)
	}
}

// Allow admits a call when the breaker is closed. An open breaker whose cool-down has
// elapsed moves to half-open and admits exactly one trial.
func (r *Registry) Allow(provider string) bool {
	b := r.get(provider)

	b.mu.Lock()
	from := b.state
	allowed := false
	switch b.state {
	case Closed:
		allowed = true
	case Open:
		if r.now().Sub(b.openedAt) >= r.cfg.CoolDown {
			b.state = HalfOpen
			b.trialOut = true
			allowed = true
		}
	case HalfOpen:
		if !b.trialOut {
			b.trialOut = true
			allowed = true
		}
	}
	to := b.state
	b.mu.Unlock()

	r.notify(provider, from, to)
	return allowed
}

func (r *Registry) RecordSuccess(provider string) {
	b := r.get(provider)

	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.penalty = 0
	b.trialOut = false
	b.mu.Unlock()

	r.notify(provider, from, Closed)
}

// RecordFailure counts an error or timeout.
func (r *Registry) RecordFailure(provider string) {
	r.recordFailure(provider, hardPenalty)
}

// RecordSoftFailure counts a below-threshold response at half the weight of a hard failure.
func (r *Registry) RecordSoftFailure(provider string) {
	r.recordFailure(provider, softPenalty)
}

func (r *Registry) recordFailure(provider string, penalty int) {
	b := r.get(provider)
	now := r.now()

	b.mu.Lock()
	from := b.state
	b.failures++
	b.penalty += penalty
	b.lastFailure = now
	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = now
		b.trialOut = false
	case Closed:
		if b.penalty >= r.cfg.FailureThreshold*hardPenalty {
			b.state = Open
			b.openedAt = now
		}
	case Open:
		b.openedAt = now
	}
	to := b.state
	b.mu.Unlock()

	r.notify(provider, from, to)
}

// Abandon hands back a half-open trial whose outcome is unknown, e.g. because the
// caller cancelled. The breaker returns to open with its cool-down already elapsed.
func (r *Registry) Abandon(provider string) {
	b := r.get(provider)

	b.mu.Lock()
	from := b.state
	if b.state == HalfOpen {
		b.state = Open
		b.trialOut = false
		b.openedAt = r.now().Add(-r.cfg.CoolDown)
	}
	to := b.state
	b.mu.Unlock()

	r.notify(provider, from, to)
}

// State returns the current state without side effects.
func (r *Registry) State(provider string) State {
	b := r.get(provider)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (r *Registry) Snapshot() []domain.BreakerState {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]domain.BreakerState, 0, len(names))
	for _, name := range names {
		b := r.get(name)
		b.mu.Lock()
		out = append(out, domain.BreakerState{
			Provider:            name,
			State:               b.state.String(),
			ConsecutiveFailures: b.failures,
			LastFailure:         b.lastFailure,
			FailureThreshold:    r.cfg.FailureThreshold,
			CoolDown:            r.cfg.CoolDown.String(),
		})
		b.mu.Unlock()
	}
	return out
}
