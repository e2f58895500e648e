package orchestrator

import (
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/yokitheyo/styleshot/internal/domain"
)

const (
	DefaultAITimeout         = 30 * time.Second
	DefaultSimulationTimeout = 10 * time.Second
)

// Descriptor is the static description of one provider inside a tier.
type Descriptor struct {
	Name       string
	Capability string
	Timeout    time.Duration
	// Retries is handed to the adapter's transport; the orchestrator makes one attempt per request.
	Retries int
}

type ProviderEntry struct {
	Provider   domain.Provider
	Descriptor Descriptor
	// Limiter is optional; a provider without tokens is skipped, not awaited.
	Limiter *rate.Limiter
}

// Name prefers the descriptor name and falls back to the adapter's own.
func (e ProviderEntry) Name() string {
	if e.Descriptor.Name != "" {
		return e.Descriptor.Name
	}
	return e.Provider.Name()
}

func (e ProviderEntry) timeout(kind domain.TierKind) time.Duration {
	if e.Descriptor.Timeout > 0 {
		return e.Descriptor.Timeout
	}
	if kind.IsAI() {
		return DefaultAITimeout
	}
	return DefaultSimulationTimeout
}

type Tier struct {
	Name        string
	Priority    int
	Kind        domain.TierKind
	PremiumOnly bool
	Providers   []ProviderEntry
}

// sortTiers orders tiers by ascending priority; equal priorities keep their configured order.
func sortTiers(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
