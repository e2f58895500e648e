package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/time/rate"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/orchestrator"
)

// New builds the adapter for one configured provider.
func New(cfg config.ProviderConfig) (domain.Provider, error) {
	switch strings.ToLower(cfg.Type) {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.ProviderHTTP:
		return NewHTTPProvider(cfg)
	case config.ProviderSimulation:
		return NewSimulationProvider(cfg.Name), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, cfg.Type)
	}
}

// BuildTiers turns the orchestrator config into ordered tiers with adapters and rate limiters attached.
func BuildTiers(cfg config.OrchestratorConfig) ([]orchestrator.Tier, error) {
	tiers := make([]orchestrator.Tier, 0, len(cfg.Tiers))
	for _, tc := range cfg.Tiers {
		tier := orchestrator.Tier{
			Name:        tc.Name,
			Priority:    tc.Priority,
			Kind:        domain.TierKind(strings.ToLower(tc.Kind)),
			PremiumOnly: tc.PremiumOnly,
			Providers:   make([]orchestrator.ProviderEntry, 0, len(tc.Providers)),
		}

		for _, pc := range tc.Providers {
			p, err := New(pc)
			if err != nil {
				return nil, fmt.Errorf("build provider %q in tier %q: %w", pc.Name, tc.Name, err)
			}

			entry := orchestrator.ProviderEntry{
				Provider: p,
				Descriptor: orchestrator.Descriptor{
					Name:       p.Name(),
					Capability: pc.Capability,
					Timeout:    time.Duration(pc.TimeoutSec) * time.Second,
					Retries:    pc.Retries,
				},
			}
			if pc.RatePerSec > 0 {
				burst := pc.Burst
				if burst <= 0 {
					burst = 1
				}
				entry.Limiter = rate.NewLimiter(rate.Limit(pc.RatePerSec), burst)
			}
			tier.Providers = append(tier.Providers, entry)

			zlog.Logger.Info().
				Str("tier", tc.Name).
				Int("priority", tc.Priority).
				Str("provider", p.Name()).
				Str("type", pc.Type).
				Dur("timeout", entry.Descriptor.Timeout).
				Float64("rate_per_sec", pc.RatePerSec).
				Msg("provider registered")
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}
