package providers

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
)

// probeWorkers bounds concurrent availability probes; each probe is a real
// network round trip.
const probeWorkers = 4

// Selector implements the best-available-provider policy: a preferred
// provider is probed alone and short-circuits; otherwise the fallback order
// is probed concurrently and the first usable name in that order wins.
type Selector struct {
	registry  *Registry
	providers map[string]config.ProviderConfig
	fallback  []string
}

// NewSelector creates a selector over the given registry and per-provider
// configuration. fallbackOrder fixes the probe precedence; registered names
// missing from it are appended in sorted order.
func NewSelector(registry *Registry, providerCfgs map[string]config.ProviderConfig, fallbackOrder []string) *Selector {
	return &Selector{
		registry:  registry,
		providers: providerCfgs,
		fallback:  fallbackOrder,
	}
}

// probeOrder is the deterministic candidate list: the configured fallback
// order first, then any remaining registered names.
func (s *Selector) probeOrder() []string {
	seen := make(map[string]bool, len(s.fallback))
	order := make([]string, 0, len(s.fallback))
	for _, name := range s.fallback {
		if s.registry.Has(name) && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	for _, name := range s.registry.Names() {
		if !seen[name] {
			order = append(order, name)
		}
	}
	return order
}

// SelectBest returns the name of the best available provider, or "" when
// none responds. If preferred is available it always wins, regardless of any
// other provider's state.
func (s *Selector) SelectBest(ctx context.Context, preferred string) string {
	if preferred != "" {
		if s.probe(ctx, preferred) {
			logrus.WithField("provider", preferred).Info("using preferred provider")
			return preferred
		}
		logrus.WithField("provider", preferred).Warn("preferred provider unavailable, probing fallbacks")
	}

	order := s.probeOrder()
	results := s.probeAll(ctx, order, preferred)

	for _, name := range order {
		if name == preferred {
			continue
		}
		if results[name] {
			logrus.WithField("provider", name).Info("using fallback provider")
			return name
		}
	}

	logrus.Error("no provider available")
	return ""
}

// TestAll probes every registered provider and reports availability per name.
func (s *Selector) TestAll(ctx context.Context) map[string]bool {
	order := s.probeOrder()
	return s.probeAll(ctx, order, "")
}

// probeAll runs availability probes through a bounded worker pool.
func (s *Selector) probeAll(ctx context.Context, names []string, skip string) map[string]bool {
	results := make(map[string]bool, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, probeWorkers)

	for _, name := range names {
		if name == skip {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ok := s.probe(ctx, name)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// probe instantiates one provider and asks it whether the backend responds.
func (s *Selector) probe(ctx context.Context, name string) bool {
	p := s.registry.Create(name, s.providers[name])
	if p == nil {
		return false
	}
	if err := p.ValidateConfig(); err != nil {
		logrus.WithField("provider", name).WithError(err).Debug("skipping probe, config invalid")
		return false
	}
	return p.IsAvailable(ctx)
}
