package providers

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
)

// Constructor builds a provider instance from its configuration.
type Constructor func(cfg config.ProviderConfig) (Provider, error)

// Registry maps provider names to constructors. It is an explicit object
// owned by the composition root — there is no package-level registry, so
// registration order is visible and testable.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[string]Constructor),
	}
}

// Register adds a constructor under a lowercase name. A later registration
// under the same name replaces the earlier one.
func (r *Registry) Register(name string, ctor Constructor) {
	if ctor == nil {
		logrus.WithField("provider", name).Error("refusing to register nil provider constructor")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
	logrus.WithField("provider", name).Debug("provider registered")
}

// Create instantiates the named provider. Unknown names and constructor
// failures yield nil plus a log line, never a panic.
func (r *Registry) Create(name string, cfg config.ProviderConfig) Provider {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()

	if !ok {
		logrus.WithField("provider", name).Error("unknown provider type")
		return nil
	}

	p, err := ctor(cfg)
	if err != nil {
		logrus.WithField("provider", name).WithError(err).Error("provider construction failed")
		return nil
	}
	return p
}

// Names returns the registered provider names, sorted for determinism.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a provider name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}
