package checks

import (
	"sync"

	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

// Factory resolves a platform to its check-run Adapter.
type Factory struct {
	mu       sync.RWMutex
	adapters map[pipeline.Platform]Adapter
	fallback Adapter
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{adapters: make(map[pipeline.Platform]Adapter)}
}

// Register sets the adapter for platform, replacing any previous one.
func (f *Factory) Register(platform pipeline.Platform, a Adapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters[platform] = a
}

// SetFallback sets the adapter used for platforms without a registration.
// A nil fallback makes unknown platforms unresolvable.
func (f *Factory) SetFallback(a Adapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = a
}

// Adapter returns the adapter for platform, or the fallback. ok is false
// when neither exists.
func (f *Factory) Adapter(platform pipeline.Platform) (Adapter, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if a, ok := f.adapters[platform]; ok && a != nil {
		return a, true
	}
	if f.fallback != nil {
		return f.fallback, true
	}
	return nil, false
}

// Platforms returns the explicitly registered platforms.
func (f *Factory) Platforms() []pipeline.Platform {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]pipeline.Platform, 0, len(f.adapters))
	for p := range f.adapters {
		out = append(out, p)
	}
	return out
}
