package oracle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds an Oracle from configuration.
type Factory func(ctx context.Context, cfg ProviderConfig) (Oracle, error)

// Registry maps provider ids to factories. It is populated explicitly at
// startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory Factory) {
	if r == nil || factory == nil {
		return
	}
	key := normalizeProviderName(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

// New builds the oracle for cfg.Provider.
func (r *Registry) New(ctx context.Context, cfg ProviderConfig) (Oracle, error) {
	key := normalizeProviderName(cfg.Provider)

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	o, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s oracle: %w", key, err)
	}
	return o, nil
}

// Providers lists registered ids in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RegisterBuiltins registers the gemini, openai and static providers.
func RegisterBuiltins(r *Registry) {
	r.Register("gemini", func(ctx context.Context, cfg ProviderConfig) (Oracle, error) {
		return NewGemini(ctx, cfg)
	})
	r.Register("openai", func(_ context.Context, cfg ProviderConfig) (Oracle, error) {
		return NewOpenAI(cfg)
	})
	r.Register("static", func(_ context.Context, cfg ProviderConfig) (Oracle, error) {
		return NewStatic(cfg.Reply), nil
	})
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
