package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderRegistry maps provider ids to adapters. It is built once at startup
// and is safe for concurrent reads afterwards.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewProviderRegistry(providers ...Provider) (*ProviderRegistry, error) {
	registry := &ProviderRegistry{providers: make(map[string]Provider)}
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *ProviderRegistry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("core: provider is required")
	}
	id := strings.TrimSpace(provider.ID())
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	r.providers[id] = provider
	return nil
}

func (r *ProviderRegistry) Get(providerID string) (Provider, bool) {
	id := strings.TrimSpace(providerID)
	if r == nil || id == "" {
		return nil, false
	}
	r.mu.RLock()
	provider, ok := r.providers[id]
	r.mu.RUnlock()
	return provider, ok
}

// Resolve is Get with an UnknownProviderError for missing ids.
func (r *ProviderRegistry) Resolve(providerID string) (Provider, error) {
	provider, ok := r.Get(providerID)
	if !ok {
		return nil, &UnknownProviderError{ProviderID: strings.TrimSpace(providerID)}
	}
	return provider, nil
}

func (r *ProviderRegistry) List() []Provider {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for id := range r.providers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	providers := make([]Provider, 0, len(keys))
	for _, id := range keys {
		providers = append(providers, r.providers[id])
	}
	return providers
}

func resolveProvider(registry Registry, providerID string) (Provider, error) {
	if registry == nil {
		return nil, &UnknownProviderError{ProviderID: strings.TrimSpace(providerID)}
	}
	provider, ok := registry.Get(providerID)
	if !ok || provider == nil {
		return nil, &UnknownProviderError{ProviderID: strings.TrimSpace(providerID)}
	}
	return provider, nil
}
