package contactsync

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-contact-sync/core"
)

// ProviderPack is a named set of ready-built providers.
type ProviderPack struct {
	Name      string
	Providers []core.Provider
}

// ExtensionHooks lets a host add CRM providers beyond the bundled ones,
// either as config-driven factories or as prebuilt packs. A nil
// *ExtensionHooks is valid and contributes nothing.
type ExtensionHooks struct {
	mu sync.RWMutex

	factories     map[string]ProviderFactory
	providerPacks map[string]ProviderPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		factories:     map[string]ProviderFactory{},
		providerPacks: map[string]ProviderPack{},
	}
}

// RegisterProviderFactory binds a factory to a provider id. It replaces a
// bundled factory with the same id when the registry is built.
func (h *ExtensionHooks) RegisterProviderFactory(providerID string, factory ProviderFactory) error {
	if h == nil {
		return fmt.Errorf("contactsync: extension hooks are nil")
	}
	providerID = strings.ToLower(strings.TrimSpace(providerID))
	if providerID == "" {
		return fmt.Errorf("contactsync: provider factory id is required")
	}
	if factory == nil {
		return fmt.Errorf("contactsync: provider factory %q is nil", providerID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.factories[providerID]; exists {
		return fmt.Errorf("contactsync: provider factory %q already registered", providerID)
	}
	h.factories[providerID] = factory
	return nil
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("contactsync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("contactsync: provider pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("contactsync: provider pack %q has no providers", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providerPacks[name]; exists {
		return fmt.Errorf("contactsync: provider pack %q already registered", name)
	}
	h.providerPacks[name] = ProviderPack{
		Name:      name,
		Providers: append([]core.Provider(nil), pack.Providers...),
	}
	return nil
}

func (h *ExtensionHooks) ProviderFactories() map[string]ProviderFactory {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return maps.Clone(h.factories)
}

// ProviderPacks returns the packs sorted by name.
func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.providerPacks))
	for name := range h.providerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProviderPack, 0, len(names))
	for _, name := range names {
		pack := h.providerPacks[name]
		out = append(out, ProviderPack{
			Name:      pack.Name,
			Providers: append([]core.Provider(nil), pack.Providers...),
		})
	}
	return out
}

func (h *ExtensionHooks) ApplyProviderPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("contactsync: registry is required")
	}
	for _, pack := range h.ProviderPacks() {
		for _, provider := range pack.Providers {
			if provider == nil {
				return fmt.Errorf("contactsync: provider pack %q contains nil provider", pack.Name)
			}
			if err := registry.Register(provider); err != nil {
				return err
			}
		}
	}
	return nil
}
