package contactsync

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/providers/hubspot"
	"github.com/goliatone/go-contact-sync/providers/pipedrive"
	"github.com/goliatone/go-contact-sync/providers/zendesk"
	"github.com/goliatone/go-contact-sync/ratelimit"
)

// ProviderFactory builds a provider from its config block. client is nil
// unless the host supplied one.
type ProviderFactory func(cfg core.ProviderConfig, client *http.Client) (core.Provider, error)

func HubSpotProvider(cfg core.ProviderConfig, client *http.Client) (core.Provider, error) {
	return hubspot.New(hubspot.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		HTTPClient:   client,
	})
}

func PipedriveProvider(cfg core.ProviderConfig, client *http.Client) (core.Provider, error) {
	return pipedrive.New(pipedrive.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		HTTPClient:   client,
	})
}

func ZendeskProvider(cfg core.ProviderConfig, client *http.Client) (core.Provider, error) {
	return zendesk.New(zendesk.Config{
		Subdomain:    cfg.Subdomain,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		HTTPClient:   client,
	})
}

// BuiltinProviderFactories maps each bundled provider id to its factory.
func BuiltinProviderFactories() map[string]ProviderFactory {
	return map[string]ProviderFactory{
		hubspot.ProviderID:   HubSpotProvider,
		pipedrive.ProviderID: PipedriveProvider,
		zendesk.ProviderID:   ZendeskProvider,
	}
}

type RegistryOption func(*registryOptions)

type registryOptions struct {
	client    *http.Client
	hooks     *ExtensionHooks
	rateLimit core.RateLimitPolicy
}

// WithProviderHTTPClient routes every provider's OAuth and API traffic
// through client.
func WithProviderHTTPClient(client *http.Client) RegistryOption {
	return func(o *registryOptions) {
		o.client = client
	}
}

// WithExtensionHooks adds host factories and provider packs to the registry.
func WithExtensionHooks(hooks *ExtensionHooks) RegistryOption {
	return func(o *registryOptions) {
		o.hooks = hooks
	}
}

// WithRateLimitPolicy gives each provider a client that holds calls back
// while its quota bucket is throttled.
func WithRateLimitPolicy(policy core.RateLimitPolicy) RegistryOption {
	return func(o *registryOptions) {
		o.rateLimit = policy
	}
}

// NewProviderRegistry builds one provider per non-empty block under
// cfg.Providers. A block naming an id without a factory is an error.
func NewProviderRegistry(cfg core.Config, opts ...RegistryOption) (*core.ProviderRegistry, error) {
	options := registryOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	factories := BuiltinProviderFactories()
	for id, factory := range options.hooks.ProviderFactories() {
		factories[id] = factory
	}

	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	registry, err := core.NewProviderRegistry()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		providerCfg := cfg.Providers[id]
		if providerCfg.IsZero() {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(id))
		factory, ok := factories[key]
		if !ok {
			return nil, &core.UnknownProviderError{ProviderID: key}
		}
		client := options.client
		if options.rateLimit != nil {
			client = ratelimit.WrapClient(client, key, options.rateLimit)
		}
		provider, err := factory(providerCfg, client)
		if err != nil {
			return nil, fmt.Errorf("contactsync: build provider %q: %w", key, err)
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}
	if err := options.hooks.ApplyProviderPacks(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
