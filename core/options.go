package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig    Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	registry         Registry
	connectionStore  ConnectionStore
	vault            CredentialVault
	connectionLocker ConnectionLocker
	jobEnqueuer      JobEnqueuer
	clock            func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithVault(vault CredentialVault) Option {
	return func(b *serviceBuilder) {
		b.vault = vault
	}
}

// WithConnectionLocker guards refreshes across processes. Without it only
// in-process callers are deduplicated.
func WithConnectionLocker(locker ConnectionLocker) Option {
	return func(b *serviceBuilder) {
		b.connectionLocker = locker
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("contact-sync", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           time.Now,
	}
}

// StaticRawConfigLoader serves a fixed raw map, mostly for tests and for
// hosts that already parsed their configuration.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.Values), nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig runs the default provider and resolver chain without building
// a service, for entry points that need the resolved values up front.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	refresh := map[string]any{}
	putDuration(refresh, "lead_window", cfg.Refresh.LeadWindow, includeZero)
	putDuration(refresh, "sweep_window", cfg.Refresh.SweepWindow, includeZero)
	putDuration(refresh, "lock_ttl", cfg.Refresh.LockTTL, includeZero)
	if len(refresh) > 0 {
		layer["refresh"] = refresh
	}

	jobs := map[string]any{}
	for key, policy := range map[string]TaskPolicy{
		"sync":          cfg.Jobs.Sync,
		"token_refresh": cfg.Jobs.TokenRefresh,
		"scheduler":     cfg.Jobs.Scheduler,
	} {
		if entry := taskPolicyLayer(policy, includeZero); len(entry) > 0 {
			jobs[key] = entry
		}
	}
	if len(jobs) > 0 {
		layer["jobs"] = jobs
	}

	cache := map[string]any{}
	putDuration(cache, "golden_records_ttl", cfg.Cache.GoldenRecordsTTL, includeZero)
	if len(cache) > 0 {
		layer["cache"] = cache
	}

	if len(cfg.Providers) > 0 {
		providers := map[string]any{}
		for id, provider := range cfg.Providers {
			if provider.IsZero() {
				continue
			}
			providers[strings.TrimSpace(id)] = map[string]any{
				"client_id":     provider.ClientID,
				"client_secret": provider.ClientSecret,
				"redirect_url":  provider.RedirectURL,
				"subdomain":     provider.Subdomain,
				"scopes":        append([]string(nil), provider.Scopes...),
			}
		}
		if len(providers) > 0 {
			layer["providers"] = providers
		}
	}
	return layer
}

func taskPolicyLayer(policy TaskPolicy, includeZero bool) map[string]any {
	entry := map[string]any{}
	if includeZero || policy.RetryLimit != 0 {
		entry["retry_limit"] = policy.RetryLimit
	}
	putDuration(entry, "retry_delay", policy.RetryDelay, includeZero)
	if includeZero || policy.Backoff {
		entry["backoff"] = policy.Backoff
	}
	putDuration(entry, "expire", policy.Expire, includeZero)
	if includeZero || strings.TrimSpace(policy.Schedule) != "" {
		entry["schedule"] = policy.Schedule
	}
	return entry
}

func putDuration(layer map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}
