package contactsync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-contact-sync/adapters/gologger"
	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/jobs"
	"github.com/goliatone/go-contact-sync/ratelimit"
	sqlstore "github.com/goliatone/go-contact-sync/store/sql"
	syncer "github.com/goliatone/go-contact-sync/sync"
)

// RuntimeDependencies are the host-owned pieces of a runtime. Persistence
// and Vault are required. Everything else has an in-process default.
type RuntimeDependencies struct {
	// Persistence is a *bun.DB or a go-persistence-bun client.
	Persistence any
	Vault       core.CredentialVault
	// Registry defaults to NewProviderRegistry(cfg) with Hooks and HTTPClient.
	Registry   core.Registry
	Hooks      *ExtensionHooks
	HTTPClient *http.Client
	// Enqueuer defaults to an InlineQueue that runs tasks immediately.
	Enqueuer core.JobEnqueuer
	Locker   core.ConnectionLocker
	// RateLimit defaults to an in-memory adaptive policy per runtime.
	RateLimit core.RateLimitPolicy
	// Cache enables the cached golden-record list.
	Cache          repositorycache.CacheService
	LoggerProvider core.LoggerProvider
	Logger         core.Logger
	Metrics        core.MetricsRecorder
	Clock          func() time.Time
}

// Runtime is the wired object graph shared by the CLI, workers and
// embedding hosts.
type Runtime struct {
	Config       core.Config
	Stores       *sqlstore.RepositoryFactory
	Registry     core.Registry
	Service      *core.Service
	Orchestrator *syncer.Orchestrator
	Contacts     core.ContactReader
	Sweeper      *jobs.Sweeper
	Handlers     *jobs.Handlers
	Enqueuer     core.JobEnqueuer
	// Inline is set when no external queue was supplied.
	Inline *jobs.InlineQueue
	Facade *Facade

	components gologger.Components
}

func NewRuntime(cfg core.Config, deps RuntimeDependencies) (*Runtime, error) {
	if deps.Persistence == nil {
		return nil, fmt.Errorf("contactsync: persistence is required")
	}
	if deps.Vault == nil {
		return nil, fmt.Errorf("contactsync: credential vault is required")
	}
	components := gologger.NewComponents(deps.LoggerProvider, deps.Logger, deps.Metrics)

	stores := sqlstore.NewRepositoryFactory()
	if err := stores.BuildStores(deps.Persistence); err != nil {
		return nil, err
	}

	registry := deps.Registry
	if registry == nil {
		rateLimit := deps.RateLimit
		if rateLimit == nil {
			rateLimit = ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
		}
		built, err := NewProviderRegistry(cfg,
			WithExtensionHooks(deps.Hooks),
			WithProviderHTTPClient(deps.HTTPClient),
			WithRateLimitPolicy(rateLimit),
		)
		if err != nil {
			return nil, err
		}
		registry = built
	}

	rt := &Runtime{Stores: stores, Registry: registry, components: components}

	enqueuer := deps.Enqueuer
	if enqueuer == nil {
		rt.Inline = jobs.NewInlineQueue(nil, components.Observer("jobs", "contact_sync.jobs"))
		enqueuer = rt.Inline
	}
	rt.Enqueuer = enqueuer

	opts := []core.Option{
		core.WithRegistry(registry),
		core.WithConnectionStore(stores.ConnectionStore()),
		core.WithVault(deps.Vault),
		core.WithJobEnqueuer(enqueuer),
		core.WithLoggerProvider(components.Provider),
	}
	if deps.Metrics != nil {
		opts = append(opts, core.WithMetricsRecorder(deps.Metrics))
	}
	if deps.Locker != nil {
		opts = append(opts, core.WithConnectionLocker(deps.Locker))
	}
	if deps.Clock != nil {
		opts = append(opts, core.WithClock(deps.Clock))
	}
	service, err := core.NewService(cfg, opts...)
	if err != nil {
		return nil, err
	}
	rt.Service = service
	rt.Config = service.Config()

	var contacts core.ContactReader = stores.ContactReader()
	orchestratorOpts := []syncer.Option{
		syncer.WithObserver(components.Observer("sync", "contact_sync.sync")),
	}
	if deps.Cache != nil {
		cached, err := sqlstore.NewCachedContactReader(contacts, deps.Cache)
		if err != nil {
			return nil, err
		}
		contacts = cached
		orchestratorOpts = append(orchestratorOpts, syncer.WithCacheInvalidator(cached))
	}
	if deps.Clock != nil {
		orchestratorOpts = append(orchestratorOpts, syncer.WithClock(deps.Clock))
	}
	rt.Contacts = contacts

	orchestrator, err := syncer.NewOrchestrator(service, registry, stores.TxRunner(), orchestratorOpts...)
	if err != nil {
		return nil, err
	}
	rt.Orchestrator = orchestrator

	sweeperOpts := []jobs.SweeperOption{
		jobs.WithSweepWindow(rt.Config.Refresh.SweepWindow),
		jobs.WithSweeperObserver(components.Observer("jobs", "contact_sync.jobs")),
	}
	if deps.Clock != nil {
		sweeperOpts = append(sweeperOpts, jobs.WithSweeperClock(deps.Clock))
	}
	sweeper, err := jobs.NewSweeper(stores.ConnectionStore(), enqueuer, sweeperOpts...)
	if err != nil {
		return nil, err
	}
	rt.Sweeper = sweeper

	handlers, err := jobs.NewHandlers(orchestrator, service, sweeper)
	if err != nil {
		return nil, err
	}
	rt.Handlers = handlers
	if rt.Inline != nil {
		rt.Inline.SetHandler(handlers)
	}

	facade, err := NewFacade(service, WithSyncService(orchestrator), WithContactReader(contacts))
	if err != nil {
		return nil, err
	}
	rt.Facade = facade
	return rt, nil
}

// Observer returns an observer for a named subsystem of this runtime.
func (r *Runtime) Observer(component string) core.Observer {
	return r.components.Observer(component, "contact_sync."+component)
}

// NewRunner builds a worker pool that executes tasks pulled from dequeuer.
func (r *Runtime) NewRunner(dequeuer core.JobDequeuer, opts ...jobs.RunnerOption) (*jobs.Runner, error) {
	opts = append([]jobs.RunnerOption{jobs.WithRunnerObserver(r.Observer("jobs"))}, opts...)
	return jobs.NewRunner(dequeuer, r.Handlers, r.Config, opts...)
}

// NewScheduler builds the cron scheduler for the sweep tasks.
func (r *Runtime) NewScheduler() (*jobs.Scheduler, error) {
	return jobs.NewScheduler(r.Config, r.Enqueuer, r.Observer("scheduler"))
}

// SyncNow runs a connection sync in the calling goroutine.
func (r *Runtime) SyncNow(ctx context.Context, connectionID string) (core.SyncResult, error) {
	return r.Orchestrator.SyncConnection(ctx, connectionID)
}
