package sync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/identity"
)

// Orchestrator runs one full pull of a connection: contacts through identity
// resolution, then interactions.
type Orchestrator struct {
	lifecycle core.ConnectionLifecycle
	registry  core.Registry
	tx        core.TxRunner
	cache     core.ContactCacheInvalidator
	observer  core.Observer
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithCacheInvalidator(cache core.ContactCacheInvalidator) Option {
	return func(o *Orchestrator) {
		o.cache = cache
	}
}

func WithObserver(observer core.Observer) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func NewOrchestrator(
	lifecycle core.ConnectionLifecycle,
	registry core.Registry,
	tx core.TxRunner,
	opts ...Option,
) (*Orchestrator, error) {
	if lifecycle == nil {
		return nil, errors.New("sync: connection lifecycle is required")
	}
	if registry == nil {
		return nil, errors.New("sync: provider registry is required")
	}
	if tx == nil {
		return nil, errors.New("sync: tx runner is required")
	}
	o := &Orchestrator{
		lifecycle: lifecycle,
		registry:  registry,
		tx:        tx,
		observer:  core.NewObserver("contact_sync", nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// SyncConnection pulls every contact and interaction for connectionID.
// Missing or inactive connections are skipped without error. A fetch error
// aborts the run; rows written before it stay committed.
func (o *Orchestrator) SyncConnection(ctx context.Context, connectionID string) (result core.SyncResult, err error) {
	connectionID = strings.TrimSpace(connectionID)
	result = core.SyncResult{ConnectionID: connectionID, StartedAt: o.now()}
	fields := map[string]any{"connection_id": connectionID}
	defer func() {
		result.FinishedAt = o.now()
		fields["skipped"] = result.Skipped
		fields["contacts_fetched"] = result.ContactsFetched
		fields["interactions_fetched"] = result.InteractionsFetched
		fields["golden_created"] = result.GoldenCreated
		o.observer.Observe(ctx, result.StartedAt, "sync_connection", err, fields)
	}()

	if connectionID == "" {
		return result, core.NewValidationError("connection_id", "connection id is required")
	}

	connection, err := o.lifecycle.Connection(ctx, connectionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			result.Skipped = true
			return result, nil
		}
		return result, err
	}
	result.ProviderID = connection.ProviderID
	result.UserID = connection.UserID
	fields["provider_id"] = connection.ProviderID
	fields["user_id"] = connection.UserID
	if !connection.IsActive() {
		result.Skipped = true
		return result, nil
	}

	provider, ok := o.registry.Get(connection.ProviderID)
	if !ok || provider == nil {
		err = &core.UnknownProviderError{ProviderID: connection.ProviderID}
		o.markResult(ctx, connectionID, err)
		return result, err
	}

	err = o.run(ctx, provider, connection, &result)
	o.invalidate(ctx, connection.UserID)
	o.markResult(ctx, connectionID, err)
	return result, err
}

func (o *Orchestrator) run(
	ctx context.Context,
	provider core.Provider,
	connection core.Connection,
	result *core.SyncResult,
) error {
	cred, refreshed, err := o.lifecycle.EnsureFreshToken(ctx, connection.ID)
	if err != nil {
		return err
	}
	result.TokenRefreshed = refreshed

	for raw, fetchErr := range provider.FetchContacts(ctx, cred) {
		if fetchErr != nil {
			return fetchErr
		}
		result.ContactsFetched++
		contact := provider.NormalizeContact(raw)
		contact.ConnectionID = connection.ID
		contact.ProviderID = connection.ProviderID
		contact.SystemUpdatedAt = o.now()

		var resolved core.ResolveResult
		err := o.tx.RunInTx(ctx, func(ctx context.Context, stores core.SyncStores) error {
			if _, err := stores.Sources().UpsertContact(ctx, contact); err != nil {
				return err
			}
			resolver := identity.NewResolver(stores.Identities(), identity.WithClock(o.now))
			var err error
			resolved, err = resolver.Resolve(ctx, connection.UserID, connection.ID, contact)
			return err
		})
		if err != nil {
			return err
		}
		result.Record(resolved.Outcome)
	}

	for raw, fetchErr := range provider.FetchInteractions(ctx, cred) {
		if fetchErr != nil {
			return fetchErr
		}
		result.InteractionsFetched++
		interaction := provider.NormalizeInteraction(raw)
		interaction.ConnectionID = connection.ID
		interaction.ProviderID = connection.ProviderID
		interaction.SystemUpdatedAt = o.now()

		err := o.tx.RunInTx(ctx, func(ctx context.Context, stores core.SyncStores) error {
			_, err := stores.Sources().UpsertInteraction(ctx, interaction)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) invalidate(ctx context.Context, userID string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.InvalidateUser(ctx, userID); err != nil {
		o.observer.Warn(ctx, "golden record cache invalidation failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func (o *Orchestrator) markResult(ctx context.Context, connectionID string, syncErr error) {
	if err := o.lifecycle.MarkSyncResult(ctx, connectionID, syncErr); err != nil {
		o.observer.Warn(ctx, "sync status update failed", map[string]any{
			"connection_id": connectionID,
			"error":         err.Error(),
		})
	}
}
