// Package identity resolves provider contacts onto per-user golden records.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-contact-sync/core"
)

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// Resolver matches a contact by identity-map entry, then by email, and
// otherwise creates a golden record. Matches are never made across users.
type Resolver struct {
	store core.IdentityStore
	now   func() time.Time
}

func NewResolver(store core.IdentityStore, opts ...Option) *Resolver {
	resolver := &Resolver{
		store: store,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(resolver)
		}
	}
	return resolver
}

func (r *Resolver) Resolve(ctx context.Context, userID string, connectionID string, contact core.SourceContact) (core.ResolveResult, error) {
	if r == nil || r.store == nil {
		return core.ResolveResult{}, fmt.Errorf("identity: resolver store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.ResolveResult{}, core.NewValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(contact.ProviderID) == "" || strings.TrimSpace(contact.ProviderContactID) == "" {
		return core.ResolveResult{}, core.NewValidationError("provider_contact_id", "provider and provider contact id are required")
	}

	mapping, found, err := r.store.FindMapping(ctx, userID, contact.ProviderID, contact.ProviderContactID)
	if err != nil {
		return core.ResolveResult{}, err
	}
	if found {
		current, err := r.store.GetGoldenRecord(ctx, userID, mapping.GoldenRecordID)
		if err != nil {
			return core.ResolveResult{}, err
		}
		applied, err := r.apply(ctx, current, contact)
		if err != nil {
			return core.ResolveResult{}, err
		}
		return core.ResolveResult{GoldenRecordID: current.ID, Outcome: core.ResolutionMatchedMapping, Applied: applied}, nil
	}

	if email := core.NormalizeEmail(core.StringValue(contact.Email)); email != "" {
		current, found, err := r.store.FindGoldenRecordByEmail(ctx, userID, email)
		if err != nil {
			return core.ResolveResult{}, err
		}
		if found {
			if err := r.link(ctx, current.ID, userID, connectionID, contact); err != nil {
				return core.ResolveResult{}, err
			}
			applied, err := r.apply(ctx, current, contact)
			if err != nil {
				return core.ResolveResult{}, err
			}
			return core.ResolveResult{GoldenRecordID: current.ID, Outcome: core.ResolutionMatchedEmail, Applied: applied}, nil
		}
	}

	now := r.now()
	created, err := r.store.CreateGoldenRecord(ctx, core.GoldenRecord{
		UserID:          userID,
		Email:           contact.Email,
		FirstName:       contact.FirstName,
		LastName:        contact.LastName,
		Phone:           contact.Phone,
		SourceUpdatedAt: contact.SourceUpdatedAt,
		SystemUpdatedAt: now,
		CreatedAt:       now,
	})
	if err != nil {
		return core.ResolveResult{}, err
	}
	if err := r.link(ctx, created.ID, userID, connectionID, contact); err != nil {
		return core.ResolveResult{}, err
	}
	return core.ResolveResult{GoldenRecordID: created.ID, Outcome: core.ResolutionCreated, Applied: true}, nil
}

func (r *Resolver) link(ctx context.Context, goldenRecordID string, userID string, connectionID string, contact core.SourceContact) error {
	return r.store.InsertMapping(ctx, core.IdentityMapEntry{
		GoldenRecordID:    goldenRecordID,
		UserID:            userID,
		ConnectionID:      connectionID,
		ProviderID:        contact.ProviderID,
		ProviderContactID: contact.ProviderContactID,
		CreatedAt:         r.now(),
	})
}

func (r *Resolver) apply(ctx context.Context, current core.GoldenRecord, contact core.SourceContact) (bool, error) {
	merged, applied := Merge(current, contact, r.now())
	if !applied {
		return false, nil
	}
	if _, err := r.store.UpdateGoldenRecord(ctx, merged); err != nil {
		return false, err
	}
	return true, nil
}

// Merge applies incoming onto current unless incoming is strictly older.
// Missing timestamps count as the epoch and equal timestamps apply. Only
// non-nil incoming fields overwrite, so a field is never blanked.
func Merge(current core.GoldenRecord, incoming core.SourceContact, now time.Time) (core.GoldenRecord, bool) {
	if timestampOf(incoming.SourceUpdatedAt).Before(timestampOf(current.SourceUpdatedAt)) {
		return current, false
	}
	merged := current
	if incoming.Email != nil {
		merged.Email = copyString(incoming.Email)
	}
	if incoming.FirstName != nil {
		merged.FirstName = copyString(incoming.FirstName)
	}
	if incoming.LastName != nil {
		merged.LastName = copyString(incoming.LastName)
	}
	if incoming.Phone != nil {
		merged.Phone = copyString(incoming.Phone)
	}
	if incoming.SourceUpdatedAt != nil {
		at := incoming.SourceUpdatedAt.UTC()
		merged.SourceUpdatedAt = &at
	}
	merged.SystemUpdatedAt = now.UTC()
	return merged, true
}

func timestampOf(value *time.Time) time.Time {
	if value == nil {
		return time.Unix(0, 0).UTC()
	}
	return value.UTC()
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
