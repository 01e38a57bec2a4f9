package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-contact-sync/core"
)

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{db: db, repo: repo}, nil
}

// Upsert creates the connection for (user, provider) or replaces its tokens
// and reactivates it.
func (s *ConnectionStore) Upsert(ctx context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	userID := strings.TrimSpace(in.UserID)
	providerID := strings.TrimSpace(in.ProviderID)
	if userID == "" {
		return core.Connection{}, core.NewValidationError("user_id", "user id is required")
	}
	if providerID == "" {
		return core.Connection{}, core.NewValidationError("provider_id", "provider id is required")
	}
	status := in.Status
	if strings.TrimSpace(string(status)) == "" {
		status = core.ConnectionStatusActive
	}

	now := time.Now().UTC()
	record := &connectionRecord{
		ID:                    uuid.NewString(),
		UserID:                userID,
		ProviderID:            providerID,
		AccessTokenEncrypted:  in.EncryptedAccessToken,
		RefreshTokenEncrypted: in.EncryptedRefreshToken,
		TokenExpiresAt:        utcPtr(in.TokenExpiresAt),
		Status:                string(status),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	var stored connectionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(record).
			On("CONFLICT (user_id, provider_id) DO UPDATE").
			Set("access_token_encrypted = EXCLUDED.access_token_encrypted").
			Set("refresh_token_encrypted = EXCLUDED.refresh_token_encrypted").
			Set("token_expires_at = EXCLUDED.token_expires_at").
			Set("status = EXCLUDED.status").
			Set("last_error = ''").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return err
		}
		return tx.NewSelect().
			Model(&stored).
			Where("?TableAlias.user_id = ?", userID).
			Where("?TableAlias.provider_id = ?", providerID).
			Limit(1).
			Scan(ctx)
	})
	if err != nil {
		return core.Connection{}, err
	}
	return stored.toDomain(), nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	return s.load(ctx, id, "")
}

// GetForUser returns NotFound both for missing rows and rows owned by
// another user.
func (s *ConnectionStore) GetForUser(ctx context.Context, id string, userID string) (core.Connection, error) {
	if strings.TrimSpace(userID) == "" {
		return core.Connection{}, core.NewValidationError("user_id", "user id is required")
	}
	return s.load(ctx, id, userID)
}

func (s *ConnectionStore) load(ctx context.Context, id string, userID string) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Connection{}, core.NewValidationError("connection_id", "connection id is required")
	}
	record := &connectionRecord{}
	query := s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", id)
	if userID = strings.TrimSpace(userID); userID != "" {
		query = query.Where("?TableAlias.user_id = ?", userID)
	}
	if err := query.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Connection{}, core.NewNotFoundError("connection", id)
		}
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) ListByUser(ctx context.Context, userID string) ([]core.Connection, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, core.NewValidationError("user_id", "user id is required")
	}
	return s.list(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("created_at ASC"),
	)
}

func (s *ConnectionStore) ListActive(ctx context.Context) ([]core.Connection, error) {
	return s.list(ctx,
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.OrderBy("created_at ASC"),
	)
}

// ListExpiringBefore returns active connections with a known expiry earlier
// than before. Connections without an expiry never appear.
func (s *ConnectionStore) ListExpiringBefore(ctx context.Context, before time.Time) ([]core.Connection, error) {
	return s.list(ctx,
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.token_expires_at IS NOT NULL").
				Where("?TableAlias.token_expires_at < ?", before.UTC())
		}),
		repository.OrderBy("token_expires_at ASC"),
	)
}

func (s *ConnectionStore) list(ctx context.Context, criteria ...repository.SelectCriteria) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// UpdateTokens writes only the credential columns so a concurrent sync
// status update is never overwritten.
func (s *ConnectionStore) UpdateTokens(ctx context.Context, id string, in core.UpdateTokensInput) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Connection{}, core.NewValidationError("connection_id", "connection id is required")
	}
	record := &connectionRecord{
		ID:                    id,
		AccessTokenEncrypted:  in.EncryptedAccessToken,
		RefreshTokenEncrypted: in.EncryptedRefreshToken,
		TokenExpiresAt:        utcPtr(in.TokenExpiresAt),
		UpdatedAt:             time.Now().UTC(),
	}
	res, err := s.db.NewUpdate().
		Model(record).
		Column("access_token_encrypted", "refresh_token_encrypted", "token_expires_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return core.Connection{}, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return core.Connection{}, core.NewNotFoundError("connection", id)
	}
	return s.load(ctx, id, "")
}

// UpdateSyncStatus records the outcome of a sync run. A nil syncedAt keeps
// the previous successful sync time.
func (s *ConnectionStore) UpdateSyncStatus(ctx context.Context, id string, syncedAt *time.Time, lastError string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.NewValidationError("connection_id", "connection id is required")
	}
	query := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("last_error = ?", strings.TrimSpace(lastError)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if syncedAt != nil {
		query = query.Set("last_synced_at = ?", syncedAt.UTC())
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return core.NewNotFoundError("connection", id)
	}
	return nil
}

// Delete removes the connection; source rows and identity-map entries go
// with it through FK cascades.
func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.NewValidationError("connection_id", "connection id is required")
	}
	_, err := s.db.NewDelete().Model((*connectionRecord)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}
