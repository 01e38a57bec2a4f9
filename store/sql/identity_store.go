package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-contact-sync/core"
)

var ErrMappingExists = errors.New("sqlstore: identity mapping already exists")

// IdentityStore persists golden records and the identity map. Every lookup
// is bounded to one user.
type IdentityStore struct {
	db bun.IDB
}

func NewIdentityStore(db bun.IDB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) FindMapping(ctx context.Context, userID string, providerID string, providerContactID string) (core.IdentityMapEntry, bool, error) {
	if s == nil || s.db == nil {
		return core.IdentityMapEntry{}, false, fmt.Errorf("sqlstore: identity store is not configured")
	}
	record := &identityMapRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.provider_contact_id = ?", strings.TrimSpace(providerContactID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.IdentityMapEntry{}, false, nil
		}
		return core.IdentityMapEntry{}, false, err
	}
	return record.toDomain(), true, nil
}

// FindGoldenRecordByEmail matches on trimmed lower-case email. When several
// records share the address the oldest wins.
func (s *IdentityStore) FindGoldenRecordByEmail(ctx context.Context, userID string, email string) (core.GoldenRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.GoldenRecord{}, false, fmt.Errorf("sqlstore: identity store is not configured")
	}
	normalized := core.NormalizeEmail(email)
	if normalized == "" {
		return core.GoldenRecord{}, false, nil
	}
	record := &goldenRecordRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.email IS NOT NULL").
		Where("LOWER(TRIM(?TableAlias.email)) = ?", normalized).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.GoldenRecord{}, false, nil
		}
		return core.GoldenRecord{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *IdentityStore) GetGoldenRecord(ctx context.Context, userID string, id string) (core.GoldenRecord, error) {
	if s == nil || s.db == nil {
		return core.GoldenRecord{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	return getGoldenRecord(ctx, s.db, userID, id)
}

func (s *IdentityStore) CreateGoldenRecord(ctx context.Context, record core.GoldenRecord) (core.GoldenRecord, error) {
	if s == nil || s.db == nil {
		return core.GoldenRecord{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	if strings.TrimSpace(record.UserID) == "" {
		return core.GoldenRecord{}, core.NewValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.SystemUpdatedAt.IsZero() {
		record.SystemUpdatedAt = now
	}
	row := newGoldenRecordRecord(record)
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return core.GoldenRecord{}, err
	}
	return row.toDomain(), nil
}

func (s *IdentityStore) UpdateGoldenRecord(ctx context.Context, record core.GoldenRecord) (core.GoldenRecord, error) {
	if s == nil || s.db == nil {
		return core.GoldenRecord{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	row := newGoldenRecordRecord(record)
	res, err := s.db.NewUpdate().
		Model(row).
		Column("email", "first_name", "last_name", "phone", "source_updated_at", "system_updated_at").
		Where("id = ?", row.ID).
		Where("user_id = ?", row.UserID).
		Exec(ctx)
	if err != nil {
		return core.GoldenRecord{}, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return core.GoldenRecord{}, core.NewNotFoundError("golden_record", row.ID)
	}
	return row.toDomain(), nil
}

func (s *IdentityStore) InsertMapping(ctx context.Context, entry core.IdentityMapEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: identity store is not configured")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := &identityMapRecord{
		GoldenRecordID:    strings.TrimSpace(entry.GoldenRecordID),
		ProviderID:        strings.TrimSpace(entry.ProviderID),
		ProviderContactID: strings.TrimSpace(entry.ProviderContactID),
		UserID:            strings.TrimSpace(entry.UserID),
		ConnectionID:      strings.TrimSpace(entry.ConnectionID),
		CreatedAt:         createdAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", ErrMappingExists, record.ProviderID, record.ProviderContactID)
		}
		return err
	}
	return nil
}

func getGoldenRecord(ctx context.Context, db bun.IDB, userID string, id string) (core.GoldenRecord, error) {
	id = strings.TrimSpace(id)
	record := &goldenRecordRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.GoldenRecord{}, core.NewNotFoundError("golden_record", id)
		}
		return core.GoldenRecord{}, err
	}
	return record.toDomain(), nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
