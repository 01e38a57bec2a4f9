package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-contact-sync/core"
)

// UserStore manages the owner rows the cascades hang off.
type UserStore struct {
	db bun.IDB
}

func NewUserStore(db bun.IDB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, email string) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return core.User{}, core.NewValidationError("email", "email is required")
	}
	now := time.Now().UTC()
	record := &userRecord{ID: uuid.NewString(), Email: email, CreatedAt: now, UpdatedAt: now}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.User{}, core.NewBadInputError(fmt.Sprintf("sqlstore: user with email %q already exists", email))
		}
		return core.User{}, err
	}
	return core.User{ID: record.ID, Email: record.Email, CreatedAt: record.CreatedAt}, nil
}

// Delete removes the user and, through cascades, every connection, source
// row, golden record and identity-map entry they own.
func (s *UserStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	id = strings.TrimSpace(id)
	res, err := s.db.NewDelete().Model((*userRecord)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return core.NewNotFoundError("user", id)
	}
	return nil
}
