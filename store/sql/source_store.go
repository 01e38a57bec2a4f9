package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-contact-sync/core"
)

// SourceStore keeps the latest provider-native snapshot of every contact and
// interaction. Rows are keyed by connection so disconnect cascades them away.
type SourceStore struct {
	db bun.IDB
}

func NewSourceStore(db bun.IDB) *SourceStore {
	return &SourceStore{db: db}
}

func (s *SourceStore) UpsertContact(ctx context.Context, contact core.SourceContact) (core.SourceContact, error) {
	if s == nil || s.db == nil {
		return core.SourceContact{}, fmt.Errorf("sqlstore: source store is not configured")
	}
	contact.ConnectionID = strings.TrimSpace(contact.ConnectionID)
	contact.ProviderContactID = strings.TrimSpace(contact.ProviderContactID)
	if contact.ConnectionID == "" {
		return core.SourceContact{}, core.NewValidationError("connection_id", "connection id is required")
	}
	if contact.ProviderContactID == "" {
		return core.SourceContact{}, core.NewValidationError("provider_contact_id", "provider contact id is required")
	}
	if contact.SystemUpdatedAt.IsZero() {
		contact.SystemUpdatedAt = time.Now().UTC()
	}
	record := newSourceContactRecord(contact)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (connection_id, provider_contact_id) DO UPDATE").
		Set("provider_id = EXCLUDED.provider_id").
		Set("category = EXCLUDED.category").
		Set("email = EXCLUDED.email").
		Set("phone = EXCLUDED.phone").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("company_name = EXCLUDED.company_name").
		Set("job_title = EXCLUDED.job_title").
		Set("raw = EXCLUDED.raw").
		Set("source_updated_at = EXCLUDED.source_updated_at").
		Set("system_updated_at = EXCLUDED.system_updated_at").
		Exec(ctx)
	if err != nil {
		return core.SourceContact{}, err
	}
	return record.toDomain(), nil
}

func (s *SourceStore) UpsertInteraction(ctx context.Context, interaction core.SourceInteraction) (core.SourceInteraction, error) {
	if s == nil || s.db == nil {
		return core.SourceInteraction{}, fmt.Errorf("sqlstore: source store is not configured")
	}
	interaction.ConnectionID = strings.TrimSpace(interaction.ConnectionID)
	interaction.InteractionID = strings.TrimSpace(interaction.InteractionID)
	if interaction.ConnectionID == "" {
		return core.SourceInteraction{}, core.NewValidationError("connection_id", "connection id is required")
	}
	if interaction.InteractionID == "" {
		return core.SourceInteraction{}, core.NewValidationError("interaction_id", "interaction id is required")
	}
	if interaction.SystemUpdatedAt.IsZero() {
		interaction.SystemUpdatedAt = time.Now().UTC()
	}
	record := newSourceInteractionRecord(interaction)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (connection_id, interaction_id) DO UPDATE").
		Set("provider_id = EXCLUDED.provider_id").
		Set("provider_contact_id = EXCLUDED.provider_contact_id").
		Set("entity_type = EXCLUDED.entity_type").
		Set("content_text = EXCLUDED.content_text").
		Set("raw = EXCLUDED.raw").
		Set("source_updated_at = EXCLUDED.source_updated_at").
		Set("system_updated_at = EXCLUDED.system_updated_at").
		Exec(ctx)
	if err != nil {
		return core.SourceInteraction{}, err
	}
	return record.toDomain(), nil
}
