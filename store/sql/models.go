package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-contact-sync/core"
)

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk"`
	Email     string    `bun:"email,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type connectionRecord struct {
	bun.BaseModel `bun:"table:connections,alias:c"`

	ID                    string     `bun:"id,pk"`
	UserID                string     `bun:"user_id,notnull"`
	ProviderID            string     `bun:"provider_id,notnull"`
	AccessTokenEncrypted  string     `bun:"access_token_encrypted,notnull"`
	RefreshTokenEncrypted string     `bun:"refresh_token_encrypted,notnull"`
	TokenExpiresAt        *time.Time `bun:"token_expires_at,nullzero"`
	Status                string     `bun:"status,notnull"`
	LastError             string     `bun:"last_error,notnull"`
	LastSyncedAt          *time.Time `bun:"last_synced_at,nullzero"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type sourceContactRecord struct {
	bun.BaseModel `bun:"table:source_contacts,alias:sc"`

	ConnectionID      string         `bun:"connection_id,pk"`
	ProviderContactID string         `bun:"provider_contact_id,pk"`
	ProviderID        string         `bun:"provider_id,notnull"`
	Category          *string        `bun:"category"`
	Email             *string        `bun:"email"`
	Phone             *string        `bun:"phone"`
	FirstName         *string        `bun:"first_name"`
	LastName          *string        `bun:"last_name"`
	CompanyName       *string        `bun:"company_name"`
	JobTitle          *string        `bun:"job_title"`
	Raw               map[string]any `bun:"raw,type:jsonb,notnull"`
	SourceUpdatedAt   *time.Time     `bun:"source_updated_at,nullzero"`
	SystemUpdatedAt   time.Time      `bun:"system_updated_at,notnull"`
}

type sourceInteractionRecord struct {
	bun.BaseModel `bun:"table:source_interactions,alias:si"`

	ConnectionID      string         `bun:"connection_id,pk"`
	InteractionID     string         `bun:"interaction_id,pk"`
	ProviderID        string         `bun:"provider_id,notnull"`
	ProviderContactID string         `bun:"provider_contact_id,notnull"`
	EntityType        string         `bun:"entity_type,notnull"`
	ContentText       *string        `bun:"content_text"`
	Raw               map[string]any `bun:"raw,type:jsonb,notnull"`
	SourceUpdatedAt   *time.Time     `bun:"source_updated_at,nullzero"`
	SystemUpdatedAt   time.Time      `bun:"system_updated_at,notnull"`
}

type goldenRecordRecord struct {
	bun.BaseModel `bun:"table:golden_records,alias:gr"`

	ID              string     `bun:"id,pk"`
	UserID          string     `bun:"user_id,notnull"`
	Email           *string    `bun:"email"`
	FirstName       *string    `bun:"first_name"`
	LastName        *string    `bun:"last_name"`
	Phone           *string    `bun:"phone"`
	SourceUpdatedAt *time.Time `bun:"source_updated_at,nullzero"`
	SystemUpdatedAt time.Time  `bun:"system_updated_at,notnull"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type identityMapRecord struct {
	bun.BaseModel `bun:"table:identity_map,alias:im"`

	GoldenRecordID    string    `bun:"golden_record_id,pk"`
	ProviderID        string    `bun:"provider_id,pk"`
	ProviderContactID string    `bun:"provider_contact_id,pk"`
	UserID            string    `bun:"user_id,notnull"`
	ConnectionID      string    `bun:"connection_id,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:                    r.ID,
		UserID:                r.UserID,
		ProviderID:            r.ProviderID,
		EncryptedAccessToken:  r.AccessTokenEncrypted,
		EncryptedRefreshToken: r.RefreshTokenEncrypted,
		TokenExpiresAt:        utcPtr(r.TokenExpiresAt),
		Status:                core.ConnectionStatus(r.Status),
		LastError:             r.LastError,
		LastSyncedAt:          utcPtr(r.LastSyncedAt),
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
}

func newSourceContactRecord(contact core.SourceContact) *sourceContactRecord {
	raw := contact.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	return &sourceContactRecord{
		ConnectionID:      contact.ConnectionID,
		ProviderContactID: contact.ProviderContactID,
		ProviderID:        contact.ProviderID,
		Category:          contact.Category,
		Email:             contact.Email,
		Phone:             contact.Phone,
		FirstName:         contact.FirstName,
		LastName:          contact.LastName,
		CompanyName:       contact.CompanyName,
		JobTitle:          contact.JobTitle,
		Raw:               raw,
		SourceUpdatedAt:   utcPtr(contact.SourceUpdatedAt),
		SystemUpdatedAt:   contact.SystemUpdatedAt.UTC(),
	}
}

func (r *sourceContactRecord) toDomain() core.SourceContact {
	return core.SourceContact{
		ConnectionID:      r.ConnectionID,
		ProviderID:        r.ProviderID,
		ProviderContactID: r.ProviderContactID,
		Category:          r.Category,
		Email:             r.Email,
		FirstName:         r.FirstName,
		LastName:          r.LastName,
		Phone:             r.Phone,
		CompanyName:       r.CompanyName,
		JobTitle:          r.JobTitle,
		Raw:               r.Raw,
		SourceUpdatedAt:   utcPtr(r.SourceUpdatedAt),
		SystemUpdatedAt:   r.SystemUpdatedAt.UTC(),
	}
}

func newSourceInteractionRecord(interaction core.SourceInteraction) *sourceInteractionRecord {
	raw := interaction.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	return &sourceInteractionRecord{
		ConnectionID:      interaction.ConnectionID,
		InteractionID:     interaction.InteractionID,
		ProviderID:        interaction.ProviderID,
		ProviderContactID: interaction.ProviderContactID,
		EntityType:        interaction.EntityType,
		ContentText:       interaction.ContentText,
		Raw:               raw,
		SourceUpdatedAt:   utcPtr(interaction.SourceUpdatedAt),
		SystemUpdatedAt:   interaction.SystemUpdatedAt.UTC(),
	}
}

func (r *sourceInteractionRecord) toDomain() core.SourceInteraction {
	return core.SourceInteraction{
		ConnectionID:      r.ConnectionID,
		ProviderID:        r.ProviderID,
		InteractionID:     r.InteractionID,
		ProviderContactID: r.ProviderContactID,
		EntityType:        r.EntityType,
		ContentText:       r.ContentText,
		Raw:               r.Raw,
		SourceUpdatedAt:   utcPtr(r.SourceUpdatedAt),
		SystemUpdatedAt:   r.SystemUpdatedAt.UTC(),
	}
}

func newGoldenRecordRecord(record core.GoldenRecord) *goldenRecordRecord {
	return &goldenRecordRecord{
		ID:              record.ID,
		UserID:          record.UserID,
		Email:           record.Email,
		FirstName:       record.FirstName,
		LastName:        record.LastName,
		Phone:           record.Phone,
		SourceUpdatedAt: utcPtr(record.SourceUpdatedAt),
		SystemUpdatedAt: record.SystemUpdatedAt.UTC(),
		CreatedAt:       record.CreatedAt.UTC(),
	}
}

func (r *goldenRecordRecord) toDomain() core.GoldenRecord {
	if r == nil {
		return core.GoldenRecord{}
	}
	return core.GoldenRecord{
		ID:              r.ID,
		UserID:          r.UserID,
		Email:           r.Email,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		Phone:           r.Phone,
		SourceUpdatedAt: utcPtr(r.SourceUpdatedAt),
		SystemUpdatedAt: r.SystemUpdatedAt.UTC(),
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

func (r *identityMapRecord) toDomain() core.IdentityMapEntry {
	return core.IdentityMapEntry{
		GoldenRecordID:    r.GoldenRecordID,
		UserID:            r.UserID,
		ConnectionID:      r.ConnectionID,
		ProviderID:        r.ProviderID,
		ProviderContactID: r.ProviderContactID,
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	copied := value.UTC()
	return &copied
}
