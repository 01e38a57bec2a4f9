package core

import (
	"strings"
	"time"
)

type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusInactive ConnectionStatus = "inactive"
)

// Connection is the stored OAuth authorization linking one user to one
// provider account. Token fields hold vault ciphertext, never plaintext.
type Connection struct {
	ID                    string
	UserID                string
	ProviderID            string
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	TokenExpiresAt        *time.Time
	Status                ConnectionStatus
	LastError             string
	LastSyncedAt          *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Summary strips credential material from the connection.
func (c Connection) Summary() ConnectionSummary {
	return ConnectionSummary{
		ID:             c.ID,
		UserID:         c.UserID,
		ProviderID:     c.ProviderID,
		Status:         c.Status,
		TokenExpiresAt: cloneTime(c.TokenExpiresAt),
		LastError:      c.LastError,
		LastSyncedAt:   cloneTime(c.LastSyncedAt),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (c Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

// ConnectionSummary is the token-free view returned to callers.
type ConnectionSummary struct {
	ID             string
	UserID         string
	ProviderID     string
	Status         ConnectionStatus
	TokenExpiresAt *time.Time
	LastError      string
	LastSyncedAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenSet is what a provider returns from code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// ExpiresAt resolves the absolute expiry relative to now. A non-positive
// ExpiresIn yields nil.
func (t TokenSet) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.UTC().Add(time.Duration(t.ExpiresIn) * time.Second)
	return &at
}

// ActiveCredential is the decrypted credential snapshot handed to provider
// adapters. It is never persisted.
type ActiveCredential struct {
	ConnectionID   string
	UserID         string
	ProviderID     string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
}

type RawContact struct {
	ID         string
	Properties map[string]any
}

type RawInteraction struct {
	ID         string
	Properties map[string]any
	// Associations lists linked object ids keyed by object type.
	Associations map[string][]string
}

// SourceContact is the canonical provider-native contact snapshot. Nil
// pointers mean the provider did not supply the field.
type SourceContact struct {
	ConnectionID      string
	ProviderID        string
	ProviderContactID string
	Category          *string
	Email             *string
	FirstName         *string
	LastName          *string
	Phone             *string
	CompanyName       *string
	JobTitle          *string
	Raw               map[string]any
	SourceUpdatedAt   *time.Time
	SystemUpdatedAt   time.Time
}

type SourceInteraction struct {
	ConnectionID      string
	ProviderID        string
	InteractionID     string
	ProviderContactID string
	EntityType        string
	ContentText       *string
	Raw               map[string]any
	SourceUpdatedAt   *time.Time
	SystemUpdatedAt   time.Time
}

// GoldenRecord is the deduplicated identity of one person, scoped to one user.
type GoldenRecord struct {
	ID              string
	UserID          string
	Email           *string
	FirstName       *string
	LastName        *string
	Phone           *string
	SourceUpdatedAt *time.Time
	SystemUpdatedAt time.Time
	CreatedAt       time.Time
}

type IdentityMapEntry struct {
	GoldenRecordID    string
	UserID            string
	ConnectionID      string
	ProviderID        string
	ProviderContactID string
	CreatedAt         time.Time
}

type GoldenRecordDetail struct {
	Record       GoldenRecord
	Sources      []SourceContact
	Interactions []SourceInteraction
}

type ResolutionOutcome string

const (
	ResolutionMatchedMapping ResolutionOutcome = "matched_mapping"
	ResolutionMatchedEmail   ResolutionOutcome = "matched_email"
	ResolutionCreated        ResolutionOutcome = "created"
)

type ResolveResult struct {
	GoldenRecordID string
	Outcome        ResolutionOutcome
	// Applied reports whether the incoming contact changed the golden record.
	Applied bool
}

type SyncResult struct {
	ConnectionID        string
	ProviderID          string
	UserID              string
	Skipped             bool
	TokenRefreshed      bool
	ContactsFetched     int
	InteractionsFetched int
	GoldenCreated       int
	MatchedMapping      int
	MatchedEmail        int
	StartedAt           time.Time
	FinishedAt          time.Time
}

func (r *SyncResult) Record(outcome ResolutionOutcome) {
	if r == nil {
		return
	}
	switch outcome {
	case ResolutionCreated:
		r.GoldenCreated++
	case ResolutionMatchedMapping:
		r.MatchedMapping++
	case ResolutionMatchedEmail:
		r.MatchedEmail++
	}
}

type CompleteOAuthRequest struct {
	ProviderID string
	Code       string
	UserID     string
}

// NormalizeEmail is the only canonicalization applied before email matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StringPtr returns nil for blank values so missing data never becomes an
// empty-string sentinel.
func StringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func StringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := value.UTC()
	return &copied
}

// User is the minimal owner row every connection and golden record hangs
// off. Account management lives outside this module.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}
