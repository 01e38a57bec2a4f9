package core

import (
	"context"
	"iter"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Provider is the capability contract every external platform adapter
// implements. Fetch sequences are lazy and restart from the first page each
// time they are ranged over.
type Provider interface {
	ID() string
	DisplayName() string

	AuthURL(userID string) (string, error)
	ExchangeCode(ctx context.Context, code string) (TokenSet, error)
	Refresh(ctx context.Context, cred ActiveCredential) (TokenSet, error)
	Revoke(ctx context.Context, cred ActiveCredential) error

	FetchContacts(ctx context.Context, cred ActiveCredential) iter.Seq2[RawContact, error]
	NormalizeContact(raw RawContact) SourceContact

	FetchInteractions(ctx context.Context, cred ActiveCredential) iter.Seq2[RawInteraction, error]
	NormalizeInteraction(raw RawInteraction) SourceInteraction
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	List() []Provider
}

// CredentialVault encrypts tokens at rest. Decrypt must fail closed.
type CredentialVault interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, blob string) (string, error)
}

type UpsertConnectionInput struct {
	UserID                string
	ProviderID            string
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	TokenExpiresAt        *time.Time
	Status                ConnectionStatus
}

type UpdateTokensInput struct {
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	TokenExpiresAt        *time.Time
}

type ConnectionStore interface {
	Upsert(ctx context.Context, in UpsertConnectionInput) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	GetForUser(ctx context.Context, id string, userID string) (Connection, error)
	ListByUser(ctx context.Context, userID string) ([]Connection, error)
	ListActive(ctx context.Context) ([]Connection, error)
	ListExpiringBefore(ctx context.Context, before time.Time) ([]Connection, error)
	UpdateTokens(ctx context.Context, id string, in UpdateTokensInput) (Connection, error)
	UpdateSyncStatus(ctx context.Context, id string, syncedAt *time.Time, lastError string) error
	Delete(ctx context.Context, id string) error
}

type SourceStore interface {
	UpsertContact(ctx context.Context, contact SourceContact) (SourceContact, error)
	UpsertInteraction(ctx context.Context, interaction SourceInteraction) (SourceInteraction, error)
}

// IdentityStore is the persistence surface of the identity resolver. Every
// lookup is scoped by user.
type IdentityStore interface {
	FindMapping(ctx context.Context, userID string, providerID string, providerContactID string) (IdentityMapEntry, bool, error)
	FindGoldenRecordByEmail(ctx context.Context, userID string, email string) (GoldenRecord, bool, error)
	GetGoldenRecord(ctx context.Context, userID string, id string) (GoldenRecord, error)
	CreateGoldenRecord(ctx context.Context, record GoldenRecord) (GoldenRecord, error)
	UpdateGoldenRecord(ctx context.Context, record GoldenRecord) (GoldenRecord, error)
	InsertMapping(ctx context.Context, entry IdentityMapEntry) error
}

// SyncStores groups the stores touched while processing one contact.
type SyncStores interface {
	Sources() SourceStore
	Identities() IdentityStore
}

// TxRunner runs fn with stores bound to a single transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores SyncStores) error) error
}

type ContactReader interface {
	ListGoldenRecords(ctx context.Context, userID string) ([]GoldenRecord, error)
	GetGoldenRecordDetail(ctx context.Context, userID string, id string) (GoldenRecordDetail, error)
}

// ContactCacheInvalidator drops cached read-side state for a user after
// their data changed.
type ContactCacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

type ConnectionLocker interface {
	Acquire(ctx context.Context, connectionID string, ttl time.Duration) (unlock func(), err error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

// JobAttemptReporter is implemented by deliveries that track how many times
// the message has been handed to a worker.
type JobAttemptReporter interface {
	Attempt() int
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// ConnectionLifecycle is the slice of Service used by the sync orchestrator,
// job handlers and command handlers.
type ConnectionLifecycle interface {
	AuthURL(ctx context.Context, providerID string, userID string) (string, error)
	CompleteOAuth(ctx context.Context, req CompleteOAuthRequest) (ConnectionSummary, error)
	Connection(ctx context.Context, connectionID string) (Connection, error)
	EnsureFreshToken(ctx context.Context, connectionID string) (ActiveCredential, bool, error)
	RefreshConnection(ctx context.Context, connectionID string) error
	Disconnect(ctx context.Context, connectionID string, userID string) error
	ListConnections(ctx context.Context, userID string) ([]ConnectionSummary, error)
	RequestSync(ctx context.Context, connectionID string, userID string) error
	MarkSyncResult(ctx context.Context, connectionID string, syncErr error) error
}

// TransportRequest is a provider API call expressed independently of the
// HTTP client executing it.
type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// RateLimitKey names one provider quota bucket.
type RateLimitKey struct {
	ProviderID string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
}

// RateLimitPolicy gates outbound provider calls. BeforeCall fails while the
// bucket is throttled; AfterCall records quota headers from the response.
type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}
