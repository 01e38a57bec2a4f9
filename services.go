package contactsync

import "github.com/goliatone/go-contact-sync/core"

type Config = core.Config

type ProviderConfig = core.ProviderConfig

type TaskPolicy = core.TaskPolicy

type Option = core.Option

type Service = core.Service

type Provider = core.Provider

type CredentialVault = core.CredentialVault
type ConnectionStore = core.ConnectionStore
type ConnectionLocker = core.ConnectionLocker
type ContactReader = core.ContactReader
type JobEnqueuer = core.JobEnqueuer
type MetricsRecorder = core.MetricsRecorder

type CompleteOAuthRequest = core.CompleteOAuthRequest
type ConnectionSummary = core.ConnectionSummary
type SyncResult = core.SyncResult
type GoldenRecord = core.GoldenRecord
type GoldenRecordDetail = core.GoldenRecordDetail

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithRegistry        = core.WithRegistry
	WithConnectionStore = core.WithConnectionStore
	WithVault           = core.WithVault
	WithLocker          = core.WithConnectionLocker
	WithJobEnqueuer     = core.WithJobEnqueuer
	WithClock           = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
