package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// Service owns the connection lifecycle: OAuth completion, token freshness,
// disconnect and listing. It is the only component that sees plaintext
// tokens outside provider adapters.
type Service struct {
	config         Config
	logger         Logger
	loggerProvider LoggerProvider
	observer       Observer
	registry       Registry
	connections    ConnectionStore
	vault          CredentialVault
	locker         ConnectionLocker
	enqueuer       JobEnqueuer
	clock          func() time.Time
	refreshes      singleflight.Group
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	Registry         Registry
	ConnectionStore  ConnectionStore
	Vault            CredentialVault
	ConnectionLocker ConnectionLocker
	JobEnqueuer      JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("contact-sync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("connections"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = time.Now
	}
	if builder.registry == nil {
		return nil, fmt.Errorf("core: provider registry is required")
	}
	if builder.connectionStore == nil {
		return nil, fmt.Errorf("core: connection store is required")
	}
	if builder.vault == nil {
		return nil, fmt.Errorf("core: credential vault is required")
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, err
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		observer:       NewObserver("connections", logger, builder.metricsRecorder),
		registry:       builder.registry,
		connections:    builder.connectionStore,
		vault:          builder.vault,
		locker:         builder.connectionLocker,
		enqueuer:       builder.jobEnqueuer,
		clock:          builder.clock,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.observer.Metrics,
		Registry:         s.registry,
		ConnectionStore:  s.connections,
		Vault:            s.vault,
		ConnectionLocker: s.locker,
		JobEnqueuer:      s.enqueuer,
	}
}

// AuthURL returns the provider consent URL for userID.
func (s *Service) AuthURL(ctx context.Context, providerID string, userID string) (authURL string, err error) {
	startedAt := s.now()
	fields := map[string]any{"provider_id": providerID, "user_id": userID}
	defer func() {
		s.observer.Observe(ctx, startedAt, "auth_url", err, fields)
	}()

	if strings.TrimSpace(userID) == "" {
		return "", NewValidationError("user_id", "user id is required")
	}
	provider, err := resolveProvider(s.registry, providerID)
	if err != nil {
		return "", err
	}
	return provider.AuthURL(strings.TrimSpace(userID))
}

// CompleteOAuth exchanges the authorization code and stores the encrypted
// tokens, creating or replacing the user's connection for the provider.
func (s *Service) CompleteOAuth(ctx context.Context, req CompleteOAuthRequest) (summary ConnectionSummary, err error) {
	startedAt := s.now()
	fields := map[string]any{"provider_id": req.ProviderID, "user_id": req.UserID}
	defer func() {
		s.observer.Observe(ctx, startedAt, "complete_oauth", err, fields)
	}()

	if err = validateCompleteOAuth(req); err != nil {
		return ConnectionSummary{}, err
	}
	provider, err := resolveProvider(s.registry, req.ProviderID)
	if err != nil {
		return ConnectionSummary{}, err
	}
	tokens, err := provider.ExchangeCode(ctx, strings.TrimSpace(req.Code))
	if err != nil {
		return ConnectionSummary{}, err
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return ConnectionSummary{}, NewProviderAPIError(provider.ID(), "exchange_code", 0, nil, fmt.Errorf("empty access token"))
	}

	encAccess, encRefresh, err := s.encryptTokens(ctx, tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		return ConnectionSummary{}, err
	}
	connection, err := s.connections.Upsert(ctx, UpsertConnectionInput{
		UserID:                strings.TrimSpace(req.UserID),
		ProviderID:            provider.ID(),
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		TokenExpiresAt:        tokens.ExpiresAt(s.now()),
		Status:                ConnectionStatusActive,
	})
	if err != nil {
		return ConnectionSummary{}, err
	}
	fields["connection_id"] = connection.ID
	return connection.Summary(), nil
}

// Connection loads a connection without decrypting it.
func (s *Service) Connection(ctx context.Context, connectionID string) (Connection, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return Connection{}, NewValidationError("connection_id", "connection id is required")
	}
	return s.connections.Get(ctx, connectionID)
}

// EnsureFreshToken returns a decrypted credential that is valid for at least
// the refresh lead window, refreshing it first when needed. The bool reports
// whether a refresh happened.
func (s *Service) EnsureFreshToken(ctx context.Context, connectionID string) (cred ActiveCredential, refreshed bool, err error) {
	startedAt := s.now()
	fields := map[string]any{"connection_id": connectionID}
	defer func() {
		fields["refreshed"] = refreshed
		s.observer.Observe(ctx, startedAt, "ensure_fresh_token", err, fields)
	}()

	connection, err := s.Connection(ctx, connectionID)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	fields["provider_id"] = connection.ProviderID
	cred, err = s.credentialFor(ctx, connection)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	if !ShouldRefresh(s.now(), connection.TokenExpiresAt, s.config.Refresh.LeadWindow) {
		return cred, false, nil
	}
	return s.refreshShared(ctx, connection.ID, false)
}

// RefreshConnection refreshes the connection's tokens regardless of expiry.
func (s *Service) RefreshConnection(ctx context.Context, connectionID string) (err error) {
	startedAt := s.now()
	fields := map[string]any{"connection_id": connectionID}
	defer func() {
		s.observer.Observe(ctx, startedAt, "refresh_connection", err, fields)
	}()

	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return NewValidationError("connection_id", "connection id is required")
	}
	_, _, err = s.refreshShared(ctx, connectionID, true)
	return err
}

func (s *Service) refreshShared(ctx context.Context, connectionID string, force bool) (ActiveCredential, bool, error) {
	key := connectionID
	if force {
		key += ":force"
	}
	// The shared refresh outlives any single caller; each caller still
	// stops waiting when its own context ends.
	result := s.refreshes.DoChan(key, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout())
		defer cancel()
		cred, refreshed, refreshErr := s.refreshLocked(sharedCtx, connectionID, force)
		return refreshOutcome{credential: cred, refreshed: refreshed}, refreshErr
	})
	select {
	case <-ctx.Done():
		return ActiveCredential{}, false, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return ActiveCredential{}, false, res.Err
		}
		outcome, _ := res.Val.(refreshOutcome)
		return outcome.credential, outcome.refreshed, nil
	}
}

func (s *Service) refreshTimeout() time.Duration {
	if s.config.Refresh.LockTTL > 0 {
		return s.config.Refresh.LockTTL
	}
	return DefaultRefreshLockTTL
}

type refreshOutcome struct {
	credential ActiveCredential
	refreshed  bool
}

func (s *Service) refreshLocked(ctx context.Context, connectionID string, force bool) (ActiveCredential, bool, error) {
	if s.locker != nil {
		unlock, err := s.locker.Acquire(ctx, connectionID, s.config.Refresh.LockTTL)
		if errors.Is(err, ErrRefreshLocked) && !force {
			return s.credentialAfterContention(ctx, connectionID, err)
		}
		if err != nil {
			return ActiveCredential{}, false, err
		}
		defer unlock()
	}

	// Reload under the lock: another worker may have refreshed already.
	connection, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	cred, err := s.credentialFor(ctx, connection)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	if !force && !ShouldRefresh(s.now(), connection.TokenExpiresAt, s.config.Refresh.LeadWindow) {
		return cred, false, nil
	}

	provider, err := resolveProvider(s.registry, connection.ProviderID)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	tokens, err := provider.Refresh(ctx, cred)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	next := mergeTokens(cred, tokens, s.now())
	encAccess, encRefresh, err := s.encryptTokens(ctx, next.AccessToken, next.RefreshToken)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	updated, err := s.connections.UpdateTokens(ctx, connection.ID, UpdateTokensInput{
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		TokenExpiresAt:        next.TokenExpiresAt,
	})
	if err != nil {
		return ActiveCredential{}, false, err
	}
	next.TokenExpiresAt = cloneTime(updated.TokenExpiresAt)
	return next, true, nil
}

// credentialAfterContention re-reads a connection whose refresh lock is held
// elsewhere. The holder may already have stored a fresh token; lockErr is
// returned only when the stored token is still inside the lead window.
func (s *Service) credentialAfterContention(ctx context.Context, connectionID string, lockErr error) (ActiveCredential, bool, error) {
	connection, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	if ShouldRefresh(s.now(), connection.TokenExpiresAt, s.config.Refresh.LeadWindow) {
		return ActiveCredential{}, false, lockErr
	}
	cred, err := s.credentialFor(ctx, connection)
	if err != nil {
		return ActiveCredential{}, false, err
	}
	return cred, false, nil
}

// Disconnect revokes the connection at the provider on a best-effort basis
// and deletes it with all dependent source rows. Golden records survive.
func (s *Service) Disconnect(ctx context.Context, connectionID string, userID string) (err error) {
	startedAt := s.now()
	fields := map[string]any{"connection_id": connectionID, "user_id": userID}
	defer func() {
		s.observer.Observe(ctx, startedAt, "disconnect", err, fields)
	}()

	connectionID = strings.TrimSpace(connectionID)
	userID = strings.TrimSpace(userID)
	if connectionID == "" {
		return NewValidationError("connection_id", "connection id is required")
	}
	if userID == "" {
		return NewValidationError("user_id", "user id is required")
	}
	connection, err := s.connections.GetForUser(ctx, connectionID, userID)
	if err != nil {
		return err
	}
	fields["provider_id"] = connection.ProviderID
	fields["revoked"] = s.revokeBestEffort(ctx, connection)

	return s.connections.Delete(ctx, connection.ID)
}

func (s *Service) revokeBestEffort(ctx context.Context, connection Connection) bool {
	warnFields := map[string]any{
		"connection_id": connection.ID,
		"provider_id":   connection.ProviderID,
	}
	provider, err := resolveProvider(s.registry, connection.ProviderID)
	if err != nil {
		warnFields["error"] = err.Error()
		s.observer.Warn(ctx, "revoke skipped: provider not registered", warnFields)
		return false
	}
	cred, err := s.credentialFor(ctx, connection)
	if err != nil {
		warnFields["error"] = err.Error()
		s.observer.Warn(ctx, "revoke skipped: credentials unreadable", warnFields)
		return false
	}
	if err := provider.Revoke(ctx, cred); err != nil {
		warnFields["error"] = err.Error()
		s.observer.Warn(ctx, "revoke failed", warnFields)
		return false
	}
	return true
}

// ListConnections returns the user's connections without credential material.
func (s *Service) ListConnections(ctx context.Context, userID string) (summaries []ConnectionSummary, err error) {
	startedAt := s.now()
	fields := map[string]any{"user_id": userID}
	defer func() {
		fields["count"] = len(summaries)
		s.observer.Observe(ctx, startedAt, "list_connections", err, fields)
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, NewValidationError("user_id", "user id is required")
	}
	connections, err := s.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries = make([]ConnectionSummary, 0, len(connections))
	for _, connection := range connections {
		summaries = append(summaries, connection.Summary())
	}
	return summaries, nil
}

// RequestSync queues a sync for a connection owned by userID.
func (s *Service) RequestSync(ctx context.Context, connectionID string, userID string) (err error) {
	startedAt := s.now()
	fields := map[string]any{"connection_id": connectionID, "user_id": userID, "task": TaskConnectionSync}
	defer func() {
		s.observer.Observe(ctx, startedAt, "request_sync", err, fields)
	}()

	if s.enqueuer == nil {
		return fmt.Errorf("core: job enqueuer is required to request a sync")
	}
	connection, err := s.connections.GetForUser(ctx, strings.TrimSpace(connectionID), strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	fields["provider_id"] = connection.ProviderID
	return s.enqueuer.Enqueue(ctx, NewConnectionTaskMessage(TaskConnectionSync, connection.ID))
}

// MarkSyncResult records the outcome of the last sync run.
func (s *Service) MarkSyncResult(ctx context.Context, connectionID string, syncErr error) error {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return NewValidationError("connection_id", "connection id is required")
	}
	if syncErr != nil {
		return s.connections.UpdateSyncStatus(ctx, connectionID, nil, syncErr.Error())
	}
	now := s.now()
	return s.connections.UpdateSyncStatus(ctx, connectionID, &now, "")
}

func (s *Service) credentialFor(ctx context.Context, connection Connection) (ActiveCredential, error) {
	access, err := s.decrypt(ctx, connection.EncryptedAccessToken)
	if err != nil {
		return ActiveCredential{}, err
	}
	refresh := ""
	if strings.TrimSpace(connection.EncryptedRefreshToken) != "" {
		refresh, err = s.decrypt(ctx, connection.EncryptedRefreshToken)
		if err != nil {
			return ActiveCredential{}, err
		}
	}
	return ActiveCredential{
		ConnectionID:   connection.ID,
		UserID:         connection.UserID,
		ProviderID:     connection.ProviderID,
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiresAt: cloneTime(connection.TokenExpiresAt),
	}, nil
}

func (s *Service) decrypt(ctx context.Context, blob string) (string, error) {
	plaintext, err := s.vault.Decrypt(ctx, blob)
	if err == nil {
		return plaintext, nil
	}
	if errors.Is(err, ErrCredentialDecryption) {
		return "", err
	}
	return "", &CredentialDecryptionError{Cause: err}
}

func (s *Service) encryptTokens(ctx context.Context, access string, refresh string) (string, string, error) {
	encAccess, err := s.vault.Encrypt(ctx, access)
	if err != nil {
		return "", "", err
	}
	if refresh == "" {
		return encAccess, "", nil
	}
	encRefresh, err := s.vault.Encrypt(ctx, refresh)
	if err != nil {
		return "", "", err
	}
	return encAccess, encRefresh, nil
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func validateCompleteOAuth(req CompleteOAuthRequest) error {
	switch {
	case strings.TrimSpace(req.ProviderID) == "":
		return NewValidationError("provider_id", "provider id is required")
	case strings.TrimSpace(req.Code) == "":
		return NewValidationError("code", "authorization code is required")
	case strings.TrimSpace(req.UserID) == "":
		return NewValidationError("user_id", "user id is required")
	}
	return nil
}
