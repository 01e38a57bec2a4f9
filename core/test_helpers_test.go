package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type testProvider struct {
	id          string
	refreshFn   func(ActiveCredential) (TokenSet, error)
	revokeFn    func(ActiveCredential) error
	exchangeFn  func(string) (TokenSet, error)
	mu          *sync.Mutex
	refreshes   *int
	revocations *[]ActiveCredential
}

func newTestProvider(id string) testProvider {
	refreshes := 0
	revocations := []ActiveCredential{}
	return testProvider{id: id, mu: &sync.Mutex{}, refreshes: &refreshes, revocations: &revocations}
}

func (p testProvider) ID() string { return p.id }

func (p testProvider) DisplayName() string { return strings.ToUpper(p.id) }

func (p testProvider) AuthURL(userID string) (string, error) {
	return "https://auth.example/" + p.id + "?state=" + userID, nil
}

func (p testProvider) ExchangeCode(_ context.Context, code string) (TokenSet, error) {
	if p.exchangeFn != nil {
		return p.exchangeFn(code)
	}
	return TokenSet{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, ExpiresIn: 3600}, nil
}

func (p testProvider) Refresh(_ context.Context, cred ActiveCredential) (TokenSet, error) {
	if p.mu != nil {
		p.mu.Lock()
		*p.refreshes++
		p.mu.Unlock()
	}
	if p.refreshFn != nil {
		return p.refreshFn(cred)
	}
	return TokenSet{AccessToken: cred.AccessToken + "-next", ExpiresIn: 3600}, nil
}

func (p testProvider) Revoke(_ context.Context, cred ActiveCredential) error {
	if p.mu != nil {
		p.mu.Lock()
		*p.revocations = append(*p.revocations, cred)
		p.mu.Unlock()
	}
	if p.revokeFn != nil {
		return p.revokeFn(cred)
	}
	return nil
}

func (p testProvider) refreshCount() int {
	if p.mu == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.refreshes
}

func (p testProvider) revokeCount() int {
	if p.mu == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(*p.revocations)
}

func (p testProvider) FetchContacts(context.Context, ActiveCredential) iter.Seq2[RawContact, error] {
	return func(func(RawContact, error) bool) {}
}

func (p testProvider) NormalizeContact(raw RawContact) SourceContact {
	return SourceContact{ProviderID: p.id, ProviderContactID: raw.ID}
}

func (p testProvider) FetchInteractions(context.Context, ActiveCredential) iter.Seq2[RawInteraction, error] {
	return func(func(RawInteraction, error) bool) {}
}

func (p testProvider) NormalizeInteraction(raw RawInteraction) SourceInteraction {
	return SourceInteraction{ProviderID: p.id, InteractionID: raw.ID}
}

type testVault struct{}

func (testVault) Encrypt(_ context.Context, plaintext string) (string, error) {
	return "enc:" + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

func (testVault) Decrypt(_ context.Context, blob string) (string, error) {
	if !strings.HasPrefix(blob, "enc:") {
		return "", &CredentialDecryptionError{Cause: fmt.Errorf("missing prefix")}
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, "enc:"))
	if err != nil {
		return "", &CredentialDecryptionError{Cause: err}
	}
	return string(decoded), nil
}

type memoryConnectionStore struct {
	mu   sync.Mutex
	next int
	byID map[string]Connection
}

func newMemoryConnectionStore() *memoryConnectionStore {
	return &memoryConnectionStore{byID: map[string]Connection{}}
}

func (s *memoryConnectionStore) Upsert(_ context.Context, in UpsertConnectionInput) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range s.byID {
		if existing.UserID == in.UserID && existing.ProviderID == in.ProviderID {
			existing.EncryptedAccessToken = in.EncryptedAccessToken
			existing.EncryptedRefreshToken = in.EncryptedRefreshToken
			existing.TokenExpiresAt = cloneTime(in.TokenExpiresAt)
			existing.Status = in.Status
			existing.UpdatedAt = now
			s.byID[id] = existing
			return existing, nil
		}
	}
	s.next++
	connection := Connection{
		ID:                    fmt.Sprintf("conn_%d", s.next),
		UserID:                in.UserID,
		ProviderID:            in.ProviderID,
		EncryptedAccessToken:  in.EncryptedAccessToken,
		EncryptedRefreshToken: in.EncryptedRefreshToken,
		TokenExpiresAt:        cloneTime(in.TokenExpiresAt),
		Status:                in.Status,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	s.byID[connection.ID] = connection
	return connection, nil
}

func (s *memoryConnectionStore) put(connection Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[connection.ID] = connection
}

func (s *memoryConnectionStore) Get(_ context.Context, id string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.byID[id]
	if !ok {
		return Connection{}, NewNotFoundError("connection", id)
	}
	return connection, nil
}

func (s *memoryConnectionStore) GetForUser(ctx context.Context, id string, userID string) (Connection, error) {
	connection, err := s.Get(ctx, id)
	if err != nil {
		return Connection{}, err
	}
	if connection.UserID != userID {
		return Connection{}, NewNotFoundError("connection", id)
	}
	return connection, nil
}

func (s *memoryConnectionStore) ListByUser(_ context.Context, userID string) ([]Connection, error) {
	return s.filter(func(c Connection) bool { return c.UserID == userID }), nil
}

func (s *memoryConnectionStore) ListActive(context.Context) ([]Connection, error) {
	return s.filter(Connection.IsActive), nil
}

func (s *memoryConnectionStore) ListExpiringBefore(_ context.Context, before time.Time) ([]Connection, error) {
	return s.filter(func(c Connection) bool {
		return c.IsActive() && c.TokenExpiresAt != nil && c.TokenExpiresAt.Before(before)
	}), nil
}

func (s *memoryConnectionStore) filter(keep func(Connection) bool) []Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Connection{}
	for _, connection := range s.byID {
		if keep(connection) {
			out = append(out, connection)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryConnectionStore) UpdateTokens(_ context.Context, id string, in UpdateTokensInput) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.byID[id]
	if !ok {
		return Connection{}, NewNotFoundError("connection", id)
	}
	connection.EncryptedAccessToken = in.EncryptedAccessToken
	connection.EncryptedRefreshToken = in.EncryptedRefreshToken
	connection.TokenExpiresAt = cloneTime(in.TokenExpiresAt)
	connection.UpdatedAt = time.Now().UTC()
	s.byID[id] = connection
	return connection, nil
}

func (s *memoryConnectionStore) UpdateSyncStatus(_ context.Context, id string, syncedAt *time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.byID[id]
	if !ok {
		return NewNotFoundError("connection", id)
	}
	if syncedAt != nil {
		connection.LastSyncedAt = cloneTime(syncedAt)
	}
	connection.LastError = lastError
	s.byID[id] = connection
	return nil
}

func (s *memoryConnectionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return NewNotFoundError("connection", id)
	}
	delete(s.byID, id)
	return nil
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	messages []*JobExecutionMessage
	err      error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

type testLocker struct {
	err       error
	onAcquire func()
	acquired  int
	released  int
}

func (l *testLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.onAcquire != nil {
		l.onAcquire()
	}
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func newTestService(t *testing.T, providers []Provider, opts ...Option) (*Service, *memoryConnectionStore) {
	registry, err := NewProviderRegistry(providers...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	store := newMemoryConnectionStore()
	base := []Option{
		WithRegistry(registry),
		WithConnectionStore(store),
		WithVault(testVault{}),
	}
	svc, err := NewService(Config{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func seedConnection(store *memoryConnectionStore, id string, userID string, providerID string, expiresAt *time.Time) Connection {
	vault := testVault{}
	access, _ := vault.Encrypt(context.Background(), "access-"+id)
	refresh, _ := vault.Encrypt(context.Background(), "refresh-"+id)
	connection := Connection{
		ID:                    id,
		UserID:                userID,
		ProviderID:            providerID,
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		TokenExpiresAt:        cloneTime(expiresAt),
		Status:                ConnectionStatusActive,
		CreatedAt:             time.Now().UTC(),
		UpdatedAt:             time.Now().UTC(),
	}
	store.put(connection)
	return connection
}

func timePtr(value time.Time) *time.Time {
	return &value
}
