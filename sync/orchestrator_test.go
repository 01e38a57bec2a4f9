package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"testing"
	"time"

	"github.com/goliatone/go-contact-sync/core"
)

type fakeLifecycle struct {
	connections map[string]core.Connection
	refreshed   bool
	refreshErr  error
	marked      map[string]error
	markCalls   int
}

func newFakeLifecycle(connections ...core.Connection) *fakeLifecycle {
	l := &fakeLifecycle{connections: map[string]core.Connection{}, marked: map[string]error{}}
	for _, connection := range connections {
		l.connections[connection.ID] = connection
	}
	return l
}

func (l *fakeLifecycle) AuthURL(context.Context, string, string) (string, error) { return "", nil }

func (l *fakeLifecycle) CompleteOAuth(context.Context, core.CompleteOAuthRequest) (core.ConnectionSummary, error) {
	return core.ConnectionSummary{}, nil
}

func (l *fakeLifecycle) Connection(_ context.Context, id string) (core.Connection, error) {
	connection, ok := l.connections[id]
	if !ok {
		return core.Connection{}, core.NewNotFoundError("connection", id)
	}
	return connection, nil
}

func (l *fakeLifecycle) EnsureFreshToken(_ context.Context, id string) (core.ActiveCredential, bool, error) {
	if l.refreshErr != nil {
		return core.ActiveCredential{}, false, l.refreshErr
	}
	connection := l.connections[id]
	return core.ActiveCredential{
		ConnectionID: id,
		UserID:       connection.UserID,
		ProviderID:   connection.ProviderID,
		AccessToken:  "access",
	}, l.refreshed, nil
}

func (l *fakeLifecycle) RefreshConnection(context.Context, string) error { return nil }

func (l *fakeLifecycle) Disconnect(context.Context, string, string) error { return nil }

func (l *fakeLifecycle) ListConnections(context.Context, string) ([]core.ConnectionSummary, error) {
	return nil, nil
}

func (l *fakeLifecycle) RequestSync(context.Context, string, string) error { return nil }

func (l *fakeLifecycle) MarkSyncResult(_ context.Context, id string, syncErr error) error {
	l.markCalls++
	l.marked[id] = syncErr
	return nil
}

type scriptedProvider struct {
	id           string
	contacts     []core.RawContact
	interactions []core.RawInteraction
	contactErr   error
	// failAfter yields contactErr after this many contacts.
	failAfter int
}

func (p *scriptedProvider) ID() string          { return p.id }
func (p *scriptedProvider) DisplayName() string { return p.id }

func (p *scriptedProvider) AuthURL(string) (string, error) { return "", nil }

func (p *scriptedProvider) ExchangeCode(context.Context, string) (core.TokenSet, error) {
	return core.TokenSet{}, nil
}

func (p *scriptedProvider) Refresh(context.Context, core.ActiveCredential) (core.TokenSet, error) {
	return core.TokenSet{}, nil
}

func (p *scriptedProvider) Revoke(context.Context, core.ActiveCredential) error { return nil }

func (p *scriptedProvider) FetchContacts(context.Context, core.ActiveCredential) iter.Seq2[core.RawContact, error] {
	return func(yield func(core.RawContact, error) bool) {
		for i, contact := range p.contacts {
			if p.contactErr != nil && i == p.failAfter {
				yield(core.RawContact{}, p.contactErr)
				return
			}
			if !yield(contact, nil) {
				return
			}
		}
	}
}

func (p *scriptedProvider) NormalizeContact(raw core.RawContact) core.SourceContact {
	contact := core.SourceContact{ProviderContactID: raw.ID, Raw: raw.Properties}
	if email, ok := raw.Properties["email"].(string); ok {
		contact.Email = core.StringPtr(email)
	}
	if name, ok := raw.Properties["first_name"].(string); ok {
		contact.FirstName = core.StringPtr(name)
	}
	return contact
}

func (p *scriptedProvider) FetchInteractions(context.Context, core.ActiveCredential) iter.Seq2[core.RawInteraction, error] {
	return func(yield func(core.RawInteraction, error) bool) {
		for _, interaction := range p.interactions {
			if !yield(interaction, nil) {
				return
			}
		}
	}
}

func (p *scriptedProvider) NormalizeInteraction(raw core.RawInteraction) core.SourceInteraction {
	contactID := raw.ID
	if ids := raw.Associations["contacts"]; len(ids) > 0 {
		contactID = ids[0]
	}
	return core.SourceInteraction{
		InteractionID:     raw.ID,
		ProviderContactID: contactID,
		EntityType:        "deal",
		Raw:               raw.Properties,
	}
}

type memoryStores struct {
	contacts     map[string]core.SourceContact
	interactions map[string]core.SourceInteraction
	records      map[string]core.GoldenRecord
	mappings     map[string]core.IdentityMapEntry
	nextID       int
	txCount      int
}

func newMemoryStores() *memoryStores {
	return &memoryStores{
		contacts:     map[string]core.SourceContact{},
		interactions: map[string]core.SourceInteraction{},
		records:      map[string]core.GoldenRecord{},
		mappings:     map[string]core.IdentityMapEntry{},
	}
}

func (s *memoryStores) RunInTx(ctx context.Context, fn func(ctx context.Context, stores core.SyncStores) error) error {
	s.txCount++
	return fn(ctx, s)
}

func (s *memoryStores) Sources() core.SourceStore      { return s }
func (s *memoryStores) Identities() core.IdentityStore { return s }

func (s *memoryStores) UpsertContact(_ context.Context, contact core.SourceContact) (core.SourceContact, error) {
	s.contacts[contact.ConnectionID+"|"+contact.ProviderContactID] = contact
	return contact, nil
}

func (s *memoryStores) UpsertInteraction(_ context.Context, interaction core.SourceInteraction) (core.SourceInteraction, error) {
	s.interactions[interaction.ConnectionID+"|"+interaction.InteractionID] = interaction
	return interaction, nil
}

func (s *memoryStores) FindMapping(_ context.Context, userID, providerID, providerContactID string) (core.IdentityMapEntry, bool, error) {
	entry, ok := s.mappings[userID+"|"+providerID+"|"+providerContactID]
	return entry, ok, nil
}

func (s *memoryStores) FindGoldenRecordByEmail(_ context.Context, userID, email string) (core.GoldenRecord, bool, error) {
	matches := []core.GoldenRecord{}
	for _, record := range s.records {
		if record.UserID == userID && core.NormalizeEmail(core.StringValue(record.Email)) == core.NormalizeEmail(email) {
			matches = append(matches, record)
		}
	}
	if len(matches) == 0 {
		return core.GoldenRecord{}, false, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches[0], true, nil
}

func (s *memoryStores) GetGoldenRecord(_ context.Context, userID, id string) (core.GoldenRecord, error) {
	record, ok := s.records[id]
	if !ok || record.UserID != userID {
		return core.GoldenRecord{}, core.NewNotFoundError("golden_record", id)
	}
	return record, nil
}

func (s *memoryStores) CreateGoldenRecord(_ context.Context, record core.GoldenRecord) (core.GoldenRecord, error) {
	s.nextID++
	record.ID = fmt.Sprintf("g%d", s.nextID)
	s.records[record.ID] = record
	return record, nil
}

func (s *memoryStores) UpdateGoldenRecord(_ context.Context, record core.GoldenRecord) (core.GoldenRecord, error) {
	s.records[record.ID] = record
	return record, nil
}

func (s *memoryStores) InsertMapping(_ context.Context, entry core.IdentityMapEntry) error {
	key := entry.UserID + "|" + entry.ProviderID + "|" + entry.ProviderContactID
	if _, exists := s.mappings[key]; exists {
		return errors.New("duplicate mapping")
	}
	s.mappings[key] = entry
	return nil
}

type recordingInvalidator struct {
	users []string
}

func (r *recordingInvalidator) InvalidateUser(_ context.Context, userID string) error {
	r.users = append(r.users, userID)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeConnection(id, userID, providerID string) core.Connection {
	return core.Connection{ID: id, UserID: userID, ProviderID: providerID, Status: core.ConnectionStatusActive}
}

func newTestOrchestrator(t *testing.T, lifecycle core.ConnectionLifecycle, stores *memoryStores, cache core.ContactCacheInvalidator, providers ...core.Provider) *Orchestrator {
	t.Helper()
	registry, err := core.NewProviderRegistry(providers...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	orchestrator, err := NewOrchestrator(lifecycle, registry, stores,
		WithCacheInvalidator(cache),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orchestrator
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	registry, _ := core.NewProviderRegistry()
	if _, err := NewOrchestrator(nil, registry, newMemoryStores()); err == nil {
		t.Fatalf("expected error for missing lifecycle")
	}
	if _, err := NewOrchestrator(newFakeLifecycle(), nil, newMemoryStores()); err == nil {
		t.Fatalf("expected error for missing registry")
	}
	if _, err := NewOrchestrator(newFakeLifecycle(), registry, nil); err == nil {
		t.Fatalf("expected error for missing tx runner")
	}
}

func TestSyncConnection_ResolvesContactsAndStoresInteractions(t *testing.T) {
	lifecycle := newFakeLifecycle(activeConnection("c1", "u1", "crm"))
	lifecycle.refreshed = true
	stores := newMemoryStores()
	cache := &recordingInvalidator{}
	provider := &scriptedProvider{
		id: "crm",
		contacts: []core.RawContact{
			{ID: "p1", Properties: map[string]any{"email": "ada@example.com", "first_name": "Ada"}},
			{ID: "p2", Properties: map[string]any{"email": "ADA@example.com "}},
			{ID: "p3", Properties: map[string]any{"email": "bob@example.com"}},
		},
		interactions: []core.RawInteraction{
			{ID: "d1", Associations: map[string][]string{"contacts": {"p1"}}},
			{ID: "d2"},
		},
	}
	orchestrator := newTestOrchestrator(t, lifecycle, stores, cache, provider)

	result, err := orchestrator.SyncConnection(context.Background(), "c1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Skipped {
		t.Fatalf("expected sync to run")
	}
	if !result.TokenRefreshed {
		t.Fatalf("expected token refreshed flag")
	}
	if result.ContactsFetched != 3 || result.InteractionsFetched != 2 {
		t.Fatalf("expected 3 contacts and 2 interactions, got %d and %d", result.ContactsFetched, result.InteractionsFetched)
	}
	if result.GoldenCreated != 2 || result.MatchedEmail != 1 {
		t.Fatalf("expected 2 created and 1 email match, got %+v", result)
	}
	if len(stores.records) != 2 {
		t.Fatalf("expected 2 golden records, got %d", len(stores.records))
	}
	if len(stores.mappings) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(stores.mappings))
	}
	contact := stores.contacts["c1|p1"]
	if contact.ConnectionID != "c1" || contact.ProviderID != "crm" || !contact.SystemUpdatedAt.Equal(fixedNow) {
		t.Fatalf("expected stamped source contact, got %+v", contact)
	}
	if got := stores.interactions["c1|d1"].ProviderContactID; got != "p1" {
		t.Fatalf("expected interaction linked to p1, got %q", got)
	}
	if len(cache.users) != 1 || cache.users[0] != "u1" {
		t.Fatalf("expected cache invalidated for u1, got %v", cache.users)
	}
	if syncErr, ok := lifecycle.marked["c1"]; !ok || syncErr != nil {
		t.Fatalf("expected successful sync status recorded")
	}
}

func TestSyncConnection_SecondRunMatchesMappings(t *testing.T) {
	lifecycle := newFakeLifecycle(activeConnection("c1", "u1", "crm"))
	stores := newMemoryStores()
	provider := &scriptedProvider{
		id: "crm",
		contacts: []core.RawContact{
			{ID: "p1", Properties: map[string]any{"email": "ada@example.com"}},
			{ID: "p2", Properties: map[string]any{"email": "bob@example.com"}},
		},
	}
	orchestrator := newTestOrchestrator(t, lifecycle, stores, nil, provider)

	if _, err := orchestrator.SyncConnection(context.Background(), "c1"); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	result, err := orchestrator.SyncConnection(context.Background(), "c1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.MatchedMapping != 2 || result.GoldenCreated != 0 {
		t.Fatalf("expected mapping matches only, got %+v", result)
	}
	if len(stores.records) != 2 {
		t.Fatalf("expected records to stay deduplicated, got %d", len(stores.records))
	}
}

func TestSyncConnection_SkipsMissingAndInactiveConnections(t *testing.T) {
	inactive := activeConnection("c2", "u1", "crm")
	inactive.Status = core.ConnectionStatusInactive
	lifecycle := newFakeLifecycle(inactive)
	stores := newMemoryStores()
	orchestrator := newTestOrchestrator(t, lifecycle, stores, nil, &scriptedProvider{id: "crm"})

	for _, id := range []string{"missing", "c2"} {
		result, err := orchestrator.SyncConnection(context.Background(), id)
		if err != nil {
			t.Fatalf("expected skip without error for %s, got %v", id, err)
		}
		if !result.Skipped {
			t.Fatalf("expected %s to be skipped", id)
		}
	}
	if lifecycle.markCalls != 0 {
		t.Fatalf("expected skipped connections to leave sync status untouched")
	}
	if stores.txCount != 0 {
		t.Fatalf("expected no writes for skipped connections")
	}
}

func TestSyncConnection_FetchErrorAbortsAndKeepsEarlierRows(t *testing.T) {
	lifecycle := newFakeLifecycle(activeConnection("c1", "u1", "crm"))
	stores := newMemoryStores()
	fetchErr := core.NewProviderAPIError("crm", "fetch_contacts", 502, []byte("bad gateway"), nil)
	provider := &scriptedProvider{
		id: "crm",
		contacts: []core.RawContact{
			{ID: "p1", Properties: map[string]any{"email": "ada@example.com"}},
			{ID: "p2", Properties: map[string]any{"email": "bob@example.com"}},
		},
		interactions: []core.RawInteraction{{ID: "d1"}},
		contactErr:   fetchErr,
		failAfter:    1,
	}
	orchestrator := newTestOrchestrator(t, lifecycle, stores, nil, provider)

	result, err := orchestrator.SyncConnection(context.Background(), "c1")
	if !errors.Is(err, core.ErrProviderAPI) {
		t.Fatalf("expected provider api error, got %v", err)
	}
	if result.ContactsFetched != 1 {
		t.Fatalf("expected 1 contact before failure, got %d", result.ContactsFetched)
	}
	if _, ok := stores.contacts["c1|p1"]; !ok {
		t.Fatalf("expected earlier contact to stay written")
	}
	if len(stores.interactions) != 0 {
		t.Fatalf("expected interactions to be skipped after abort")
	}
	if lifecycle.marked["c1"] == nil {
		t.Fatalf("expected failure recorded in sync status")
	}
}

func TestSyncConnection_UnknownProviderIsRecorded(t *testing.T) {
	lifecycle := newFakeLifecycle(activeConnection("c1", "u1", "gone"))
	orchestrator := newTestOrchestrator(t, lifecycle, newMemoryStores(), nil)

	_, err := orchestrator.SyncConnection(context.Background(), "c1")
	if !errors.Is(err, core.ErrUnknownProvider) {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
	if core.IsRetryable(err) {
		t.Fatalf("expected unknown provider to be terminal")
	}
	if lifecycle.marked["c1"] == nil {
		t.Fatalf("expected failure recorded in sync status")
	}
}

func TestSyncConnection_TokenFailureStopsBeforeFetch(t *testing.T) {
	lifecycle := newFakeLifecycle(activeConnection("c1", "u1", "crm"))
	lifecycle.refreshErr = &core.CredentialDecryptionError{}
	stores := newMemoryStores()
	provider := &scriptedProvider{id: "crm", contacts: []core.RawContact{{ID: "p1"}}}
	orchestrator := newTestOrchestrator(t, lifecycle, stores, nil, provider)

	_, err := orchestrator.SyncConnection(context.Background(), "c1")
	if !errors.Is(err, core.ErrCredentialDecryption) {
		t.Fatalf("expected decryption error, got %v", err)
	}
	if len(stores.contacts) != 0 {
		t.Fatalf("expected no contacts written")
	}
}

func TestSyncConnection_RequiresConnectionID(t *testing.T) {
	orchestrator := newTestOrchestrator(t, newFakeLifecycle(), newMemoryStores(), nil)
	if _, err := orchestrator.SyncConnection(context.Background(), "  "); err == nil {
		t.Fatalf("expected validation error")
	}
}
