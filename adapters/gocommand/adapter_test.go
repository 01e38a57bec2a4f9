package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	contactcommand "github.com/goliatone/go-contact-sync/command"
	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/query"
)

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "contact_sync.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type queueMessage struct{}

func (queueMessage) Type() string { return "contact_sync.test.queue" }

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage(contactcommand.RefreshConnectionMessage{ConnectionID: "c1"}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessage(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail")
	}
	if err := ValidateMessage(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessage(struct{}{}); err == nil {
		t.Fatalf("expected non-message to fail")
	}
}

func TestQueueResolverMirrorsCommands(t *testing.T) {
	bus := NewBus(command.NewRegistry())
	defer bus.Close()
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := bus.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })
	if err := RegisterCommand(bus, cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, ok := queueRegistry.Get("contact_sync.test.queue"); !ok {
		t.Fatalf("expected command mirrored into queue registry")
	}
}

type fakeLifecycle struct {
	refreshed []string
}

func (f *fakeLifecycle) AuthURL(_ context.Context, providerID string, userID string) (string, error) {
	return "https://auth.example.com/" + providerID + "?user=" + userID, nil
}

func (f *fakeLifecycle) ListConnections(_ context.Context, userID string) ([]core.ConnectionSummary, error) {
	return []core.ConnectionSummary{{ID: "c1", UserID: userID}}, nil
}

func (f *fakeLifecycle) CompleteOAuth(_ context.Context, req core.CompleteOAuthRequest) (core.ConnectionSummary, error) {
	return core.ConnectionSummary{ID: "c-new", UserID: req.UserID, ProviderID: req.ProviderID}, nil
}

func (f *fakeLifecycle) Disconnect(context.Context, string, string) error { return nil }

func (f *fakeLifecycle) RefreshConnection(_ context.Context, connectionID string) error {
	f.refreshed = append(f.refreshed, connectionID)
	return nil
}

func (f *fakeLifecycle) RequestSync(context.Context, string, string) error { return nil }

type fakeSync struct{}

func (fakeSync) SyncConnection(_ context.Context, connectionID string) (core.SyncResult, error) {
	return core.SyncResult{ConnectionID: connectionID, ContactsFetched: 2}, nil
}

func TestRegisterContactSync_DispatchAndQuery(t *testing.T) {
	lifecycle := &fakeLifecycle{}
	bus := NewBus(command.NewRegistry())
	defer bus.Close()

	if err := RegisterContactSync(bus, Services{
		Lifecycle:   lifecycle,
		Sync:        fakeSync{},
		Connections: lifecycle,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ctx := context.Background()

	summary, err := CompleteOAuth(ctx, core.CompleteOAuthRequest{ProviderID: "hubspot", Code: "x", UserID: "u1"})
	if err != nil {
		t.Fatalf("complete oauth: %v", err)
	}
	if summary.ID != "c-new" {
		t.Fatalf("expected stored summary, got %+v", summary)
	}

	if err := Dispatch(ctx, contactcommand.RefreshConnectionMessage{ConnectionID: "c1"}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(lifecycle.refreshed) != 1 || lifecycle.refreshed[0] != "c1" {
		t.Fatalf("expected refresh delegated, got %v", lifecycle.refreshed)
	}

	result, err := SyncConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.ContactsFetched != 2 {
		t.Fatalf("unexpected sync result %+v", result)
	}

	url, err := Query[query.AuthURLMessage, string](ctx, query.AuthURLMessage{ProviderID: "hubspot", UserID: "u1"})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if url == "" {
		t.Fatalf("expected auth url")
	}

	if err := Dispatch(ctx, contactcommand.RefreshConnectionMessage{}); err == nil {
		t.Fatalf("expected validation failure for empty connection id")
	}
}

func TestRegisterContactSync_RequiresLifecycle(t *testing.T) {
	if err := RegisterContactSync(NewBus(nil), Services{}); err == nil {
		t.Fatalf("expected error without services")
	}
}
