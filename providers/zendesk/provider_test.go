package zendesk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/providers/devkit"
)

const baseURL = "https://acme.zendesk.com"

func newTestProvider(t *testing.T, fake *devkit.FakeHTTP) *Provider {
	t.Helper()
	provider, err := New(Config{
		Subdomain:    "acme",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://app.example.test/callback",
		HTTPClient:   fake.Client(),
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestNew_RequiresSubdomain(t *testing.T) {
	if _, err := New(Config{ClientID: "client-1"}); err == nil {
		t.Fatalf("expected missing subdomain to fail")
	}
}

func TestProvider_AuthURLTargetsSubdomain(t *testing.T) {
	provider := newTestProvider(t, devkit.NewFakeHTTP())
	raw, err := provider.AuthURL("user-1")
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if !strings.HasPrefix(raw, baseURL+"/oauth/authorizations/new?") {
		t.Fatalf("unexpected auth url %s", raw)
	}
	parsed, _ := url.Parse(raw)
	query := parsed.Query()
	if query.Get("response_type") != "code" || query.Get("scope") != "users:read tickets:read" || query.Get("state") != "user-1" {
		t.Fatalf("unexpected auth params %v", query)
	}
}

func TestProvider_ExchangeDefaultsExpiry(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodPost, baseURL+"/oauth/tokens",
		devkit.JSON(http.StatusOK, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer"}`),
	)
	provider := newTestProvider(t, fake)

	tokens, err := provider.ExchangeCode(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.ExpiresIn != defaultExpiresIn {
		t.Fatalf("expected default expiry %d, got %d", defaultExpiresIn, tokens.ExpiresIn)
	}
}

func TestProvider_RevokeDeletesCurrentToken(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodDelete, baseURL+"/api/v2/oauth/tokens/current.json",
		devkit.JSON(http.StatusNoContent, ``),
	)
	provider := newTestProvider(t, fake)

	if err := provider.Revoke(context.Background(), core.ActiveCredential{AccessToken: "at-1"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if got := fake.Requests()[0].Header.Get("Authorization"); got != "Bearer at-1" {
		t.Fatalf("expected bearer revoke, got %q", got)
	}
}

func TestProvider_FetchContactsFollowsNextLink(t *testing.T) {
	fake := devkit.NewFakeHTTP().
		Handle(http.MethodGet, baseURL+"/api/v2/users.json",
			devkit.JSON(http.StatusOK, `{"users":[{"id":1,"name":"Ada King Lovelace","email":"ada@example.com","phone":"+44","updated_at":"2026-01-01T00:00:00Z"}],"meta":{"has_more":true},"links":{"next":"`+baseURL+`/api/v2/users/page2.json"}}`),
		).
		Handle(http.MethodGet, baseURL+"/api/v2/users/page2.json",
			devkit.JSON(http.StatusOK, `{"users":[{"id":2,"name":"Cher"}],"meta":{"has_more":false},"links":{"next":"`+baseURL+`/api/v2/users/page3.json"}}`),
		)
	provider := newTestProvider(t, fake)

	contacts, err := devkit.Collect(provider.FetchContacts(context.Background(), core.ActiveCredential{AccessToken: "at"}))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(contacts) != 2 || len(fake.Requests()) != 2 {
		t.Fatalf("expected two pages and two contacts, got %d contacts over %d requests", len(contacts), len(fake.Requests()))
	}
	if got := fake.Requests()[0].Query.Get("page[size]"); got != "100" {
		t.Fatalf("expected page size 100, got %q", got)
	}

	ada := provider.NormalizeContact(contacts[0])
	if core.StringValue(ada.FirstName) != "Ada" || core.StringValue(ada.LastName) != "King Lovelace" {
		t.Fatalf("unexpected name split %+v", ada)
	}
	if ada.CompanyName != nil || ada.JobTitle != nil {
		t.Fatalf("expected company and job to be nil")
	}
	cher := provider.NormalizeContact(contacts[1])
	if core.StringValue(cher.FirstName) != "Cher" || cher.LastName != nil {
		t.Fatalf("expected single name to be first name only, got %+v", cher)
	}
}

func TestProvider_NormalizeTicket(t *testing.T) {
	provider := newTestProvider(t, devkit.NewFakeHTTP())

	linked := provider.NormalizeInteraction(core.RawInteraction{
		ID:           "77",
		Properties:   map[string]any{"subject": "Printer on fire"},
		Associations: map[string][]string{"requesters": {"1"}},
	})
	if linked.ProviderContactID != "1" || linked.EntityType != "ticket" || core.StringValue(linked.ContentText) != "Printer on fire" {
		t.Fatalf("unexpected ticket %+v", linked)
	}
	orphan := provider.NormalizeInteraction(core.RawInteraction{ID: "78"})
	if orphan.ProviderContactID != "78" {
		t.Fatalf("expected fallback to ticket id, got %q", orphan.ProviderContactID)
	}
}

func TestProvider_FetchContactsRejectsForeignNextLink(t *testing.T) {
	fake := devkit.NewFakeHTTP().
		Handle(http.MethodGet, baseURL+"/api/v2/users.json",
			devkit.JSON(http.StatusOK, `{"users":[{"id":1,"name":"Ada"}],"meta":{"has_more":true},"links":{"next":"https://collector.example.net/api/v2/users/page2.json"}}`),
		).
		Handle(http.MethodGet, "https://collector.example.net/api/v2/users/page2.json",
			devkit.JSON(http.StatusOK, `{"users":[],"meta":{"has_more":false}}`),
		)
	provider := newTestProvider(t, fake)

	_, err := devkit.Collect(provider.FetchContacts(context.Background(), core.ActiveCredential{AccessToken: "at"}))
	if !errors.Is(err, core.ErrProviderAPI) {
		t.Fatalf("expected provider error for foreign next link, got %v", err)
	}
	for _, req := range fake.Requests() {
		if strings.Contains(req.URL, "collector.example.net") {
			t.Fatalf("expected no request to the foreign host, got %s", req.URL)
		}
	}
	if len(fake.Requests()) != 1 {
		t.Fatalf("expected only the first page to be requested, got %d", len(fake.Requests()))
	}
}
