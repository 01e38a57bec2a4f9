package hubspot

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/providers/devkit"
)

const contactsURL = APIBaseURL + "/crm/v3/objects/contacts"
const dealsURL = APIBaseURL + "/crm/v3/objects/deals"

func newTestProvider(t *testing.T, fake *devkit.FakeHTTP) *Provider {
	t.Helper()
	provider, err := New(Config{
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

func TestProvider_AuthURLCarriesScopesAndState(t *testing.T) {
	provider := newTestProvider(t, devkit.NewFakeHTTP())

	raw, err := provider.AuthURL("user-1")
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasPrefix(raw, AuthURL+"?") {
		t.Fatalf("unexpected auth url %s", raw)
	}
	query := parsed.Query()
	if query.Get("state") != "user-1" || query.Get("client_id") != "client-1" {
		t.Fatalf("unexpected auth params %v", query)
	}
	if query.Get("scope") != strings.Join(DefaultScopes, " ") {
		t.Fatalf("expected space separated scopes, got %q", query.Get("scope"))
	}
	if _, err := provider.AuthURL("  "); err == nil {
		t.Fatalf("expected empty user id to fail")
	}
}

func TestProvider_ExchangeCodeSendsClientCredentialsInBody(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodPost, TokenURL,
		devkit.JSON(http.StatusOK, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":1800,"token_type":"bearer"}`),
	)
	provider := newTestProvider(t, fake)

	tokens, err := provider.ExchangeCode(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "at-1" || tokens.RefreshToken != "rt-1" || tokens.ExpiresIn != 1800 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	requests := fake.RequestsTo("/oauth/v1/token")
	if len(requests) != 1 {
		t.Fatalf("expected one token request, got %d", len(requests))
	}
	form, err := url.ParseQuery(requests[0].Body)
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "code-1" {
		t.Fatalf("unexpected token form %v", form)
	}
	if form.Get("client_id") != "client-1" || form.Get("client_secret") != "secret-1" {
		t.Fatalf("expected client credentials in form, got %v", form)
	}
}

func TestProvider_ExchangeCodeFailureIsProviderAPIError(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodPost, TokenURL,
		devkit.JSON(http.StatusBadRequest, `{"status":"BAD_AUTH_CODE"}`),
	)
	provider := newTestProvider(t, fake)

	_, err := provider.ExchangeCode(context.Background(), "bad")
	var apiErr *core.ProviderAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected provider api error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || !strings.Contains(apiErr.Body, "BAD_AUTH_CODE") {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestProvider_RefreshLeavesRefreshTokenEmptyWhenNotRotated(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodPost, TokenURL,
		devkit.JSON(http.StatusOK, `{"access_token":"at-2","expires_in":1800}`),
	)
	provider := newTestProvider(t, fake)

	tokens, err := provider.Refresh(context.Background(), core.ActiveCredential{RefreshToken: "rt-1"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.AccessToken != "at-2" || tokens.RefreshToken != "" {
		t.Fatalf("unexpected refreshed tokens %+v", tokens)
	}
	form, _ := url.ParseQuery(fake.RequestsTo("/oauth/v1/token")[0].Body)
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "rt-1" {
		t.Fatalf("unexpected refresh form %v", form)
	}
}

func TestProvider_RevokeToleratesNotFound(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodDelete, APIBaseURL+"/oauth/v1/refresh-tokens/rt-1",
		devkit.JSON(http.StatusNotFound, `{}`),
	)
	provider := newTestProvider(t, fake)

	if err := provider.Revoke(context.Background(), core.ActiveCredential{RefreshToken: "rt-1"}); err != nil {
		t.Fatalf("expected 404 to be tolerated, got %v", err)
	}
	if err := provider.Revoke(context.Background(), core.ActiveCredential{}); err != nil {
		t.Fatalf("expected empty refresh token to be a no-op, got %v", err)
	}
	if len(fake.Requests()) != 1 {
		t.Fatalf("expected one revoke request, got %d", len(fake.Requests()))
	}
}

func TestProvider_FetchContactsFollowsCursorAndNormalizes(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodGet, contactsURL,
		devkit.JSON(http.StatusOK, `{"results":[{"id":"101","properties":{"email":"Ada@Example.com","firstname":"Ada","lastname":"Lovelace","company":"Engines","jobtitle":"Analyst","lastmodifieddate":"2026-01-02T03:04:05.000Z"}}],"paging":{"next":{"after":"c2"}}}`),
		devkit.JSON(http.StatusOK, `{"results":[{"id":"102","properties":{"firstname":"Grace","phone":""}}]}`),
	)
	provider := newTestProvider(t, fake)

	contacts, err := devkit.Collect(provider.FetchContacts(context.Background(), core.ActiveCredential{AccessToken: "at-1"}))
	if err != nil {
		t.Fatalf("fetch contacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(contacts))
	}
	requests := fake.RequestsTo("/crm/v3/objects/contacts")
	if requests[0].Query.Get("after") != "" || requests[1].Query.Get("after") != "c2" {
		t.Fatalf("unexpected cursors %v / %v", requests[0].Query, requests[1].Query)
	}
	if requests[0].Query.Get("limit") != "100" || requests[0].Query.Get("properties") != contactProperties {
		t.Fatalf("unexpected query %v", requests[0].Query)
	}
	if requests[0].Header.Get("Authorization") != "Bearer at-1" {
		t.Fatalf("expected bearer auth, got %q", requests[0].Header.Get("Authorization"))
	}

	first := provider.NormalizeContact(contacts[0])
	if core.StringValue(first.Email) != "Ada@Example.com" || core.StringValue(first.CompanyName) != "Engines" {
		t.Fatalf("unexpected normalized contact %+v", first)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if first.SourceUpdatedAt == nil || !first.SourceUpdatedAt.Equal(want) {
		t.Fatalf("unexpected source updated at %v", first.SourceUpdatedAt)
	}
	second := provider.NormalizeContact(contacts[1])
	if second.Email != nil || second.Phone != nil || second.SourceUpdatedAt != nil {
		t.Fatalf("expected missing fields to stay nil, got %+v", second)
	}
}

func TestProvider_FetchContactsSurfacesAPIError(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodGet, contactsURL,
		devkit.JSON(http.StatusUnauthorized, `{"message":"expired"}`),
	)
	provider := newTestProvider(t, fake)

	_, err := devkit.Collect(provider.FetchContacts(context.Background(), core.ActiveCredential{AccessToken: "stale"}))
	var apiErr *core.ProviderAPIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 provider api error, got %v", err)
	}
}

func TestProvider_NormalizeInteractionUsesFirstAssociatedContact(t *testing.T) {
	fake := devkit.NewFakeHTTP().Handle(http.MethodGet, dealsURL,
		devkit.JSON(http.StatusOK, `{"results":[
			{"id":"d1","properties":{"dealname":"Renewal","hs_lastmodifieddate":"2026-02-01T00:00:00Z"},"associations":{"contacts":{"results":[{"id":"101","type":"deal_to_contact"},{"id":"102","type":"deal_to_contact"}]}}},
			{"id":"d2","properties":{"dealname":"Orphan"}}
		]}`),
	)
	provider := newTestProvider(t, fake)

	deals, err := devkit.Collect(provider.FetchInteractions(context.Background(), core.ActiveCredential{AccessToken: "at-1"}))
	if err != nil {
		t.Fatalf("fetch deals: %v", err)
	}
	if got := fake.RequestsTo("/crm/v3/objects/deals")[0].Query.Get("associations"); got != "contacts" {
		t.Fatalf("expected contact associations to be requested, got %q", got)
	}
	linked := provider.NormalizeInteraction(deals[0])
	if linked.ProviderContactID != "101" || linked.EntityType != "deal" || core.StringValue(linked.ContentText) != "Renewal" {
		t.Fatalf("unexpected linked deal %+v", linked)
	}
	if _, ok := linked.Raw["associations"]; !ok {
		t.Fatalf("expected associations in raw payload")
	}
	orphan := provider.NormalizeInteraction(deals[1])
	if orphan.ProviderContactID != "d2" {
		t.Fatalf("expected orphan deal to fall back to its own id, got %q", orphan.ProviderContactID)
	}
}

func TestProvider_Conformance(t *testing.T) {
	fake := devkit.NewFakeHTTP().
		Handle(http.MethodGet, contactsURL, devkit.JSON(http.StatusOK, `{"results":[{"id":"1","properties":{"email":"a@example.com"}}]}`)).
		Handle(http.MethodGet, dealsURL, devkit.JSON(http.StatusOK, `{"results":[{"id":"9","properties":{"dealname":"x"}}]}`))
	provider := newTestProvider(t, fake)

	if err := devkit.ValidateProviderConformance(context.Background(), provider, core.ActiveCredential{AccessToken: "at"}); err != nil {
		t.Fatalf("conformance: %v", err)
	}
}
