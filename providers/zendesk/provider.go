package zendesk

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/providers"
)

const (
	ProviderID  = "zendesk"
	DisplayName = "Zendesk"

	pageSize         = "100"
	defaultExpiresIn = 7200
)

var DefaultScopes = []string{"users:read", "tickets:read"}

// Config targets one Zendesk account. BaseURL overrides the
// https://{subdomain}.zendesk.com host derived from Subdomain.
type Config struct {
	Subdomain    string
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
	Now          func() time.Time
}

func DefaultConfig() Config {
	return Config{Scopes: append([]string(nil), DefaultScopes...)}
}

type Provider struct {
	baseURL string
	oauth   *providers.OAuthClient
	api     *providers.APIClient
}

func New(cfg Config) (*Provider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		subdomain := strings.TrimSpace(cfg.Subdomain)
		if subdomain == "" {
			return nil, fmt.Errorf("zendesk: subdomain is required")
		}
		baseURL = "https://" + subdomain + ".zendesk.com"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultConfig().Scopes
	}
	oauthClient, err := providers.NewOAuthClient(providers.OAuthConfig{
		ProviderID:       ProviderID,
		AuthURL:          baseURL + "/oauth/authorizations/new",
		TokenURL:         baseURL + "/oauth/tokens",
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		RedirectURL:      cfg.RedirectURL,
		Scopes:           cfg.Scopes,
		AuthStyle:        oauth2.AuthStyleInParams,
		DefaultExpiresIn: defaultExpiresIn,
		HTTPClient:       cfg.HTTPClient,
		Now:              cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{
		baseURL: baseURL,
		oauth:   oauthClient,
		api:     providers.NewAPIClient(ProviderID, cfg.HTTPClient),
	}, nil
}

func (p *Provider) ID() string          { return ProviderID }
func (p *Provider) DisplayName() string { return DisplayName }

func (p *Provider) AuthURL(userID string) (string, error) {
	return p.oauth.AuthCodeURL(userID)
}

func (p *Provider) ExchangeCode(ctx context.Context, code string) (core.TokenSet, error) {
	return p.oauth.Exchange(ctx, code)
}

func (p *Provider) Refresh(ctx context.Context, cred core.ActiveCredential) (core.TokenSet, error) {
	return p.oauth.Refresh(ctx, cred.RefreshToken)
}

func (p *Provider) Revoke(ctx context.Context, cred core.ActiveCredential) error {
	access := strings.TrimSpace(cred.AccessToken)
	if access == "" {
		return nil
	}
	_, err := p.api.Send(ctx, "revoke", core.TransportRequest{
		Method:  http.MethodDelete,
		URL:     p.baseURL + "/api/v2/oauth/tokens/current.json",
		Headers: providers.BearerHeader(access),
	}, http.StatusNotFound)
	return err
}

type usersPage struct {
	Users []map[string]any `json:"users"`
	pageLinks
}

type ticketsPage struct {
	Tickets []map[string]any `json:"tickets"`
	pageLinks
}

type pageLinks struct {
	Meta struct {
		HasMore bool `json:"has_more"`
	} `json:"meta"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// next returns the absolute URL of the following page. Zendesk cursor
// pagination hands back full links rather than bare cursors.
func (l pageLinks) next() string {
	if !l.Meta.HasMore {
		return ""
	}
	return strings.TrimSpace(l.Links.Next)
}

func (p *Provider) FetchContacts(ctx context.Context, cred core.ActiveCredential) iter.Seq2[core.RawContact, error] {
	return providers.Paginate(ctx, func(ctx context.Context, link string) ([]core.RawContact, string, error) {
		var page usersPage
		if err := p.getPage(ctx, "fetch_contacts", cred.AccessToken, "/api/v2/users.json", link, &page); err != nil {
			return nil, "", err
		}
		out := make([]core.RawContact, 0, len(page.Users))
		for _, user := range page.Users {
			out = append(out, core.RawContact{ID: providers.IDString(user["id"]), Properties: user})
		}
		return out, page.next(), nil
	})
}

func (p *Provider) FetchInteractions(ctx context.Context, cred core.ActiveCredential) iter.Seq2[core.RawInteraction, error] {
	return providers.Paginate(ctx, func(ctx context.Context, link string) ([]core.RawInteraction, string, error) {
		var page ticketsPage
		if err := p.getPage(ctx, "fetch_interactions", cred.AccessToken, "/api/v2/tickets.json", link, &page); err != nil {
			return nil, "", err
		}
		out := make([]core.RawInteraction, 0, len(page.Tickets))
		for _, ticket := range page.Tickets {
			raw := core.RawInteraction{ID: providers.IDString(ticket["id"]), Properties: ticket}
			if requester := providers.IDString(ticket["requester_id"]); requester != "" {
				raw.Associations = map[string][]string{"requesters": {requester}}
			}
			out = append(out, raw)
		}
		return out, page.next(), nil
	})
}

func (p *Provider) getPage(ctx context.Context, operation string, accessToken string, path string, link string, out any) error {
	if link != "" {
		if err := p.checkNextLink(link); err != nil {
			return core.NewProviderAPIError(ProviderID, operation, 0, nil, err)
		}
		return p.api.GetJSON(ctx, operation, accessToken, link, nil, out)
	}
	return p.api.GetJSON(ctx, operation, accessToken, p.baseURL+path, map[string]string{"page[size]": pageSize}, out)
}

// checkNextLink keeps the bearer token on the account host: a next link
// pointing anywhere else is rejected before it is requested.
func (p *Provider) checkNextLink(link string) error {
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return err
	}
	next, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid next link: %w", err)
	}
	if !strings.EqualFold(next.Scheme, base.Scheme) || !strings.EqualFold(next.Host, base.Host) {
		return fmt.Errorf("next link host %q does not match %q", next.Host, base.Host)
	}
	return nil
}

func (p *Provider) NormalizeContact(raw core.RawContact) core.SourceContact {
	props := raw.Properties
	firstName, lastName := splitName(core.StringValue(providers.StringProp(props, "name")))
	return core.SourceContact{
		ProviderID:        ProviderID,
		ProviderContactID: raw.ID,
		Email:             providers.StringProp(props, "email"),
		FirstName:         firstName,
		LastName:          lastName,
		Phone:             providers.StringProp(props, "phone"),
		Raw:               providers.CloneProps(props),
		SourceUpdatedAt:   providers.TimeProp(props, "updated_at"),
	}
}

// NormalizeInteraction links a ticket to its requester, or to the ticket
// itself when the requester is unknown.
func (p *Provider) NormalizeInteraction(raw core.RawInteraction) core.SourceInteraction {
	contactID := raw.ID
	if ids := raw.Associations["requesters"]; len(ids) > 0 && ids[0] != "" {
		contactID = ids[0]
	}
	return core.SourceInteraction{
		ProviderID:        ProviderID,
		InteractionID:     raw.ID,
		ProviderContactID: contactID,
		EntityType:        "ticket",
		ContentText:       providers.StringProp(raw.Properties, "subject"),
		Raw:               providers.CloneProps(raw.Properties),
		SourceUpdatedAt:   providers.TimeProp(raw.Properties, "updated_at"),
	}
}

// splitName splits on the first space. A name without one is all first name.
func splitName(name string) (*string, *string) {
	name = strings.TrimSpace(name)
	if index := strings.Index(name, " "); index > 0 {
		return core.StringPtr(name[:index]), core.StringPtr(name[index+1:])
	}
	return core.StringPtr(name), nil
}

var _ core.Provider = (*Provider)(nil)
