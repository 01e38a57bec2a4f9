package hubspot

import (
	"context"
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
	ProviderID  = "hubspot"
	DisplayName = "HubSpot"

	AuthURL    = "https://app.hubspot.com/oauth/authorize"
	TokenURL   = "https://api.hubapi.com/oauth/v1/token"
	APIBaseURL = "https://api.hubapi.com"

	pageSize          = "100"
	contactProperties = "firstname,lastname,email,phone,company,jobtitle,lastmodifieddate"
	dealProperties    = "dealname,amount,dealstage,closedate,pipeline"
	defaultExpiresIn  = 1800
)

var DefaultScopes = []string{
	"crm.objects.contacts.read",
	"crm.objects.contacts.write",
	"crm.objects.companies.read",
	"crm.objects.companies.write",
	"crm.objects.deals.read",
	"crm.objects.deals.write",
	"crm.schemas.contacts.read",
	"crm.schemas.contacts.write",
	"crm.schemas.companies.read",
	"crm.schemas.companies.write",
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	HTTPClient   *http.Client
	Now          func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Scopes:     append([]string(nil), DefaultScopes...),
		AuthURL:    AuthURL,
		TokenURL:   TokenURL,
		APIBaseURL: APIBaseURL,
	}
}

type Provider struct {
	baseURL string
	oauth   *providers.OAuthClient
	api     *providers.APIClient
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	oauthClient, err := providers.NewOAuthClient(providers.OAuthConfig{
		ProviderID:       ProviderID,
		AuthURL:          cfg.AuthURL,
		TokenURL:         cfg.TokenURL,
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
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"),
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

// Revoke deletes the refresh token. HubSpot access tokens expire on their
// own; a token the portal no longer knows is treated as revoked.
func (p *Provider) Revoke(ctx context.Context, cred core.ActiveCredential) error {
	refresh := strings.TrimSpace(cred.RefreshToken)
	if refresh == "" {
		return nil
	}
	_, err := p.api.Send(ctx, "revoke", core.TransportRequest{
		Method: http.MethodDelete,
		URL:    p.baseURL + "/oauth/v1/refresh-tokens/" + url.PathEscape(refresh),
	}, http.StatusNotFound)
	return err
}

type objectPage struct {
	Results []object `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type object struct {
	ID           string                      `json:"id"`
	Properties   map[string]any              `json:"properties"`
	Associations map[string]associationGroup `json:"associations"`
}

type associationGroup struct {
	Results []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"results"`
}

func (page objectPage) next() string {
	if page.Paging == nil || page.Paging.Next == nil {
		return ""
	}
	return strings.TrimSpace(page.Paging.Next.After)
}

func (p *Provider) FetchContacts(ctx context.Context, cred core.ActiveCredential) iter.Seq2[core.RawContact, error] {
	return providers.Paginate(ctx, func(ctx context.Context, cursor string) ([]core.RawContact, string, error) {
		page, err := p.listObjects(ctx, "fetch_contacts", cred.AccessToken, "contacts", map[string]string{
			"properties": contactProperties,
		}, cursor)
		if err != nil {
			return nil, "", err
		}
		out := make([]core.RawContact, 0, len(page.Results))
		for _, item := range page.Results {
			out = append(out, core.RawContact{ID: item.ID, Properties: providers.CloneProps(item.Properties)})
		}
		return out, page.next(), nil
	})
}

func (p *Provider) FetchInteractions(ctx context.Context, cred core.ActiveCredential) iter.Seq2[core.RawInteraction, error] {
	return providers.Paginate(ctx, func(ctx context.Context, cursor string) ([]core.RawInteraction, string, error) {
		page, err := p.listObjects(ctx, "fetch_interactions", cred.AccessToken, "deals", map[string]string{
			"properties":   dealProperties,
			"associations": "contacts",
		}, cursor)
		if err != nil {
			return nil, "", err
		}
		out := make([]core.RawInteraction, 0, len(page.Results))
		for _, item := range page.Results {
			associations := map[string][]string{}
			for kind, group := range item.Associations {
				ids := make([]string, 0, len(group.Results))
				for _, result := range group.Results {
					ids = append(ids, result.ID)
				}
				associations[kind] = ids
			}
			out = append(out, core.RawInteraction{
				ID:           item.ID,
				Properties:   providers.CloneProps(item.Properties),
				Associations: associations,
			})
		}
		return out, page.next(), nil
	})
}

func (p *Provider) listObjects(ctx context.Context, operation string, accessToken string, objectType string, query map[string]string, cursor string) (objectPage, error) {
	query["limit"] = pageSize
	if cursor != "" {
		query["after"] = cursor
	}
	var page objectPage
	err := p.api.GetJSON(ctx, operation, accessToken, p.baseURL+"/crm/v3/objects/"+objectType, query, &page)
	return page, err
}

func (p *Provider) NormalizeContact(raw core.RawContact) core.SourceContact {
	props := raw.Properties
	return core.SourceContact{
		ProviderID:        ProviderID,
		ProviderContactID: raw.ID,
		Email:             providers.StringProp(props, "email"),
		FirstName:         providers.StringProp(props, "firstname"),
		LastName:          providers.StringProp(props, "lastname"),
		Phone:             providers.StringProp(props, "phone"),
		CompanyName:       providers.StringProp(props, "company"),
		JobTitle:          providers.StringProp(props, "jobtitle"),
		Raw:               providers.CloneProps(props),
		SourceUpdatedAt:   providers.TimeProp(props, "lastmodifieddate"),
	}
}

// NormalizeInteraction links a deal to its first associated contact, or to
// the deal itself when it has none.
func (p *Provider) NormalizeInteraction(raw core.RawInteraction) core.SourceInteraction {
	contactID := raw.ID
	if ids := raw.Associations["contacts"]; len(ids) > 0 && strings.TrimSpace(ids[0]) != "" {
		contactID = ids[0]
	}
	rawProps := providers.CloneProps(raw.Properties)
	associations := make(map[string]any, len(raw.Associations))
	for kind, ids := range raw.Associations {
		associations[kind] = append([]string(nil), ids...)
	}
	rawProps["associations"] = associations
	return core.SourceInteraction{
		ProviderID:        ProviderID,
		InteractionID:     raw.ID,
		ProviderContactID: contactID,
		EntityType:        "deal",
		ContentText:       providers.StringProp(raw.Properties, "dealname"),
		Raw:               rawProps,
		SourceUpdatedAt:   providers.TimeProp(raw.Properties, "hs_lastmodifieddate"),
	}
}

var _ core.Provider = (*Provider)(nil)
