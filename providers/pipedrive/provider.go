package pipedrive

import (
	"context"
	"encoding/base64"
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
	ProviderID  = "pipedrive"
	DisplayName = "Pipedrive"

	AuthURL    = "https://oauth.pipedrive.com/oauth/authorize"
	TokenURL   = "https://oauth.pipedrive.com/oauth/token"
	RevokeURL  = "https://oauth.pipedrive.com/oauth/revoke"
	APIBaseURL = "https://api.pipedrive.com/v2"

	pageSize         = "100"
	defaultExpiresIn = 3600
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	APIBaseURL   string
	HTTPClient   *http.Client
	Now          func() time.Time
}

func DefaultConfig() Config {
	return Config{
		AuthURL:    AuthURL,
		TokenURL:   TokenURL,
		RevokeURL:  RevokeURL,
		APIBaseURL: APIBaseURL,
	}
}

type Provider struct {
	clientID     string
	clientSecret string
	revokeURL    string
	baseURL      string
	oauth        *providers.OAuthClient
	api          *providers.APIClient
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	cfg.AuthURL = firstNonEmpty(cfg.AuthURL, defaults.AuthURL)
	cfg.TokenURL = firstNonEmpty(cfg.TokenURL, defaults.TokenURL)
	cfg.RevokeURL = firstNonEmpty(cfg.RevokeURL, defaults.RevokeURL)
	cfg.APIBaseURL = firstNonEmpty(cfg.APIBaseURL, defaults.APIBaseURL)

	oauthClient, err := providers.NewOAuthClient(providers.OAuthConfig{
		ProviderID:       ProviderID,
		AuthURL:          cfg.AuthURL,
		TokenURL:         cfg.TokenURL,
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		RedirectURL:      cfg.RedirectURL,
		AuthStyle:        oauth2.AuthStyleInHeader,
		DefaultExpiresIn: defaultExpiresIn,
		HTTPClient:       cfg.HTTPClient,
		Now:              cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		revokeURL:    cfg.RevokeURL,
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		oauth:        oauthClient,
		api:          providers.NewAPIClient(ProviderID, cfg.HTTPClient),
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

// Revoke invalidates the access token with client basic auth.
func (p *Provider) Revoke(ctx context.Context, cred core.ActiveCredential) error {
	access := strings.TrimSpace(cred.AccessToken)
	if access == "" {
		return nil
	}
	form := url.Values{}
	form.Set("token", access)
	form.Set("token_type_hint", "access_token")
	basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
	_, err := p.api.Send(ctx, "revoke", core.TransportRequest{
		Method: http.MethodPost,
		URL:    p.revokeURL,
		Headers: map[string]string{
			"Authorization": "Basic " + basic,
			"Content-Type":  "application/x-www-form-urlencoded",
		},
		Body: []byte(form.Encode()),
	}, http.StatusNotFound)
	return err
}

type listPage struct {
	Data           []map[string]any `json:"data"`
	AdditionalData *struct {
		NextCursor *string `json:"next_cursor"`
	} `json:"additional_data"`
}

func (page listPage) next() string {
	if page.AdditionalData == nil || page.AdditionalData.NextCursor == nil {
		return ""
	}
	return strings.TrimSpace(*page.AdditionalData.NextCursor)
}

func (p *Provider) FetchContacts(ctx context.Context, cred core.ActiveCredential) iter.Seq2[core.RawContact, error] {
	return providers.Paginate(ctx, func(ctx context.Context, cursor string) ([]core.RawContact, string, error) {
		page, err := p.list(ctx, "fetch_contacts", cred.AccessToken, "/persons", cursor)
		if err != nil {
			return nil, "", err
		}
		out := make([]core.RawContact, 0, len(page.Data))
		for _, item := range page.Data {
			out = append(out, core.RawContact{ID: providers.IDString(item["id"]), Properties: item})
		}
		return out, page.next(), nil
	})
}

func (p *Provider) FetchInteractions(ctx context.Context, cred core.ActiveCredential) iter.Seq2[core.RawInteraction, error] {
	return providers.Paginate(ctx, func(ctx context.Context, cursor string) ([]core.RawInteraction, string, error) {
		page, err := p.list(ctx, "fetch_interactions", cred.AccessToken, "/deals", cursor)
		if err != nil {
			return nil, "", err
		}
		out := make([]core.RawInteraction, 0, len(page.Data))
		for _, item := range page.Data {
			raw := core.RawInteraction{ID: providers.IDString(item["id"]), Properties: item}
			if person := providers.IDString(item["person_id"]); person != "" {
				raw.Associations = map[string][]string{"persons": {person}}
			}
			out = append(out, raw)
		}
		return out, page.next(), nil
	})
}

func (p *Provider) list(ctx context.Context, operation string, accessToken string, path string, cursor string) (listPage, error) {
	query := map[string]string{"limit": pageSize}
	if cursor != "" {
		query["cursor"] = cursor
	}
	var page listPage
	err := p.api.GetJSON(ctx, operation, accessToken, p.baseURL+path, query, &page)
	return page, err
}

func (p *Provider) NormalizeContact(raw core.RawContact) core.SourceContact {
	props := raw.Properties
	return core.SourceContact{
		ProviderID:        ProviderID,
		ProviderContactID: raw.ID,
		Email:             providers.FirstListValue(props, "emails", "value"),
		FirstName:         providers.StringProp(props, "first_name"),
		LastName:          providers.StringProp(props, "last_name"),
		Phone:             providers.FirstListValue(props, "phones", "value"),
		CompanyName:       providers.StringProp(props, "org_name"),
		JobTitle:          providers.StringProp(props, "job_title"),
		Raw:               providers.CloneProps(props),
		SourceUpdatedAt:   providers.TimeProp(props, "update_time"),
	}
}

// NormalizeInteraction links a deal to its person, or to the deal itself
// when no person is attached.
func (p *Provider) NormalizeInteraction(raw core.RawInteraction) core.SourceInteraction {
	contactID := raw.ID
	if ids := raw.Associations["persons"]; len(ids) > 0 && ids[0] != "" {
		contactID = ids[0]
	}
	return core.SourceInteraction{
		ProviderID:        ProviderID,
		InteractionID:     raw.ID,
		ProviderContactID: contactID,
		EntityType:        "deal",
		ContentText:       providers.StringProp(raw.Properties, "title"),
		Raw:               providers.CloneProps(raw.Properties),
		SourceUpdatedAt:   providers.TimeProp(raw.Properties, "update_time"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ core.Provider = (*Provider)(nil)
