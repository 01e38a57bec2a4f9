package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-contact-sync/core"
)

// OAuthConfig describes one provider's authorization-code flow.
type OAuthConfig struct {
	ProviderID   string
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// AuthStyle selects where client credentials go on token requests.
	AuthStyle oauth2.AuthStyle
	// DefaultExpiresIn applies when the token response omits expires_in.
	DefaultExpiresIn int64
	HTTPClient       *http.Client
	Now              func() time.Time
}

type OAuthClient struct {
	cfg    OAuthConfig
	config *oauth2.Config
}

func NewOAuthClient(cfg OAuthConfig) (*OAuthClient, error) {
	cfg.ProviderID = strings.TrimSpace(cfg.ProviderID)
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURL = strings.TrimSpace(cfg.RedirectURL)
	switch {
	case cfg.ProviderID == "":
		return nil, fmt.Errorf("providers: provider id is required")
	case cfg.AuthURL == "":
		return nil, fmt.Errorf("providers: auth url is required for provider %q", cfg.ProviderID)
	case cfg.TokenURL == "":
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ProviderID)
	case cfg.ClientID == "":
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ProviderID)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OAuthClient{
		cfg: cfg,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       append([]string(nil), cfg.Scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: cfg.AuthStyle,
			},
		},
	}, nil
}

// AuthCodeURL builds the consent URL. The user id travels as state so the
// callback can attribute the code.
func (c *OAuthClient) AuthCodeURL(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", core.NewValidationError("user_id", "user id is required")
	}
	return c.config.AuthCodeURL(userID), nil
}

func (c *OAuthClient) Exchange(ctx context.Context, code string) (core.TokenSet, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenSet{}, core.NewValidationError("code", "authorization code is required")
	}
	token, err := c.config.Exchange(c.clientContext(ctx), code)
	if err != nil {
		return core.TokenSet{}, c.wrapError("exchange_code", err)
	}
	return c.tokenSet(token), nil
}

func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return core.TokenSet{}, core.NewProviderAPIError(c.cfg.ProviderID, "refresh", 0, nil, errors.New("refresh token is empty"))
	}
	source := c.config.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return core.TokenSet{}, c.wrapError("refresh", err)
	}
	tokens := c.tokenSet(token)
	if tokens.RefreshToken == refreshToken {
		// x/oauth2 carries the old refresh token forward when none is returned.
		tokens.RefreshToken = ""
	}
	return tokens, nil
}

func (c *OAuthClient) clientContext(ctx context.Context) context.Context {
	if c.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
}

func (c *OAuthClient) tokenSet(token *oauth2.Token) core.TokenSet {
	return core.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    c.expiresIn(token),
	}
}

func (c *OAuthClient) expiresIn(token *oauth2.Token) int64 {
	if seconds, ok := numericExtra(token.Extra("expires_in")); ok && seconds > 0 {
		return seconds
	}
	if !token.Expiry.IsZero() {
		if seconds := int64(math.Round(token.Expiry.Sub(c.cfg.Now()).Seconds())); seconds > 0 {
			return seconds
		}
	}
	return c.cfg.DefaultExpiresIn
}

func (c *OAuthClient) wrapError(operation string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return core.NewProviderAPIError(c.cfg.ProviderID, operation, status, retrieveErr.Body, nil)
	}
	return core.NewProviderAPIError(c.cfg.ProviderID, operation, 0, nil, err)
}

func numericExtra(value any) (int64, bool) {
	switch typed := value.(type) {
	case float64:
		return int64(typed), true
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case json.Number:
		parsed, err := typed.Int64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
