package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/transport"
)

// APIClient issues authenticated JSON calls against one provider API and
// reports every failure as a core.ProviderAPIError.
type APIClient struct {
	ProviderID string
	Transport  core.TransportAdapter
}

func NewAPIClient(providerID string, httpClient *http.Client) *APIClient {
	adapter := transport.NewRESTAdapter(nil)
	if httpClient != nil {
		adapter.Client = httpClient
	}
	return &APIClient{ProviderID: strings.TrimSpace(providerID), Transport: adapter}
}

// GetJSON performs a bearer-authenticated GET and decodes the body into out.
func (c *APIClient) GetJSON(ctx context.Context, operation string, accessToken string, url string, query map[string]string, out any) error {
	res, err := c.Send(ctx, operation, core.TransportRequest{
		Method:  http.MethodGet,
		URL:     url,
		Headers: BearerHeader(accessToken),
		Query:   query,
	})
	if err != nil {
		return err
	}
	if err := DecodeJSON(res.Body, out); err != nil {
		return core.NewProviderAPIError(c.ProviderID, operation, res.StatusCode, res.Body, err)
	}
	return nil
}

// Send executes req. Statuses outside 2xx fail unless listed in allowStatus.
func (c *APIClient) Send(ctx context.Context, operation string, req core.TransportRequest, allowStatus ...int) (core.TransportResponse, error) {
	if c == nil || c.Transport == nil {
		return core.TransportResponse{}, fmt.Errorf("providers: api client transport is not configured")
	}
	res, err := c.Transport.Do(ctx, req)
	if err != nil {
		return core.TransportResponse{}, core.NewProviderAPIError(c.ProviderID, operation, 0, nil, err)
	}
	if transport.IsSuccess(res.StatusCode) || slices.Contains(allowStatus, res.StatusCode) {
		return res, nil
	}
	return res, core.NewProviderAPIError(c.ProviderID, operation, res.StatusCode, res.Body, nil)
}

func BearerHeader(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + strings.TrimSpace(accessToken)}
}

// DecodeJSON keeps numeric ids exact by decoding numbers as json.Number.
func DecodeJSON(body []byte, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	return decoder.Decode(out)
}
