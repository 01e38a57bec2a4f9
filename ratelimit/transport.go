package ratelimit

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-contact-sync/core"
)

// RoundTripper applies a policy to every request of one provider. Buckets
// are keyed by request host, so OAuth token endpoints and API hosts are
// throttled independently.
type RoundTripper struct {
	ProviderID string
	Policy     core.RateLimitPolicy
	Next       http.RoundTripper
}

func (t *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	if t.Policy == nil {
		return next.RoundTrip(req)
	}
	ctx := req.Context()
	key := core.RateLimitKey{ProviderID: t.ProviderID, BucketKey: req.URL.Host}
	if err := t.Policy.BeforeCall(ctx, key); err != nil {
		return nil, err
	}
	res, err := next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := t.Policy.AfterCall(ctx, key, core.ProviderResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    flattenHeaders(res.Header),
	}); err != nil {
		_ = res.Body.Close()
		return nil, err
	}
	return res, nil
}

// WrapClient returns a copy of client whose transport applies policy for
// providerID. A nil client wraps a default one.
func WrapClient(client *http.Client, providerID string, policy core.RateLimitPolicy) *http.Client {
	if policy == nil {
		return client
	}
	wrapped := &http.Client{}
	if client != nil {
		copied := *client
		wrapped = &copied
	}
	wrapped.Transport = &RoundTripper{
		ProviderID: strings.TrimSpace(providerID),
		Policy:     policy,
		Next:       wrapped.Transport,
	}
	return wrapped
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
