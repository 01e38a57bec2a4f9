package core

import "time"

// ShouldRefresh reports whether a token expiring at expiresAt must be
// refreshed at now. Tokens without a known expiry are never refreshed ahead
// of time.
func ShouldRefresh(now time.Time, expiresAt *time.Time, leadWindow time.Duration) bool {
	if expiresAt == nil {
		return false
	}
	if leadWindow <= 0 {
		leadWindow = DefaultRefreshLeadWindow
	}
	return expiresAt.UTC().Before(now.UTC().Add(leadWindow))
}

// RefreshCutoff is the expiry bound used by the refresh sweep: connections
// expiring before it are queued for refresh.
func RefreshCutoff(now time.Time, sweepWindow time.Duration) time.Time {
	if sweepWindow <= 0 {
		sweepWindow = DefaultRefreshSweepWindow
	}
	return now.UTC().Add(sweepWindow)
}

// mergeTokens applies a provider token response on top of the current
// credential. Providers that do not rotate refresh tokens return an empty one.
func mergeTokens(current ActiveCredential, next TokenSet, now time.Time) ActiveCredential {
	merged := current
	merged.AccessToken = next.AccessToken
	if next.RefreshToken != "" {
		merged.RefreshToken = next.RefreshToken
	}
	merged.TokenExpiresAt = next.ExpiresAt(now)
	return merged
}
