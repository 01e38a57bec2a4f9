package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestMapError_TypedErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		textCode string
		status   int
		retry    bool
	}{
		{"decrypt", &CredentialDecryptionError{Cause: fmt.Errorf("tag mismatch")}, ServiceErrorCredentialDecryption, http.StatusInternalServerError, false},
		{"provider", NewProviderAPIError("hubspot", "fetch_contacts", 503, []byte("unavailable"), nil), ServiceErrorProviderAPIFailure, http.StatusBadGateway, true},
		{"unknown", &UnknownProviderError{ProviderID: "x"}, ServiceErrorProviderNotFound, http.StatusNotFound, false},
		{"missing", NewNotFoundError("connection", "c1"), ServiceErrorNotFound, http.StatusNotFound, false},
		{"locked", ErrRefreshLocked, ServiceErrorRefreshLocked, http.StatusConflict, true},
		{"validation", NewValidationError("user_id", "required"), ServiceErrorBadInput, http.StatusBadRequest, false},
		{"wrapped", fmt.Errorf("sync: %w", &CredentialDecryptionError{}), ServiceErrorCredentialDecryption, http.StatusInternalServerError, false},
		{"plain", errors.New("database is on fire"), ServiceErrorInternal, http.StatusInternalServerError, true},
		{"driver invalid input", errors.New(`pq: invalid input syntax for type uuid: "x"`), ServiceErrorInternal, http.StatusInternalServerError, true},
		{"driver invalid connection", fmt.Errorf("sqlstore: %w", errors.New("driver: invalid connection")), ServiceErrorInternal, http.StatusInternalServerError, true},
		{"config required", errors.New("core: job enqueuer is required to request a sync"), ServiceErrorInternal, http.StatusInternalServerError, true},
		{"lock wording without sentinel", errors.New("lock already held by peer"), ServiceErrorInternal, http.StatusInternalServerError, true},
		{"wrapped locked", fmt.Errorf("refresh: %w", ErrRefreshLocked), ServiceErrorRefreshLocked, http.StatusConflict, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := MapError(tc.err)
			if mapped == nil {
				t.Fatalf("expected envelope")
			}
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %s, got %s", tc.textCode, mapped.TextCode)
			}
			if mapped.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, mapped.Code)
			}
			if IsRetryable(tc.err) != tc.retry {
				t.Fatalf("expected retryable=%v", tc.retry)
			}
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	if MapError(nil) != nil {
		t.Fatalf("expected nil envelope for nil error")
	}
	if ErrorKind(nil) != "" || IsRetryable(nil) {
		t.Fatalf("expected nil error to have no kind and not retry")
	}
}

func TestProviderAPIError_TruncatesBodyAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewProviderAPIError("zendesk", "refresh", 0, []byte(strings.Repeat("x", 5000)), cause)
	if len(err.Body) != maxProviderErrorBody {
		t.Fatalf("expected body truncated to %d, got %d", maxProviderErrorBody, len(err.Body))
	}
	if !errors.Is(err, ErrProviderAPI) || !errors.Is(err, cause) {
		t.Fatalf("expected error to unwrap to sentinel and cause")
	}
	envelope := err.ToServiceError()
	if envelope.Metadata["provider_id"] != "zendesk" {
		t.Fatalf("expected provider metadata, got %v", envelope.Metadata)
	}
	if _, ok := envelope.Metadata["status_code"]; ok {
		t.Fatalf("expected no status code without a response")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected cause in message, got %q", err.Error())
	}
}

func TestProviderAPIError_IsNotFound(t *testing.T) {
	if !NewProviderAPIError("hubspot", "revoke", 404, nil, nil).IsNotFound() {
		t.Fatalf("expected 404 to be not found")
	}
	if NewProviderAPIError("hubspot", "revoke", 500, nil, nil).IsNotFound() {
		t.Fatalf("expected 500 not to be not found")
	}
}
