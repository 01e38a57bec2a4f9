package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput             = "SYNC_BAD_INPUT"
	ServiceErrorNotFound             = "SYNC_NOT_FOUND"
	ServiceErrorProviderNotFound     = "SYNC_PROVIDER_NOT_FOUND"
	ServiceErrorCredentialDecryption = "SYNC_CREDENTIAL_DECRYPTION_FAILED"
	ServiceErrorProviderAPIFailure   = "SYNC_PROVIDER_API_FAILURE"
	ServiceErrorRefreshLocked        = "SYNC_REFRESH_LOCKED"
	ServiceErrorRateLimited          = "SYNC_RATE_LIMITED"
	ServiceErrorInternal             = "SYNC_INTERNAL_ERROR"
)

const maxProviderErrorBody = 2048

var (
	ErrCredentialDecryption = errors.New("core: credential decryption failed")
	ErrProviderAPI          = errors.New("core: provider api failure")
	ErrUnknownProvider      = errors.New("core: provider not registered")
	ErrNotFound             = errors.New("core: not found")
	ErrRefreshLocked        = errors.New("core: refresh lock already held")
)

// ServiceErrorer is implemented by typed errors that know their envelope.
type ServiceErrorer interface {
	ToServiceError() *goerrors.Error
}

// ProviderAPIError is a non-2xx response (or transport failure) from a
// provider. StatusCode is zero when no response was received.
type ProviderAPIError struct {
	ProviderID string
	Operation  string
	StatusCode int
	Body       string
	Cause      error
}

func (e *ProviderAPIError) Error() string {
	if e == nil {
		return ErrProviderAPI.Error()
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s: %s %s failed", ErrProviderAPI.Error(), e.ProviderID, e.Operation))
	if e.StatusCode > 0 {
		b.WriteString(fmt.Sprintf(": status %d", e.StatusCode))
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		b.WriteString(" ")
		b.WriteString(body)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderAPIError) Unwrap() []error {
	if e == nil || e.Cause == nil {
		return []error{ErrProviderAPI}
	}
	return []error{ErrProviderAPI, e.Cause}
}

func (e *ProviderAPIError) IsNotFound() bool {
	return e != nil && e.StatusCode == http.StatusNotFound
}

func (e *ProviderAPIError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"provider_id": e.ProviderID,
		"operation":   e.Operation,
	}
	if e.StatusCode > 0 {
		metadata["status_code"] = e.StatusCode
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		metadata["provider_body"] = body
	}
	return goerrors.New(e.Error(), goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(ServiceErrorProviderAPIFailure).
		WithMetadata(metadata)
}

// NewProviderAPIError builds a provider failure, truncating large bodies.
func NewProviderAPIError(providerID string, operation string, statusCode int, body []byte, cause error) *ProviderAPIError {
	text := strings.TrimSpace(string(body))
	if len(text) > maxProviderErrorBody {
		text = text[:maxProviderErrorBody]
	}
	return &ProviderAPIError{
		ProviderID: strings.TrimSpace(providerID),
		Operation:  strings.TrimSpace(operation),
		StatusCode: statusCode,
		Body:       text,
		Cause:      cause,
	}
}

type CredentialDecryptionError struct {
	Cause error
}

func (e *CredentialDecryptionError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrCredentialDecryption.Error()
	}
	return ErrCredentialDecryption.Error() + ": " + e.Cause.Error()
}

func (e *CredentialDecryptionError) Unwrap() []error {
	if e == nil || e.Cause == nil {
		return []error{ErrCredentialDecryption}
	}
	return []error{ErrCredentialDecryption, e.Cause}
}

func (e *CredentialDecryptionError) ToServiceError() *goerrors.Error {
	return goerrors.New(ErrCredentialDecryption.Error(), goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ServiceErrorCredentialDecryption)
}

type UnknownProviderError struct {
	ProviderID string
}

func (e *UnknownProviderError) Error() string {
	if e == nil {
		return ErrUnknownProvider.Error()
	}
	return fmt.Sprintf("%s: %s", ErrUnknownProvider.Error(), e.ProviderID)
}

func (e *UnknownProviderError) Unwrap() error {
	return ErrUnknownProvider
}

func (e *UnknownProviderError) ToServiceError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ServiceErrorProviderNotFound).
		WithMetadata(map[string]any{"provider_id": e.ProviderID})
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ErrNotFound.Error()
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Sprintf("core: %s not found", e.Resource)
	}
	return fmt.Sprintf("core: %s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func (e *NotFoundError) ToServiceError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ServiceErrorNotFound).
		WithMetadata(map[string]any{"resource": e.Resource, "id": e.ID})
}

func NewNotFoundError(resource string, id string) error {
	return &NotFoundError{Resource: strings.TrimSpace(resource), ID: strings.TrimSpace(id)}
}

func NewBadInputError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ServiceErrorBadInput)
}

func NewValidationError(field string, message string) error {
	return goerrors.NewValidation("validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ServiceErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

// MapError converts any error into the go-errors envelope used at the
// boundary. It never returns nil for a non-nil input.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

// ErrorKind returns the machine-readable text code of err.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	mapped := serviceErrorMapper(err)
	if mapped == nil {
		return ServiceErrorInternal
	}
	return mapped.TextCode
}

// IsRetryable reports whether a task failing with err should be retried by
// the queue. Provider failures and transient internal errors retry;
// decryption failures, unknown providers, missing rows and bad input do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ErrorKind(err) {
	case ServiceErrorCredentialDecryption,
		ServiceErrorProviderNotFound,
		ServiceErrorNotFound,
		ServiceErrorBadInput:
		return false
	default:
		return true
	}
}

// RetryAfterHinter is implemented by errors that know when a retry can
// succeed, such as a throttled provider bucket.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// RetryAfter returns the largest retry hint found in err's chain.
func RetryAfter(err error) (time.Duration, bool) {
	var hinter RetryAfterHinter
	if err == nil || !errors.As(err, &hinter) {
		return 0, false
	}
	hint := hinter.RetryAfterHint()
	return hint, hint > 0
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var typed ServiceErrorer
	if errors.As(err, &typed) && typed != nil {
		return ensureServiceErrorEnvelope(typed.ToServiceError())
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrCredentialDecryption):
		return newServiceError(err.Error(), goerrors.CategoryInternal, ServiceErrorCredentialDecryption)
	case errors.Is(err, ErrUnknownProvider):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorProviderNotFound)
	case errors.Is(err, ErrNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotFound)
	case errors.Is(err, ErrRefreshLocked):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorRefreshLocked)
	case errors.Is(err, ErrProviderAPI):
		return newServiceError(err.Error(), goerrors.CategoryExternal, ServiceErrorProviderAPIFailure)
	}

	// Untyped errors are classified by type only; their text is driver or
	// transport output and never decides retryability.
	if mapped := goerrors.MapHTTPErrors(err); mapped != nil {
		return ensureServiceErrorEnvelope(mapped)
	}
	return newServiceError(err.Error(), goerrors.CategoryInternal, ServiceErrorInternal)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryConflict:
		return ServiceErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryExternal:
		return ServiceErrorProviderAPIFailure
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
