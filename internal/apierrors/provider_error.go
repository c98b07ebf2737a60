// Package apierrors classifies failures crossing the provider and HTTP
// boundaries and renders the OpenAI-shaped error envelope the Gateway
// returns to callers.
package apierrors

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies a provider adapter failure into the taxonomy
// every adapter must reproduce.
type ProviderErrorKind string

const (
	// KindUnavailable indicates connection refused, 5xx, or throttling.
	KindUnavailable ProviderErrorKind = "unavailable"
	// KindInvalidResponse indicates a malformed or unparsable provider body.
	KindInvalidResponse ProviderErrorKind = "invalid_response"
	// KindTimeout indicates the call exceeded its deadline.
	KindTimeout ProviderErrorKind = "timeout"
	// KindConfigError indicates missing SDK configuration or credentials.
	KindConfigError ProviderErrorKind = "config_error"
	// KindNotImplemented indicates an unsupported provider or feature.
	KindNotImplemented ProviderErrorKind = "not_implemented"
	// KindBadRequest maps upstream HTTP 400.
	KindBadRequest ProviderErrorKind = "bad_request"
	// KindAuthFailed maps upstream HTTP 401/403.
	KindAuthFailed ProviderErrorKind = "auth_failed"
	// KindRateLimited maps upstream HTTP 429.
	KindRateLimited ProviderErrorKind = "rate_limited"
	// KindNotFound maps upstream HTTP 404.
	KindNotFound ProviderErrorKind = "not_found"
)

// ProviderError describes a failure surfaced by a provider adapter. It
// crosses the adapter/engine boundary so the Run Engine can populate
// Run.last_error with a stable shape.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	HTTP     int
	Message  string
	cause    error
}

// NewProviderError constructs a ProviderError. provider and kind are
// required; cause may be nil but should be supplied when available to
// preserve the original error chain.
func NewProviderError(provider string, kind ProviderErrorKind, httpStatus int, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, HTTP: httpStatus, Message: message, cause: cause}
}

func (e *ProviderError) Error() string {
	if e.Message == "" && e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyHTTPStatus maps an upstream HTTP status code to a ProviderErrorKind
// following the fixed mapping in the error handling design: 400 -> bad
// request, 401/403 -> auth failed, 404 -> not found, 429 -> rate limited,
// 5xx -> unavailable. Any other status is reported as invalid_response.
func ClassifyHTTPStatus(status int) ProviderErrorKind {
	switch {
	case status == 400:
		return KindBadRequest
	case status == 401 || status == 403:
		return KindAuthFailed
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindUnavailable
	default:
		return KindInvalidResponse
	}
}
