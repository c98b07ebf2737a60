package apierrors

import (
	"encoding/json"
	"net/http"
)

// Kind is the HTTP-facing error taxonomy the Gateway maps every failure
// into before rendering the OpenAI-shaped error envelope.
type Kind string

const (
	// KindInvalidRequest covers malformed bodies and missing or invalid
	// fields (maps to HTTP 400); unknown IDs are reported as KindNotFound.
	KindInvalidRequest Kind = "invalid_request_error"
	// KindAuthentication covers missing/invalid bearer credentials.
	KindAuthentication Kind = "authentication_error"
	// KindPermissionDenied covers authenticated-but-forbidden requests.
	KindPermissionDenied Kind = "permission_denied_error"
	// KindNotFound covers missing entities.
	KindNotFound Kind = "not_found_error"
	// KindRateLimit covers HTTP 429 responses.
	KindRateLimit Kind = "rate_limit_error"
	// KindServerError covers every unclassified or provider-wrapped
	// server-side failure, HTTP 500.
	KindServerError Kind = "server_error"
)

// HTTPError is an OpenAI-shaped error envelope paired with the HTTP status
// it should be rendered with.
type HTTPError struct {
	Status  int
	Kind    Kind
	Message string
	Code    string
	Param   string
}

func (e *HTTPError) Error() string { return e.Message }

// Envelope is the wire shape `{error:{message,type,code,param?}}`.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody is the inner `error` object of Envelope.
type EnvelopeBody struct {
	Message string `json:"message"`
	Type    Kind   `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// New builds an *HTTPError whose status is implied by kind, per the fixed
// Kind -> HTTP status mapping.
func New(kind Kind, message string) *HTTPError {
	return &HTTPError{Status: statusFor(kind), Kind: kind, Message: message}
}

// WithCode attaches a machine-readable code to the error.
func (e *HTTPError) WithCode(code string) *HTTPError {
	e.Code = code
	return e
}

// WithParam attaches the offending request parameter name.
func (e *HTTPError) WithParam(param string) *HTTPError {
	e.Param = param
	return e
}

func statusFor(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// FromProviderError maps a ProviderError, as surfaced by an adapter, to the
// HTTP-facing error envelope. Provider-wrapped `upstream_*` subtypes
// collapse into server_error at the HTTP boundary; the caller is expected to
// have already logged the richer ProviderError classification.
func FromProviderError(pe *ProviderError) *HTTPError {
	switch pe.Kind {
	case KindBadRequest:
		return New(KindInvalidRequest, pe.Message)
	case KindAuthFailed:
		return New(KindAuthentication, pe.Message)
	case KindNotFound:
		return New(KindNotFound, pe.Message)
	case KindRateLimited:
		return New(KindRateLimit, pe.Message)
	default:
		return New(KindServerError, pe.Message)
	}
}

// WriteJSON renders the HTTPError as the OpenAI-shaped JSON envelope onto w.
func WriteJSON(w http.ResponseWriter, err *HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: EnvelopeBody{
		Message: err.Message,
		Type:    err.Kind,
		Code:    err.Code,
		Param:   err.Param,
	}})
}
