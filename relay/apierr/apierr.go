// Package apierr implements the gateway's closed error taxonomy (spec.md §7).
// Every error that crosses a component boundary (credpool, tokencache,
// adaptor, router, streaming) is, or wraps, one of the Kind values below, so
// the router and HTTP controllers can translate it into the right status
// code and client-protocol error body without string-sniffing.
package apierr

import (
	"fmt"
	"net/http"

	"github.com/Laisky/errors/v2"
)

// Kind is the closed error taxonomy from spec.md §7.
type Kind string

const (
	ConfigurationError Kind = "configuration_error"
	AuthenticationError Kind = "authentication_error"
	TokenRefreshInvalidGrant Kind = "token_refresh_invalid_grant"
	TokenRefreshNetworkError Kind = "token_refresh_network_error"
	TokenRefreshServerError  Kind = "token_refresh_server_error"
	TokenRefreshUnknown      Kind = "token_refresh_unknown"
	QuotaExceeded   Kind = "quota_exceeded"
	UpstreamError   Kind = "upstream_error"
	StreamParseError Kind = "stream_parse_error"
	SelectionError  Kind = "selection_error"
	ValidationError Kind = "validation_error"
)

// Error is the concrete type carried through the gateway for every taxonomy
// member. Status/Body/RequiresReauth/Retryable are filled in by the
// constructors below per the spec.md §7 table.
type Error struct {
	Kind            Kind
	Message         string
	Status          int  // upstream status, when UpstreamError/QuotaExceeded
	RequiresReauth  bool // TokenRefreshInvalidGrant: credential needs re-login
	Retryable       bool // NetworkError/ServerError/UpstreamError in 5xx/429
	cause           error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode maps the error to the HTTP status the gateway's own client
// protocol endpoints should return (spec.md §7 "Surfaced as" column, client
// side).
func (e *Error) StatusCode() int {
	switch e.Kind {
	case ConfigurationError, ValidationError:
		return http.StatusBadRequest
	case AuthenticationError:
		return http.StatusUnauthorized
	case SelectionError:
		return http.StatusServiceUnavailable
	case QuotaExceeded:
		return http.StatusTooManyRequests
	case UpstreamError:
		if e.Status != 0 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New builds a taxonomy error of the given kind wrapping cause (may be nil).
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Configuration(message string, cause error) *Error {
	return New(ConfigurationError, message, cause)
}

func Authentication(message string, cause error) *Error {
	return New(AuthenticationError, message, cause)
}

// RefreshInvalidGrant marks err as an OAuth invalid_grant response: never
// retried, the owning credential must flip unhealthy with requires_reauth.
func RefreshInvalidGrant(message string, cause error) *Error {
	e := New(TokenRefreshInvalidGrant, message, cause)
	e.RequiresReauth = true
	return e
}

func RefreshNetworkError(message string, cause error) *Error {
	e := New(TokenRefreshNetworkError, message, cause)
	e.Retryable = true
	return e
}

func RefreshServerError(message string, cause error) *Error {
	e := New(TokenRefreshServerError, message, cause)
	e.Retryable = true
	return e
}

func RefreshUnknown(message string, cause error) *Error {
	return New(TokenRefreshUnknown, message, cause)
}

func Quota(status int, message string) *Error {
	e := New(QuotaExceeded, message, nil)
	e.Status = status
	return e
}

// Upstream wraps a non-2xx upstream response. Retryable is set for 5xx/429
// per spec.md §7 policy ("local recovery attempted exclusively for transient
// classes").
func Upstream(status int, body string) *Error {
	e := New(UpstreamError, body, nil)
	e.Status = status
	e.Retryable = status >= 500 || status == http.StatusTooManyRequests
	return e
}

func StreamParse(message string, cause error) *Error {
	return New(StreamParseError, message, cause)
}

func Selection(message string) *Error {
	return New(SelectionError, message, nil)
}

func Validation(message string) *Error {
	return New(ValidationError, message, nil)
}

// As reports whether err (or something it wraps) is an *Error, and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
