package llm

import (
	"errors"
	"fmt"
)

// ErrNoProviders indicates no enabled provider supports the requested model.
var ErrNoProviders = errors.New("no provider available for request")

// ErrorKind classifies a provider failure for retry and fallback decisions.
type ErrorKind string

// Error kinds.
const (
	// KindAuth is an HTTP 401; the provider's credentials are invalid.
	// Never retried.
	KindAuth ErrorKind = "auth"

	// KindRateLimit is an HTTP 429 or a local rate limiter refusal.
	// Retried with extended backoff.
	KindRateLimit ErrorKind = "rate_limit"

	// KindServer is a 5xx response. Retried with classified backoff.
	KindServer ErrorKind = "server"

	// KindTimeout is a transport timeout or connection failure. Retried.
	KindTimeout ErrorKind = "timeout"

	// KindValidation is a malformed or oversized request. Never retried.
	KindValidation ErrorKind = "validation"

	// KindAPI is any other non-2xx response. Never retried.
	KindAPI ErrorKind = "api"
)

// Error is a classified provider failure.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error returns the formatted message.
func (e *Error) Error() string {
	if e.Provider != "" {
		if e.StatusCode != 0 {
			return fmt.Sprintf("provider %s: %s (HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindTimeout:
		return true
	}
	return false
}

// classify extracts the Error from err, wrapping unclassified errors as
// timeouts (transport-level failures).
func classify(provider string, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Provider == "" {
			perr.Provider = provider
		}
		return perr
	}
	return &Error{Provider: provider, Kind: KindTimeout, Message: err.Error(), Err: err}
}
