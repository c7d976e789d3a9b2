package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bankline-io/bankline-worker/internal/models"
)

// ErrorKind is the closed taxonomy every provider failure is mapped into.
type ErrorKind string

const (
	// KindDisconnected means the connection needs user re-authorization; not retried
	KindDisconnected ErrorKind = "disconnected"
	// KindRateLimited is retryable after the provider-suggested delay
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient is retryable with standard backoff
	KindTransient ErrorKind = "transient"
	// KindUnknown is treated as terminal after exhausting retries
	KindUnknown ErrorKind = "unknown"
)

// Error is a provider failure classified into the taxonomy
type Error struct {
	Kind       ErrorKind
	Provider   models.ProviderKind
	RetryAfter time.Duration // only set for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify returns the taxonomy kind for err, defaulting to KindUnknown for
// anything that is not a classified provider error.
func Classify(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// RetryAfter returns the provider-suggested delay for a rate-limited error,
// or zero when none applies.
func RetryAfter(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimited {
		return pe.RetryAfter
	}
	return 0
}

// ErrUnsupportedProvider indicates a provider kind with no registered adapter.
// This is a configuration error, fatal at startup when any persisted
// connection would be affected.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// classifyStatus maps an HTTP response status into the taxonomy. The mapping
// is shared across adapters; providers only differ in how they surface the
// Retry-After hint.
func classifyStatus(kind models.ProviderKind, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{
			Kind:     KindDisconnected,
			Provider: kind,
			Err:      fmt.Errorf("provider returned %d, re-authorization required", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			Provider:   kind,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("provider rate limit hit"),
		}
	case resp.StatusCode >= 500:
		return &Error{
			Kind:     KindTransient,
			Provider: kind,
			Err:      fmt.Errorf("provider returned %d", resp.StatusCode),
		}
	default:
		return &Error{
			Kind:     KindUnknown,
			Provider: kind,
			Err:      fmt.Errorf("unexpected provider status %d", resp.StatusCode),
		}
	}
}

// transient wraps a network-level failure (timeouts included) as retryable
func transient(kind models.ProviderKind, err error) error {
	return &Error{Kind: KindTransient, Provider: kind, Err: err}
}

// parseRetryAfter parses a Retry-After header value in seconds
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
