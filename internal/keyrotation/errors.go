package keyrotation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from a keyed external API.
// Clients return it so the pool can classify the failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// ConfigurationError means a pool has no credentials. It is returned
// before any network call is made.
type ConfigurationError struct {
	Pool string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no API keys configured for %s", e.Pool)
}

// AllKeysExhaustedError means every key in one full rotation was rejected
// with a quota or auth failure.
type AllKeysExhaustedError struct {
	Pool     string
	Endpoint string
	Attempts int
	Causes   []error
}

func (e *AllKeysExhaustedError) Error() string {
	last := ""
	if len(e.Causes) > 0 {
		last = ": " + e.Causes[len(e.Causes)-1].Error()
	}
	return fmt.Sprintf("%s %s: all %d keys exhausted%s", e.Pool, e.Endpoint, e.Attempts, last)
}

func (e *AllKeysExhaustedError) Unwrap() []error {
	return e.Causes
}

// IsQuotaError reports whether err means the key itself was refused:
// HTTP 400/401/403, or any message mentioning quota.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "quota")
}

// IsTransient reports whether err is worth retrying with the same key:
// network failures, timeouts, HTTP 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil || IsQuotaError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
