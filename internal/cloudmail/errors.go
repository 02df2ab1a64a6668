// Package cloudmail provides a cookie-authenticated HTTP client for the
// Mail.ru Cloud web API with automatic retry and error classification.
package cloudmail

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, cloudmail.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("cloudmail: bad request")
	ErrUnauthorized = errors.New("cloudmail: unauthorized")
	ErrForbidden    = errors.New("cloudmail: forbidden")
	ErrNotFound     = errors.New("cloudmail: not found")
	ErrConflict     = errors.New("cloudmail: conflict")
	ErrThrottled    = errors.New("cloudmail: throttled")
	ErrServerError  = errors.New("cloudmail: server error")
)

// ErrAuthFailed is returned by Authenticate when the service does not accept
// the login and password.
var ErrAuthFailed = errors.New("cloudmail: authentication failed")

// ErrNoUploadShard is returned when the dispatcher lists no upload endpoint.
var ErrNoUploadShard = errors.New("cloudmail: dispatcher returned no upload shard")

// APIError wraps a sentinel error with the HTTP status code, the request
// that failed and the response body for debugging.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudmail: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded, sent by upload shards under load.
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}

// isSessionRejected reports whether err means the server refused the
// current cookies, as opposed to a transport or server failure.
func isSessionRejected(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
