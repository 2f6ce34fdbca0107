package client

import (
	"errors"
	"fmt"
)

// NetworkError reports a transport-level failure: DNS, refused connection,
// timeout or cancelled context.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network failure: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx reply. The body is not inspected.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("HTTP error! status: %d", e.StatusCode) }

// ParseError reports a reply body that is not valid JSON.
type ParseError struct {
	Body string
}

func (e *ParseError) Error() string { return fmt.Sprintf("invalid reply body: %q", e.Body) }

// Classify names the failure kind of err for logs and metrics.
func Classify(err error) string {
	var netErr *NetworkError
	var httpErr *HTTPError
	var parseErr *ParseError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &netErr):
		return "network"
	default:
		return "unknown"
	}
}
