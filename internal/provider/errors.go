package provider

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableProviders = errors.New("no available providers")
	ErrMalformedResponse    = errors.New("malformed provider response")
)

// APIError is a non-2xx reply from the calls API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, strings.TrimSpace(body))
}

func (e *APIError) Retryable() bool {
	return e.StatusCode == fasthttp.StatusRequestTimeout ||
		e.StatusCode == fasthttp.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// TransportError wraps a failure to reach the provider at all.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, ErrNoAvailableProviders)
}
