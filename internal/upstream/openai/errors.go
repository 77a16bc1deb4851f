package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrMissingCredential is returned before any network I/O when neither the
// request context nor the client carries an API key.
var ErrMissingCredential = errors.New("upstream API key is not configured")

// RequestError reports a failure to get a usable response from the provider:
// transport errors, timeouts, non-2xx statuses and malformed bodies.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		if e.StatusCode != 0 {
			return fmt.Sprintf("upstream %s request failed with status %d: %v", e.Endpoint, e.StatusCode, e.Err)
		}
		return fmt.Sprintf("upstream %s request failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("upstream %s request failed with status %d", e.Endpoint, e.StatusCode)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func (e *RequestError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ProviderError is a logical error reported by a reachable provider.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error (%s): %s", e.Code, e.Message)
	}
	return "provider error: " + e.Message
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	if reqErr.StatusCode == 0 {
		return !errors.Is(reqErr.Err, context.Canceled)
	}
	return reqErr.StatusCode == 429 || reqErr.StatusCode >= 500
}
