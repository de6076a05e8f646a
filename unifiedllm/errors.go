package unifiedllm

import (
	"context"
	"errors"
	"fmt"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from the Retry-After header when present
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) providerError() *ProviderError { return e }

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamProtocolError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// APIError is the terminal failure the Client reports once a call can no
// longer be retried, either because the cause is not retryable or because the
// retry budget is spent. Retryable is always false on errors returned by
// Client; the underlying classified error is available via errors.As.
type APIError struct {
	Provider   string
	StatusCode int
	Attempts   int
	Retryable  bool
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] API error %d after %d attempt(s): %v", e.Provider, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("[%s] API error after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// retryableStatus is the set of HTTP statuses worth retrying. 529 is
// Anthropic's "overloaded".
var retryableStatus = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true, 529: true,
}

// RetryableStatus reports whether an HTTP status code is transient.
func RetryableStatus(code int) bool {
	return retryableStatus[code]
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string, cause error, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message, Cause: cause},
		Provider:   provider,
		StatusCode: statusCode,
		Retryable:  RetryableStatus(statusCode),
		RetryAfter: retryAfter,
	}

	switch {
	case statusCode == 400 || statusCode == 422:
		return &InvalidRequestError{ProviderError: pe}
	case statusCode == 401:
		return &AuthenticationError{ProviderError: pe}
	case statusCode == 403:
		return &AccessDeniedError{ProviderError: pe}
	case statusCode == 404:
		return &NotFoundError{ProviderError: pe}
	case statusCode == 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case statusCode == 413:
		return &ContextLengthError{ProviderError: pe}
	case statusCode == 429:
		return &RateLimitError{ProviderError: pe}
	case statusCode >= 500:
		return &ServerError{ProviderError: pe}
	default:
		return &pe
	}
}

// AsProviderError finds the ProviderError embedded in any of the concrete
// provider error types in err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe interface{ providerError() *ProviderError }
	if errors.As(err, &pe) {
		return pe.providerError(), true
	}
	return nil, false
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	var abortErr *AbortError
	var cfgErr *ConfigurationError
	if errors.As(err, &abortErr) || errors.As(err, &cfgErr) {
		return false
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Retryable
	}

	var timeoutErr *RequestTimeoutError
	var netErr *NetworkError
	var streamErr *StreamProtocolError
	switch {
	case errors.As(err, &timeoutErr), errors.As(err, &netErr), errors.As(err, &streamErr):
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// statusCodeOf extracts an HTTP status from a classified error, or 0.
func statusCodeOf(err error) int {
	if pe, ok := AsProviderError(err); ok {
		return pe.StatusCode
	}
	var timeoutErr *RequestTimeoutError
	if errors.As(err, &timeoutErr) {
		return 408
	}
	return 0
}
