package domain

import (
	"context"
	"errors"
	"net"
)

var (
	ErrMissingCredential = errors.New("REPLICATE_API_TOKEN is not set in the backend environment.")
	ErrMissingFile       = errors.New("file is required")
	ErrCapacityExhausted = errors.New("generation capacity exhausted")
)

// ConfigurationError reports a server-side misconfiguration detected before
// any work is done. It is never retryable.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// UploadError reports a problem with the incoming multipart upload. Invalid is
// set when the client sent something malformed, as opposed to a read failure.
type UploadError struct {
	Field   string
	Invalid bool
	Err     error
}

func (e *UploadError) Error() string { return e.Err.Error() }
func (e *UploadError) Unwrap() error { return e.Err }

// ProviderError wraps a failure of the outbound generation call. Error returns
// the provider's own description unchanged.
type ProviderError struct {
	Err       error
	retryable bool
}

// NewProviderError classifies err. Transport failures and timeouts are
// retryable; anything else is treated as permanent unless the caller says
// otherwise through the retryable hint.
func NewProviderError(err error, retryable bool) *ProviderError {
	if !retryable {
		var netErr net.Error
		retryable = errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	}
	return &ProviderError{Err: err, retryable: retryable}
}

func (e *ProviderError) Error() string   { return e.Err.Error() }
func (e *ProviderError) Unwrap() error   { return e.Err }
func (e *ProviderError) Retryable() bool { return e.retryable }

// IsRetryable reports whether a client resubmitting the same request could
// reasonably succeed.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrCapacityExhausted) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
