package sync

import (
	"errors"
	"fmt"

	"github.com/Diablofan/taiga/internal/library"
)

// Sentinel errors for the sync package.
var (
	// ErrCanceled indicates the request was canceled before completion.
	ErrCanceled = errors.New("request canceled")

	// ErrReauthRequired indicates refresh failed and the user must
	// authenticate again.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrUnknownProvider indicates no adapter is registered for the
	// requested provider.
	ErrUnknownProvider = errors.New("unknown provider")
)

// TransportError wraps a network-level failure. The dispatcher retries these
// with backoff.
type TransportError struct {
	Provider library.ProviderID
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthExpiredError indicates the vendor rejected a stale token. The
// dispatcher refreshes and retries the original request exactly once.
type AuthExpiredError struct {
	Provider library.ProviderID
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("%s: authentication expired", e.Provider)
}

// VendorError is a structured failure reported by the vendor's response
// body. Never retried.
type VendorError struct {
	Provider library.ProviderID
	Message  string

	// NotFound marks the semantic "entity no longer exists upstream"
	// condition so callers can mark the item delisted instead of treating
	// the failure as transient.
	NotFound bool
}

func (e *VendorError) Error() string { return e.Message }

// ParseError indicates a malformed or unexpected response body. Never
// retried; carries request-type context for logging.
type ParseError struct {
	Provider library.ProviderID
	Type     RequestType
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Type, e.Message)
}

// IsRetryable reports whether the dispatcher may retry the request with
// backoff.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAuthExpired reports whether the error is a stale-token rejection.
func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}

// IsNotFound reports whether the vendor said the queried entity no longer
// exists.
func IsNotFound(err error) bool {
	var ve *VendorError
	return errors.As(err, &ve) && ve.NotFound
}
