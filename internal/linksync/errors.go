package linksync

import (
	"errors"
	"fmt"
)

var (
	// ErrSiteRemoved is returned by authentication when the remote service no
	// longer knows the site.
	ErrSiteRemoved = errors.New("site has been removed from the remote service")

	// ErrNoCredentials is returned when no API key has been stored.
	ErrNoCredentials = errors.New("no API key configured")
)

// AuthError reports a missing, invalid or expired access token.
type AuthError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("authentication failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authentication failed (%d)", e.StatusCode)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports that no usable response was received.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteRejection is a non-2xx response carrying a message body.
type RemoteRejection struct {
	StatusCode int
	Message    string
	Remain     int
	Notify     bool
}

func (e *RemoteRejection) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote rejected request: Error Code-%d", e.StatusCode)
	}
	return fmt.Sprintf("%s. Error Code-%d", e.Message, e.StatusCode)
}

// StorageError wraps a queue store failure. It aborts the session.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
