package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the chat client
var (
	// Authentication errors
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrRefreshFailed          = errors.New("token refresh failed")

	// Session errors
	ErrNoSession       = errors.New("no active session")
	ErrSessionNotFound = errors.New("session not found")
	ErrStaleSession    = errors.New("session changed meanwhile")

	// Transport errors
	ErrNetwork = errors.New("network error")

	// Backend errors
	ErrConversationNotFound = errors.New("conversation not found")
	ErrForbidden            = errors.New("forbidden")

	// General errors
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// RequestFailedError is returned when the server answered with a non-2xx status.
type RequestFailedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// IsDefinitive reports whether retrying the same request can never succeed
// (the conversation is gone or the user may not post to it).
func (e *RequestFailedError) IsDefinitive() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusForbidden
}

func (e *RequestFailedError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	}
	return false
}

// NetworkError wraps a transport failure: the server could not be reached.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrNetwork, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// IsDefinitiveRejection reports whether err is a server rejection that will
// never succeed on retry.
func IsDefinitiveRejection(err error) bool {
	var rf *RequestFailedError
	return errors.As(err, &rf) && rf.IsDefinitive()
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
