package auth

import (
	"errors"
	"fmt"
)

// Phase names the credential operation that failed.
type Phase string

const (
	PhaseInitialize Phase = "initialize"
	PhaseReauth     Phase = "reauth"
)

var (
	// ErrCredentialUnavailable is returned when an upstream call needs a token
	// and none has been obtained yet (or the manager has been shut down).
	ErrCredentialUnavailable = errors.New("service credential unavailable")

	// ErrShutdown is returned by a login that completed after Shutdown.
	ErrShutdown = errors.New("credential manager shut down")
)

// Error wraps a failed login with the phase it happened in.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// LoginError reports a login endpoint response that did not yield a token.
type LoginError struct {
	StatusCode int
	Message    string
}

func (e *LoginError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("login rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("login rejected with status %d: %s", e.StatusCode, e.Message)
}
