package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowNotFound is returned when no authorization attempt is in flight
	// for the session context.
	ErrFlowNotFound = errors.New("no authorization flow in progress")

	// ErrFlowExpired is returned when the stored PKCE record is older than the
	// configured max age. Distinct from ErrFlowNotFound so callers can tell an
	// expired attempt apart from a consumed or never-started one.
	ErrFlowExpired = errors.New("authorization flow expired")
)

// ConfigurationError indicates missing or invalid client configuration.
// It is fatal and raised at construction time, never mid-flow.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration field %q is required", e.Field)
}

// AuthenticationError covers protocol-level failures of the authorization
// flow itself: state mismatch, expired PKCE session, provider-reported
// errors. Recoverable by restarting the flow.
type AuthenticationError struct {
	Code        string
	Description string
	Err         error
}

func (e *AuthenticationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authentication failed: %s", e.Code)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }
