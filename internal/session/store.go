// Package session stores the authenticated-session record for each user
// context.
package session

import (
	"context"
	"errors"
	"time"

	"bjpass-go/internal/token"
)

// ErrNotFound is returned when no live session exists for the ID.
var ErrNotFound = errors.New("session not found")

// Record is the authenticated-session state. A record is either fully
// populated or absent; callers never observe a partial one. ExpiresAt always
// derives from the most recently accepted token response.
type Record struct {
	User            token.Claims `json:"user"`
	AccessToken     string       `json:"access_token"`
	RefreshToken    string       `json:"refresh_token,omitempty"`
	ExpiresAt       time.Time    `json:"expires_at"`
	AuthenticatedAt time.Time    `json:"authenticated_at"`
}

// Expired reports whether the access token has outlived its lifetime.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// Store defines the interface for session persistence. Records are scoped
// per session ID; no cross-session sharing is permitted.
type Store interface {
	// Put stores or replaces the record for a session.
	Put(ctx context.Context, sessionID string, rec *Record) error
	// Get retrieves the record, or ErrNotFound when absent or expired out
	// of the store.
	Get(ctx context.Context, sessionID string) (*Record, error)
	// Delete removes the session record.
	Delete(ctx context.Context, sessionID string) error
}
