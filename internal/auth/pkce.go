package auth

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// PkceRecord is the ephemeral per-flow state written before the authorization
// URL is handed out and consumed by the matching callback. The code challenge
// is always derived from CodeVerifier, never stored on its own.
type PkceRecord struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce,omitempty"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewPkceRecord generates a fresh record: a 43-128 char code verifier from
// the x/oauth2 generator, a 256-bit state, and a 256-bit nonce when the
// requested scope includes "openid".
func NewPkceRecord(scope string) (*PkceRecord, error) {
	state, err := RandomString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	rec := &PkceRecord{
		State:        state,
		CodeVerifier: oauth2.GenerateVerifier(),
		CreatedAt:    time.Now(),
	}

	if scopeHasOpenID(scope) {
		nonce, err := RandomString(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
		rec.Nonce = nonce
	}

	return rec, nil
}

// Challenge derives the S256 code challenge for the record's verifier.
func (r *PkceRecord) Challenge() string {
	return oauth2.S256ChallengeFromVerifier(r.CodeVerifier)
}

// Age reports how long ago the record was created.
func (r *PkceRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

func scopeHasOpenID(scope string) bool {
	for _, s := range strings.Fields(scope) {
		if s == "openid" {
			return true
		}
	}
	return false
}
