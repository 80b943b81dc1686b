package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// BuilderConfig carries everything needed to compose an authorization URL.
type BuilderConfig struct {
	BaseURL     string
	AuthServer  string
	ClientID    string
	RedirectURI string
	// Scope is the default when Begin is called without one.
	Scope string
}

// AuthorizationRequest is the immutable view handed to the caller: the URL
// to navigate to plus the correlators the callback must echo.
type AuthorizationRequest struct {
	URL   string `json:"url"`
	State string `json:"state"`
	Nonce string `json:"nonce,omitempty"`
}

// RequestBuilder composes provider authorization URLs from configuration and
// a freshly generated PKCE record.
type RequestBuilder struct {
	cfg   BuilderConfig
	flows FlowStore
}

// NewRequestBuilder validates the configuration and returns a builder.
// Missing client_id, redirect_uri or base_url fail fast.
func NewRequestBuilder(cfg BuilderConfig, flows FlowStore) (*RequestBuilder, error) {
	switch {
	case cfg.ClientID == "":
		return nil, &ConfigurationError{Field: "client_id"}
	case cfg.RedirectURI == "":
		return nil, &ConfigurationError{Field: "redirect_uri"}
	case cfg.BaseURL == "":
		return nil, &ConfigurationError{Field: "base_url"}
	}
	return &RequestBuilder{cfg: cfg, flows: flows}, nil
}

// Begin generates a fresh PKCE record for the session, persists it, and only
// then composes the authorization URL. The write completing before the URL
// is exposed rules out a race with an immediate callback.
func (b *RequestBuilder) Begin(ctx context.Context, sessionID, scope string) (*AuthorizationRequest, error) {
	return b.BeginWith(ctx, sessionID, scope, "", "")
}

// BeginWith is Begin with caller-supplied correlators, for flows resumed
// across processes. Empty state or nonce values are generated fresh; the
// code verifier is always new.
func (b *RequestBuilder) BeginWith(ctx context.Context, sessionID, scope, state, nonce string) (*AuthorizationRequest, error) {
	if scope == "" {
		scope = b.cfg.Scope
	}

	rec, err := NewPkceRecord(scope)
	if err != nil {
		return nil, err
	}
	if state != "" {
		rec.State = state
	}
	if nonce != "" {
		rec.Nonce = nonce
	}

	if err := b.flows.Put(ctx, sessionID, rec); err != nil {
		return nil, fmt.Errorf("failed to store authorization flow: %w", err)
	}

	endpoint := strings.TrimRight(b.cfg.BaseURL, "/") + "/trustedx-authserver/oauth/" + url.PathEscape(b.cfg.AuthServer)

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", b.cfg.ClientID)
	query.Set("redirect_uri", b.cfg.RedirectURI)
	query.Set("scope", scope)
	query.Set("state", rec.State)
	query.Set("code_challenge", rec.Challenge())
	query.Set("code_challenge_method", "S256")
	query.Set("prompt", "login")
	if rec.Nonce != "" {
		query.Set("nonce", rec.Nonce)
	}

	return &AuthorizationRequest{
		URL:   endpoint + "?" + query.Encode(),
		State: rec.State,
		Nonce: rec.Nonce,
	}, nil
}
