// Package auth implements the relying-party authentication engine: PKCE
// flow state, authorization URL construction and the authenticated-session
// state machine.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bjpass-go/internal/metrics"
	"bjpass-go/internal/session"
	"bjpass-go/internal/token"
)

// TokenClient is the subset of the token endpoint client the service uses.
type TokenClient interface {
	Exchange(ctx context.Context, code, codeVerifier string) (*token.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*token.TokenResponse, error)
	Revoke(ctx context.Context, tok, tokenTypeHint string) error
	Introspect(ctx context.Context, tok string) (*token.IntrospectionResult, error)
}

// IDTokenVerifier verifies a raw ID token against the expected nonce.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, raw, expectedNonce string) (token.Claims, error)
}

// ServiceConfig carries the session-level policy knobs. The default scope
// lives in the request builder, which owns URL composition.
type ServiceConfig struct {
	RevokeTokensOnLogout bool
}

// TokenSummary is the caller-facing view of a token response. The raw
// response itself is never persisted.
type TokenSummary struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Result is the outcome of a completed authorization.
type Result struct {
	User   token.Claims `json:"user"`
	Tokens TokenSummary `json:"tokens"`
}

// Service ties the flow store, token client, verifier and session store into
// the session state machine: Unauthenticated -> Authenticated, silent
// refresh on expiry, destruction on logout or irrecoverable refresh failure.
type Service struct {
	cfg      ServiceConfig
	builder  *RequestBuilder
	flows    FlowStore
	tokens   TokenClient
	verifier IDTokenVerifier
	sessions session.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the authentication engine together.
func NewService(cfg ServiceConfig, builder *RequestBuilder, flows FlowStore, tokens TokenClient, verifier IDTokenVerifier, sessions session.Store, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		builder:  builder,
		flows:    flows,
		tokens:   tokens,
		verifier: verifier,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// BeginAuthorization starts a new login attempt for the session context and
// returns the authorization request to navigate to. Any prior unconsumed
// attempt for the same context is replaced.
func (s *Service) BeginAuthorization(ctx context.Context, sessionID, scope string) (*AuthorizationRequest, error) {
	req, err := s.builder.Begin(ctx, sessionID, scope)
	if err != nil {
		return nil, err
	}

	s.logger.Info("authorization started", "state", req.State, "has_nonce", req.Nonce != "")
	return req, nil
}

// CompleteAuthorization consumes the provider callback: it validates state
// against the stored PKCE record, exchanges the code, verifies the ID token
// when present, and stores the fully populated session record. The flow
// record is destroyed on success.
func (s *Service) CompleteAuthorization(ctx context.Context, sessionID, code, state string) (*Result, error) {
	rec, err := s.flows.Get(ctx, sessionID)
	if errors.Is(err, ErrFlowExpired) {
		return nil, &AuthenticationError{Code: "session_expired", Description: "authorization attempt expired", Err: err}
	}
	if err != nil {
		return nil, &AuthenticationError{Code: "invalid_state", Description: "no matching authorization attempt", Err: err}
	}

	if state != rec.State {
		s.logger.Warn("state mismatch on callback", "expected", rec.State, "got", state)
		return nil, &AuthenticationError{Code: "invalid_state", Description: "state parameter does not match"}
	}

	tr, err := s.tokens.Exchange(ctx, code, rec.CodeVerifier)
	if err != nil {
		return nil, err
	}

	var claims token.Claims
	if tr.IDToken != "" {
		claims, err = s.verifier.VerifyIDToken(ctx, tr.IDToken, rec.Nonce)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	record := &session.Record{
		User:            claims,
		AccessToken:     tr.AccessToken,
		RefreshToken:    tr.RefreshToken,
		AuthenticatedAt: now,
	}
	if tr.ExpiresIn > 0 {
		record.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	if err := s.sessions.Put(ctx, sessionID, record); err != nil {
		return nil, err
	}
	metrics.ActiveSessions.Inc()

	if err := s.flows.Clear(ctx, sessionID); err != nil {
		s.logger.Warn("failed to clear authorization flow", "error", err)
	}

	s.logger.Info("authorization completed",
		"sub", claims.Subject(),
		"has_refresh_token", tr.RefreshToken != "")

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &Result{
		User: claims,
		Tokens: TokenSummary{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			ExpiresIn:    tr.ExpiresIn,
			TokenType:    tokenType,
		},
	}, nil
}

// IsAuthenticated reports whether the session holds a live record,
// refreshing it transparently if the access token has expired.
func (s *Service) IsAuthenticated(ctx context.Context, sessionID string) bool {
	return s.liveRecord(ctx, sessionID) != nil
}

// GetUserInfo returns the verified claims of the session's user, or nil when
// unauthenticated. Expired sessions are refreshed first; a failed refresh
// destroys the session.
func (s *Service) GetUserInfo(ctx context.Context, sessionID string) token.Claims {
	rec := s.liveRecord(ctx, sessionID)
	if rec == nil {
		return nil
	}
	return rec.User
}

// liveRecord loads the session record and performs the lazy silent-refresh
// self-loop. The returned record is always fully populated and unexpired.
func (s *Service) liveRecord(ctx context.Context, sessionID string) *session.Record {
	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil
	}

	if !rec.Expired(s.now()) {
		return rec
	}

	if rec.RefreshToken == "" {
		s.destroySession(ctx, sessionID)
		return nil
	}

	tr, err := s.tokens.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		// Refresh failure is the expected end of a session, not a fault.
		s.logger.Info("session ended after failed refresh", "error", err)
		s.destroySession(ctx, sessionID)
		return nil
	}

	// Same user, new token material. The refresh token is kept when the
	// provider does not rotate it.
	if tr.AccessToken != "" {
		rec.AccessToken = tr.AccessToken
	}
	if tr.RefreshToken != "" {
		rec.RefreshToken = tr.RefreshToken
	}
	if tr.ExpiresIn > 0 {
		rec.ExpiresAt = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	if err := s.sessions.Put(ctx, sessionID, rec); err != nil {
		s.logger.Warn("failed to store refreshed session", "error", err)
		s.destroySession(ctx, sessionID)
		return nil
	}

	s.logger.Info("access token refreshed", "sub", rec.User.Subject())
	return rec
}

// Logout revokes the session's tokens when configured to, then destroys the
// local session unconditionally. Revocation failures never block logout.
func (s *Service) Logout(ctx context.Context, sessionID string) {
	rec, err := s.sessions.Get(ctx, sessionID)
	if err == nil && s.cfg.RevokeTokensOnLogout {
		if rec.AccessToken != "" {
			if err := s.tokens.Revoke(ctx, rec.AccessToken, "access_token"); err != nil {
				s.logger.Warn("access token revocation failed", "error", err)
			}
		}
		if rec.RefreshToken != "" {
			if err := s.tokens.Revoke(ctx, rec.RefreshToken, "refresh_token"); err != nil {
				s.logger.Warn("refresh token revocation failed", "error", err)
			}
		}
	}

	if err == nil {
		s.destroySession(ctx, sessionID)
	}
	if err := s.flows.Clear(ctx, sessionID); err != nil {
		s.logger.Warn("failed to clear authorization flow", "error", err)
	}

	s.logger.Info("logged out")
}

// Introspect reports the provider's view of an opaque token. Any failure is
// treated as "inactive" and reported as nil to keep callers simple.
func (s *Service) Introspect(ctx context.Context, tok string) *token.IntrospectionResult {
	res, err := s.tokens.Introspect(ctx, tok)
	if err != nil {
		s.logger.Warn("token introspection failed", "error", err)
		return nil
	}
	return res
}

func (s *Service) destroySession(ctx context.Context, sessionID string) {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete session", "error", err)
		return
	}
	metrics.ActiveSessions.Dec()
}
