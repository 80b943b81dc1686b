package auth

import (
	"context"
	"errors"

	"bjpass-go/internal/token"
)

// mockTokenClient implements TokenClient with canned responses per
// operation. Calls are recorded for assertion.
type mockTokenClient struct {
	exchangeResp *token.TokenResponse
	exchangeErr  error
	refreshResp  *token.TokenResponse
	refreshErr   error
	revokeErr    error

	introspectResp *token.IntrospectionResult
	introspectErr  error

	exchangedCodes    []string
	exchangedVerifier string
	refreshedTokens   []string
	revokedTokens     []string
	revokedHints      []string
}

func (m *mockTokenClient) Exchange(ctx context.Context, code, codeVerifier string) (*token.TokenResponse, error) {
	m.exchangedCodes = append(m.exchangedCodes, code)
	m.exchangedVerifier = codeVerifier
	return m.exchangeResp, m.exchangeErr
}

func (m *mockTokenClient) Refresh(ctx context.Context, refreshToken string) (*token.TokenResponse, error) {
	m.refreshedTokens = append(m.refreshedTokens, refreshToken)
	return m.refreshResp, m.refreshErr
}

func (m *mockTokenClient) Revoke(ctx context.Context, tok, tokenTypeHint string) error {
	m.revokedTokens = append(m.revokedTokens, tok)
	m.revokedHints = append(m.revokedHints, tokenTypeHint)
	return m.revokeErr
}

func (m *mockTokenClient) Introspect(ctx context.Context, tok string) (*token.IntrospectionResult, error) {
	return m.introspectResp, m.introspectErr
}

// mockVerifier implements IDTokenVerifier.
type mockVerifier struct {
	claims token.Claims
	err    error

	seenRaw   string
	seenNonce string
}

func (m *mockVerifier) VerifyIDToken(ctx context.Context, raw, expectedNonce string) (token.Claims, error) {
	m.seenRaw = raw
	m.seenNonce = expectedNonce
	return m.claims, m.err
}

var errMockFailure = errors.New("mock failure")
