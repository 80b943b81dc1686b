// Package token talks to the provider's token endpoint and verifies the
// tokens it returns.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bjpass-go/internal/metrics"
)

// Config carries the provider coordinates the client needs.
type Config struct {
	BaseURL             string
	AuthServer          string
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	IntrospectionBearer string
	// Timeout bounds Exchange and Refresh; ShortTimeout bounds Revoke and
	// Introspect.
	Timeout      time.Duration
	ShortTimeout time.Duration
}

// TokenResponse is the provider's answer to a successful exchange or
// refresh. Transient: only derived session fields are ever persisted.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectionResult reports whether an opaque token is active, plus any
// claims the provider attached.
type IntrospectionResult struct {
	Active bool
	Claims map[string]interface{}
}

// Client performs the network operations against the token endpoint. No
// operation is retried here; retry policy, if any, belongs to the caller
// and must never re-submit an authorization code.
type Client struct {
	cfg    Config
	client *http.Client
	short  *http.Client
	logger *slog.Logger

	tokenURL      string
	revokeURL     string
	introspectURL string
}

// NewClient creates a token endpoint client for the configured provider.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/") + "/trustedx-authserver/oauth/" + url.PathEscape(cfg.AuthServer)
	return &Client{
		cfg:           cfg,
		client:        &http.Client{Timeout: cfg.Timeout},
		short:         &http.Client{Timeout: cfg.ShortTimeout},
		logger:        logger,
		tokenURL:      base + "/token",
		revokeURL:     base + "/revoke",
		introspectURL: base + "/token/verify",
	}
}

// Exchange redeems an authorization code for tokens. The code is single-use
// at the provider; a failed exchange is surfaced with the provider's own
// description and must not be retried.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code_verifier", codeVerifier)

	start := time.Now()
	body, status, err := c.post(ctx, c.client, c.tokenURL, form, withBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret))
	metrics.ExchangeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CodeExchanges.WithLabelValues("error").Inc()
		return nil, &CodeExchangeError{ProviderMessage: "network error", Err: err}
	}

	if status < 200 || status > 299 {
		metrics.CodeExchanges.WithLabelValues("error").Inc()
		return nil, &CodeExchangeError{ProviderMessage: providerMessage(body)}
	}

	var resp TokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.CodeExchanges.WithLabelValues("error").Inc()
		return nil, &CodeExchangeError{ProviderMessage: "malformed token response", Err: err}
	}

	metrics.CodeExchanges.WithLabelValues("ok").Inc()
	c.logger.Info("code exchanged",
		"has_refresh_token", resp.RefreshToken != "",
		"has_id_token", resp.IDToken != "")

	return &resp, nil
}

// Refresh exchanges a refresh token for a new token response. A failed
// refresh is an expected steady-state event: the caller treats any error as
// the end of the session rather than a fault.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	body, status, err := c.post(ctx, c.client, c.tokenURL, form)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}

	if status < 200 || status > 299 {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		c.logger.Warn("token refresh rejected", "status", status, "provider_message", providerMessage(body))
		return nil, fmt.Errorf("refresh rejected with status %d", status)
	}

	var resp TokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("malformed refresh response: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	return &resp, nil
}

// Revoke asks the provider to revoke a token. Best-effort: failures are
// reported but never block logout.
func (c *Client) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", tokenTypeHint)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	body, status, err := c.post(ctx, c.short, c.revokeURL, form)
	if err != nil {
		metrics.TokenRevocations.WithLabelValues("error").Inc()
		return fmt.Errorf("revoke request failed: %w", err)
	}
	if status < 200 || status > 299 {
		metrics.TokenRevocations.WithLabelValues("error").Inc()
		return fmt.Errorf("revoke rejected with status %d: %s", status, providerMessage(body))
	}

	metrics.TokenRevocations.WithLabelValues("ok").Inc()
	return nil
}

// Introspect asks the provider whether an opaque token is active. Network
// failures and non-2xx answers are errors; callers treat both as inactive.
func (c *Client) Introspect(ctx context.Context, token string) (*IntrospectionResult, error) {
	form := url.Values{}
	form.Set("token", token)

	bearer := c.cfg.IntrospectionBearer
	if bearer == "" {
		bearer = c.cfg.ClientSecret
	}

	body, status, err := c.post(ctx, c.short, c.introspectURL, form, withBearer(bearer))
	if err != nil {
		metrics.Introspections.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	if status < 200 || status > 299 {
		metrics.Introspections.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("introspection rejected with status %d", status)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(body, &claims); err != nil {
		metrics.Introspections.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("malformed introspection response: %w", err)
	}

	active, _ := claims["active"].(bool)
	metrics.Introspections.WithLabelValues("ok").Inc()

	return &IntrospectionResult{Active: active, Claims: claims}, nil
}

type requestOption func(*http.Request)

func withBasicAuth(user, pass string) requestOption {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (c *Client) post(ctx context.Context, client *http.Client, endpoint string, form url.Values, opts ...requestOption) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, opt := range opts {
		opt(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// providerMessage extracts error_description (or error) from an OAuth error
// body, falling back to a generic message.
func providerMessage(body []byte) string {
	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil {
		if oauthErr.ErrorDescription != "" {
			return oauthErr.ErrorDescription
		}
		if oauthErr.Error != "" {
			return oauthErr.Error
		}
	}
	return "unknown error"
}
