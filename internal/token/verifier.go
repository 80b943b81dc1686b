package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"bjpass-go/internal/jwks"
	"bjpass-go/internal/metrics"
)

// Claims are the verified contents of an ID token. A Claims value only
// exists after signature and all claim checks passed; verification is
// all-or-nothing.
type Claims map[string]interface{}

// Subject returns the sub claim.
func (c Claims) Subject() string {
	return c.stringClaim("sub")
}

// Nonce returns the nonce claim.
func (c Claims) Nonce() string {
	return c.stringClaim("nonce")
}

func (c Claims) stringClaim(name string) string {
	if v, ok := c[name].(string); ok {
		return v
	}
	return ""
}

// KeySource resolves signing keys by kid. Implemented by jwks.Cache.
type KeySource interface {
	Key(ctx context.Context, kid string) (jwk.Key, error)
	Invalidate()
}

// Introspector checks opaque tokens against the provider. Implemented by
// Client.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*IntrospectionResult, error)
}

// VerifierConfig carries the claim-check parameters.
type VerifierConfig struct {
	ClientID string
	// Issuer is only checked when non-empty.
	Issuer string
	// MaxTokenAge rejects tokens whose iat is older than this window.
	MaxTokenAge time.Duration
}

// Verifier parses an ID token, resolves its signing key, verifies the
// signature and validates the registered claims.
type Verifier struct {
	cfg          VerifierConfig
	keys         KeySource
	introspector Introspector
	logger       *slog.Logger
	now          func() time.Time
}

// NewVerifier creates a Verifier backed by the given key source.
func NewVerifier(cfg VerifierConfig, keys KeySource, introspector Introspector, logger *slog.Logger) *Verifier {
	return &Verifier{
		cfg:          cfg,
		keys:         keys,
		introspector: introspector,
		logger:       logger,
		now:          time.Now,
	}
}

// VerifyIDToken verifies the raw compact JWT and returns its claims.
// Every failure mode carries its own InvalidTokenError reason.
func (v *Verifier) VerifyIDToken(ctx context.Context, raw, expectedNonce string) (Claims, error) {
	claims, err := v.verifyIDToken(ctx, raw, expectedNonce)
	if err != nil {
		var ite *InvalidTokenError
		if errors.As(err, &ite) {
			metrics.TokenVerificationFailures.WithLabelValues(ite.Reason).Inc()
		}
		v.logger.Warn("ID token rejected", "error", err)
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) verifyIDToken(ctx context.Context, raw, expectedNonce string) (Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "token must have three segments"}
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "undecodable header"}
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Kid == "" {
		return nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "missing kid in header"}
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "undecodable payload"}
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "payload is not a JSON object"}
	}

	key, err := v.resolveKey(ctx, header.Kid)
	if err != nil {
		return nil, err
	}

	if err := v.verifySignature(raw, header.Alg, key); err != nil {
		return nil, err
	}

	if err := v.validateClaims(claims, expectedNonce); err != nil {
		return nil, err
	}

	return claims, nil
}

// resolveKey looks the kid up in the cache, invalidating and retrying once
// on a miss to cover key rotation mid-session.
func (v *Verifier) resolveKey(ctx context.Context, kid string) (jwk.Key, error) {
	key, err := v.keys.Key(ctx, kid)
	if errors.Is(err, jwks.ErrKeyNotFound) {
		v.keys.Invalidate()
		key, err = v.keys.Key(ctx, kid)
	}
	if errors.Is(err, jwks.ErrKeyNotFound) {
		return nil, &InvalidTokenError{Reason: ReasonInvalidSignature, Detail: "no key for kid " + kid}
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (v *Verifier) verifySignature(raw, headerAlg string, key jwk.Key) error {
	alg := jwa.RS256
	if a, ok := key.Algorithm().(jwa.SignatureAlgorithm); ok && a.String() != "" {
		alg = a
	} else if headerAlg != "" {
		alg = jwa.SignatureAlgorithm(headerAlg)
	}

	if _, err := jws.Verify([]byte(raw), jws.WithKey(alg, key)); err != nil {
		return &InvalidTokenError{Reason: ReasonInvalidSignature, Detail: err.Error()}
	}
	return nil
}

func (v *Verifier) validateClaims(claims Claims, expectedNonce string) error {
	now := v.now()

	if exp, ok := numericClaim(claims, "exp"); ok && exp < float64(now.Unix()) {
		return &InvalidTokenError{Reason: ReasonExpired, Detail: "token expired"}
	}

	if iat, ok := numericClaim(claims, "iat"); ok {
		if float64(now.Unix())-iat > v.cfg.MaxTokenAge.Seconds() {
			return &InvalidTokenError{Reason: ReasonExpired, Detail: "token issued too long ago"}
		}
	}

	if v.cfg.Issuer != "" {
		if iss, ok := claims["iss"].(string); ok && iss != v.cfg.Issuer {
			return &InvalidTokenError{Reason: ReasonInvalidIssuer, Detail: "unexpected issuer " + iss}
		}
	}

	if aud, ok := claims["aud"]; ok {
		if !audienceContains(aud, v.cfg.ClientID) {
			return &InvalidTokenError{Reason: ReasonInvalidAudience, Detail: "token not issued for this client"}
		}
	}

	if expectedNonce != "" {
		if nonce, _ := claims["nonce"].(string); nonce != expectedNonce {
			return &InvalidTokenError{Reason: ReasonInvalidNonce, Detail: "nonce mismatch"}
		}
	}

	return nil
}

// VerifyAccessToken checks an opaque access token via the provider's
// introspection endpoint. Network failure and active:false both reject.
func (v *Verifier) VerifyAccessToken(ctx context.Context, accessToken string) (*IntrospectionResult, error) {
	res, err := v.introspector.Introspect(ctx, accessToken)
	if err != nil {
		return nil, &InvalidTokenError{Reason: ReasonInactive, Detail: err.Error()}
	}
	if !res.Active {
		return nil, &InvalidTokenError{Reason: ReasonInactive, Detail: "token is not active"}
	}
	return res, nil
}

// ParseInsecure decodes a token's header and payload without verifying
// anything. For inspection only.
func ParseInsecure(raw string) (header, payload map[string]interface{}, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "token must have three segments"}
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "undecodable header"}
	}
	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "undecodable payload"}
	}

	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "header is not a JSON object"}
	}
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, nil, &InvalidTokenError{Reason: ReasonMalformed, Detail: "payload is not a JSON object"}
	}

	return header, payload, nil
}

// IsExpired reports whether the token's exp claim is in the past. Malformed
// tokens count as expired.
func IsExpired(raw string) bool {
	_, payload, err := ParseInsecure(raw)
	if err != nil {
		return true
	}
	exp, ok := payload["exp"].(float64)
	return ok && exp < float64(time.Now().Unix())
}

func numericClaim(claims Claims, name string) (float64, bool) {
	v, ok := claims[name].(float64)
	return v, ok
}

// audienceContains handles aud as either a single string or an array.
func audienceContains(aud interface{}, clientID string) bool {
	switch a := aud.(type) {
	case string:
		return a == clientID
	case []interface{}:
		for _, v := range a {
			if s, ok := v.(string); ok && s == clientID {
				return true
			}
		}
	}
	return false
}
