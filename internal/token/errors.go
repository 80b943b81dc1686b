package token

import "fmt"

// Reasons attached to InvalidTokenError. Each check fails with its own
// reason so callers can report precisely what was rejected.
const (
	ReasonMalformed        = "malformed"
	ReasonExpired          = "expired"
	ReasonInvalidSignature = "invalid_signature"
	ReasonInvalidIssuer    = "invalid_issuer"
	ReasonInvalidAudience  = "invalid_audience"
	ReasonInvalidNonce     = "invalid_nonce"
	ReasonInactive         = "inactive"
)

// InvalidTokenError is returned whenever a token fails structural parsing,
// signature verification or any claim check. Never silently accepted.
type InvalidTokenError struct {
	Reason string
	Detail string
}

func (e *InvalidTokenError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid token (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid token (%s)", e.Reason)
}

// CodeExchangeError carries the provider's own description of a failed
// authorization-code exchange. Provider errors are surfaced, not swallowed.
type CodeExchangeError struct {
	ProviderMessage string
	Err             error
}

func (e *CodeExchangeError) Error() string {
	return fmt.Sprintf("code exchange failed: %s", e.ProviderMessage)
}

func (e *CodeExchangeError) Unwrap() error { return e.Err }
