package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CodeExchanges counts authorization-code exchanges by outcome.
	CodeExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bjpass_code_exchanges_total",
			Help: "The total number of authorization code exchanges.",
		},
		[]string{"outcome"},
	)

	// TokenRefreshes counts refresh-token exchanges by outcome.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bjpass_token_refreshes_total",
			Help: "The total number of refresh token exchanges.",
		},
		[]string{"outcome"},
	)

	// TokenRevocations counts revocation attempts by outcome.
	TokenRevocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bjpass_token_revocations_total",
			Help: "The total number of token revocation attempts.",
		},
		[]string{"outcome"},
	)

	// Introspections counts introspection calls by outcome.
	Introspections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bjpass_introspections_total",
			Help: "The total number of token introspection calls.",
		},
		[]string{"outcome"},
	)

	// JwksFetches counts key set fetches by outcome.
	JwksFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bjpass_jwks_fetches_total",
			Help: "The total number of JWKS fetches from the provider.",
		},
		[]string{"outcome"},
	)

	// TokenVerificationFailures counts rejected ID tokens by reason.
	TokenVerificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bjpass_token_verification_failures_total",
			Help: "The total number of ID token verifications that failed, by reason.",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks the number of authenticated sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bjpass_active_sessions",
			Help: "The number of currently authenticated sessions.",
		},
	)

	// ExchangeDuration is a histogram of code exchange round-trip time.
	ExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bjpass_code_exchange_duration_seconds",
			Help:    "A histogram of the authorization code exchange duration.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
