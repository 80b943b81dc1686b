// Package app wires the authentication engine into an HTTP surface.
package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bjpass-go/internal/auth"
	"bjpass-go/internal/config"
	"bjpass-go/internal/jwks"
	"bjpass-go/internal/session"
	"bjpass-go/internal/token"
)

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Auth          *auth.Service
	Sessions      session.Store
	Cleaner       *session.Cleaner
	Keys          *jwks.Cache
	HTTPServer    *http.Server
	MetricsServer *http.Server
}

// New creates and initializes a new Application instance.
func New(cfg *config.Config) (*Application, error) {
	logger := newLogger(cfg.LogLevel)

	// Setup: session store
	var cipher *session.TokenCipher
	if cfg.Session.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.Session.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid session encryption key: %w", err)
		}
		cipher, err = session.NewTokenCipher(key)
		if err != nil {
			return nil, fmt.Errorf("invalid session encryption key: %w", err)
		}
	}

	var sessions session.Store
	switch cfg.Session.Driver {
	case "sqlite":
		store, err := session.NewSQLiteStore(cfg.Session.DBPath, cfg.Session.Lifetime.Duration, cipher)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		sessions = store
	default:
		sessions = session.NewInMemoryStore(cfg.Session.Lifetime.Duration)
	}

	// Setup: key cache and token endpoint client
	keys := jwks.NewCache(cfg.Provider.BaseURL,
		cfg.Security.JwksCacheTTL.Duration, cfg.HTTP.ShortTimeout.Duration, logger)

	tokenClient := token.NewClient(token.Config{
		BaseURL:             cfg.Provider.BaseURL,
		AuthServer:          cfg.Provider.AuthServer,
		ClientID:            cfg.Provider.ClientID,
		ClientSecret:        cfg.Provider.ClientSecret,
		RedirectURI:         cfg.Provider.RedirectURI,
		IntrospectionBearer: cfg.Provider.IntrospectionBearer,
		Timeout:             cfg.HTTP.Timeout.Duration,
		ShortTimeout:        cfg.HTTP.ShortTimeout.Duration,
	}, logger)

	verifier := token.NewVerifier(token.VerifierConfig{
		ClientID:    cfg.Provider.ClientID,
		Issuer:      cfg.Provider.Issuer,
		MaxTokenAge: cfg.Security.MaxTokenAge.Duration,
	}, keys, tokenClient, logger)

	// Setup: authentication engine
	flows := auth.NewInMemoryFlowStore(cfg.Security.AuthSessionMaxAge.Duration)
	builder, err := auth.NewRequestBuilder(auth.BuilderConfig{
		BaseURL:     cfg.Provider.BaseURL,
		AuthServer:  cfg.Provider.AuthServer,
		ClientID:    cfg.Provider.ClientID,
		RedirectURI: cfg.Provider.RedirectURI,
		Scope:       cfg.Provider.Scope,
	}, flows)
	if err != nil {
		return nil, err
	}

	svc := auth.NewService(auth.ServiceConfig{
		RevokeTokensOnLogout: cfg.Security.RevokeTokensOnLogout,
	}, builder, flows, tokenClient, verifier, sessions, logger)

	// Setup: HTTP server for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	var cleaner *session.Cleaner
	if sweeper, ok := sessions.(session.Sweeper); ok {
		cleaner = session.NewCleaner(sweeper, cfg.Session.CleanupInterval.Duration, logger)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		Auth:          svc,
		Sessions:      sessions,
		Cleaner:       cleaner,
		Keys:          keys,
		MetricsServer: metricsServer,
	}

	// Setup: main HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/login", app.handleLogin)
	mux.HandleFunc("GET /auth/callback", app.handleCallback)
	mux.HandleFunc("POST /auth/exchange", app.handleExchange)
	mux.HandleFunc("GET /auth/status", app.handleStatus)
	mux.HandleFunc("POST /auth/logout", app.handleLogout)
	mux.HandleFunc("POST /auth/introspect", app.handleIntrospect)
	mux.Handle("GET /auth/user", app.requireAuth(http.HandlerFunc(app.handleUser)))

	app.HTTPServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}

	return app, nil
}

// Start begins serving. The JWKS cache is warmed in the background so a slow
// provider does not delay startup.
func (a *Application) Start(ctx context.Context) error {
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, a.Config.HTTP.ShortTimeout.Duration)
		defer cancel()
		if _, err := a.Keys.Refresh(warmCtx); err != nil {
			a.Logger.Warn("JWKS warm-up failed", "error", err)
		}
	}()

	if a.Cleaner != nil {
		a.Cleaner.Start(ctx)
	}

	go func() {
		a.Logger.Info("starting metrics server", "addr", a.MetricsServer.Addr)
		if err := a.MetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Error("metrics server failed", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		a.Logger.Info("starting HTTP server", "addr", a.HTTPServer.Addr)
		if err := a.HTTPServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Info("stopping application")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("HTTP server shutdown error", "error", err)
	}
	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("metrics server shutdown error", "error", err)
	}

	if a.Cleaner != nil {
		a.Cleaner.Stop()
	}

	if closer, ok := a.Sessions.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("error closing session store", "error", err)
		}
	}

	a.Logger.Info("application stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
