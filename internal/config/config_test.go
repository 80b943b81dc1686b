package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completeConfig returns defaults with the required credentials filled in.
func completeConfig() *Config {
	cfg := Default()
	cfg.Provider.ClientID = "client-123"
	cfg.Provider.ClientSecret = "secret-xyz"
	cfg.Provider.RedirectURI = "https://app.example.com/auth/callback"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://tx-pki.gouv.bj", cfg.Provider.BaseURL)
	assert.Equal(t, "main-as", cfg.Provider.AuthServer)
	assert.Equal(t, "openid profile", cfg.Provider.Scope)
	assert.Equal(t, time.Hour, cfg.Security.JwksCacheTTL.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Security.AuthSessionMaxAge.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Security.MaxTokenAge.Duration)
	assert.True(t, cfg.Security.RevokeTokensOnLogout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShortTimeout.Duration)
	assert.Equal(t, "memory", cfg.Session.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Session.CleanupInterval.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Flow.PopupPollInterval.Duration)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("complete config is valid", func(t *testing.T) {
		assert.NoError(t, completeConfig().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing client_id", func(c *Config) { c.Provider.ClientID = "" }},
		{"missing client_secret", func(c *Config) { c.Provider.ClientSecret = "" }},
		{"missing redirect_uri", func(c *Config) { c.Provider.RedirectURI = "" }},
		{"base_url not a URL", func(c *Config) { c.Provider.BaseURL = "not-a-url" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"unknown session driver", func(c *Config) { c.Session.Driver = "redis" }},
		{"sqlite without db_path", func(c *Config) { c.Session.Driver = "sqlite"; c.Session.DBPath = "" }},
		{"encryption key not hex", func(c *Config) { c.Session.EncryptionKey = "zz" }},
		{"encryption key wrong length", func(c *Config) { c.Session.EncryptionKey = "deadbeef" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := completeConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"log_level": "debug",
		"provider": {
			"client_id": "client-123",
			"client_secret": "secret-xyz",
			"redirect_uri": "https://app.example.com/auth/callback",
			"scope": "openid email"
		},
		"security": {
			"jwks_cache_ttl": "30m",
			"revoke_tokens_on_logout": false
		},
		"session": {
			"driver": "sqlite",
			"db_path": "/tmp/sessions.db"
		}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "client-123", cfg.Provider.ClientID)
	assert.Equal(t, "openid email", cfg.Provider.Scope)
	assert.Equal(t, 30*time.Minute, cfg.Security.JwksCacheTTL.Duration)
	assert.False(t, cfg.Security.RevokeTokensOnLogout)
	assert.Equal(t, "sqlite", cfg.Session.Driver)

	// Untouched fields keep their defaults.
	assert.Equal(t, "https://tx-pki.gouv.bj", cfg.Provider.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout.Duration)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"provider": {
			"client_id": "from-file",
			"client_secret": "secret-xyz",
			"redirect_uri": "https://app.example.com/auth/callback"
		}
	}`), 0o600))

	t.Setenv("BJPASS_CLIENT_ID", "from-env")
	t.Setenv("BJPASS_SCOPE", "openid")
	t.Setenv("BJPASS_JWKS_CACHE_TTL", "15m")
	t.Setenv("BJPASS_REVOKE_TOKENS_ON_LOGOUT", "false")
	t.Setenv("BJPASS_HTTP_PORT", "8888")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Provider.ClientID, "environment beats the file")
	assert.Equal(t, "openid", cfg.Provider.Scope)
	assert.Equal(t, 15*time.Minute, cfg.Security.JwksCacheTTL.Duration)
	assert.False(t, cfg.Security.RevokeTokensOnLogout)
	assert.Equal(t, 8888, cfg.HTTPPort)
}

func TestLoad_BadEnvValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "BJPASS_HTTP_PORT", "not-a-number"},
		{"bad duration", "BJPASS_JWKS_CACHE_TTL", "soon"},
		{"bad bool", "BJPASS_REVOKE_TOKENS_ON_LOGOUT", "yep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(`{
				"provider": {
					"client_id": "client-123",
					"client_secret": "secret-xyz",
					"redirect_uri": "https://app.example.com/auth/callback"
				}
			}`), 0o600))

			t.Setenv(tt.key, tt.value)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    time.Duration
		wantErr bool
	}{
		{"string duration", `"1h30m"`, 90 * time.Minute, false},
		{"numeric nanoseconds", `3600000000000`, time.Hour, false},
		{"unparseable string", `"soon"`, 0, true},
		{"wrong type", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalJSON([]byte(tt.json))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration)
		})
	}
}
