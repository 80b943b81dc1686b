package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the service.
type Config struct {
	HTTPPort    int    `json:"http_port" validate:"gte=0"`
	MetricsPort int    `json:"metrics_port" validate:"gte=0"`
	LogLevel    string `json:"log_level" validate:"oneof=debug info warn error"`

	Provider struct {
		BaseURL      string `json:"base_url" validate:"required,url"`
		AuthServer   string `json:"auth_server" validate:"required"`
		ClientID     string `json:"client_id" validate:"required"`
		ClientSecret string `json:"client_secret" validate:"required"`
		RedirectURI  string `json:"redirect_uri" validate:"required,url"`
		Scope        string `json:"scope"`
		// Issuer is only checked on ID tokens when set.
		Issuer              string `json:"issuer"`
		IntrospectionBearer string `json:"introspection_bearer"`
	} `json:"provider"`

	Security struct {
		JwksCacheTTL         Duration `json:"jwks_cache_ttl"`
		AuthSessionMaxAge    Duration `json:"auth_session_max_age"`
		MaxTokenAge          Duration `json:"max_token_age"`
		RevokeTokensOnLogout bool     `json:"revoke_tokens_on_logout"`
	} `json:"security"`

	HTTP struct {
		// Timeout bounds the code exchange and refresh calls; ShortTimeout
		// bounds revoke, introspect and JWKS fetches.
		Timeout      Duration `json:"timeout"`
		ShortTimeout Duration `json:"short_timeout"`
	} `json:"http"`

	Session struct {
		Driver string `json:"driver" validate:"oneof=memory sqlite"`
		DBPath string `json:"db_path"`
		// EncryptionKey is a hex-encoded 32-byte AES-256 key. When set,
		// the sqlite driver stores token columns encrypted.
		EncryptionKey   string   `json:"encryption_key"`
		Lifetime        Duration `json:"lifetime"`
		CleanupInterval Duration `json:"cleanup_interval"`
	} `json:"session"`

	Flow struct {
		FrontendOrigin    string   `json:"frontend_origin"`
		PopupPollInterval Duration `json:"popup_poll_interval"`
	} `json:"flow"`
}

// Duration is a wrapper around time.Duration that implements JSON
// marshaling/unmarshaling.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns a Config populated with the provider defaults. Client
// credentials and the redirect URI must still be supplied.
func Default() *Config {
	var cfg Config
	cfg.HTTPPort = 8080
	cfg.MetricsPort = 9090
	cfg.LogLevel = "info"
	cfg.Provider.BaseURL = "https://tx-pki.gouv.bj"
	cfg.Provider.AuthServer = "main-as"
	cfg.Provider.Scope = "openid profile"
	cfg.Security.JwksCacheTTL = Duration{time.Hour}
	cfg.Security.AuthSessionMaxAge = Duration{10 * time.Minute}
	cfg.Security.MaxTokenAge = Duration{5 * time.Minute}
	cfg.Security.RevokeTokensOnLogout = true
	cfg.HTTP.Timeout = Duration{30 * time.Second}
	cfg.HTTP.ShortTimeout = Duration{10 * time.Second}
	cfg.Session.Driver = "memory"
	cfg.Session.Lifetime = Duration{2 * time.Hour}
	cfg.Session.CleanupInterval = Duration{15 * time.Minute}
	cfg.Flow.FrontendOrigin = "*"
	cfg.Flow.PopupPollInterval = Duration{500 * time.Millisecond}
	return &cfg
}

// Load reads configuration from a JSON file and overrides with environment
// variables. Validation failures are fatal at load time.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides overrides config fields with BJPASS_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("BJPASS_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("BJPASS_AUTH_SERVER"); v != "" {
		c.Provider.AuthServer = v
	}
	if v := os.Getenv("BJPASS_CLIENT_ID"); v != "" {
		c.Provider.ClientID = v
	}
	if v := os.Getenv("BJPASS_CLIENT_SECRET"); v != "" {
		c.Provider.ClientSecret = v
	}
	if v := os.Getenv("BJPASS_REDIRECT_URI"); v != "" {
		c.Provider.RedirectURI = v
	}
	if v := os.Getenv("BJPASS_SCOPE"); v != "" {
		c.Provider.Scope = v
	}
	if v := os.Getenv("BJPASS_ISSUER"); v != "" {
		c.Provider.Issuer = v
	}
	if v := os.Getenv("BJPASS_INTROSPECTION_BEARER"); v != "" {
		c.Provider.IntrospectionBearer = v
	}

	if v := os.Getenv("BJPASS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BJPASS_HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing BJPASS_HTTP_PORT: %w", err)
		}
		c.HTTPPort = p
	}
	if v := os.Getenv("BJPASS_METRICS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing BJPASS_METRICS_PORT: %w", err)
		}
		c.MetricsPort = p
	}

	if v := os.Getenv("BJPASS_JWKS_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing BJPASS_JWKS_CACHE_TTL: %w", err)
		}
		c.Security.JwksCacheTTL = Duration{d}
	}
	if v := os.Getenv("BJPASS_AUTH_SESSION_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing BJPASS_AUTH_SESSION_MAX_AGE: %w", err)
		}
		c.Security.AuthSessionMaxAge = Duration{d}
	}
	if v := os.Getenv("BJPASS_MAX_TOKEN_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing BJPASS_MAX_TOKEN_AGE: %w", err)
		}
		c.Security.MaxTokenAge = Duration{d}
	}
	if v := os.Getenv("BJPASS_REVOKE_TOKENS_ON_LOGOUT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing BJPASS_REVOKE_TOKENS_ON_LOGOUT: %w", err)
		}
		c.Security.RevokeTokensOnLogout = b
	}

	if v := os.Getenv("BJPASS_SESSION_DRIVER"); v != "" {
		c.Session.Driver = v
	}
	if v := os.Getenv("BJPASS_DB_PATH"); v != "" {
		c.Session.DBPath = v
	}
	if v := os.Getenv("BJPASS_SESSION_ENC_KEY"); v != "" {
		c.Session.EncryptionKey = v
	}
	if v := os.Getenv("BJPASS_FRONTEND_ORIGIN"); v != "" {
		c.Flow.FrontendOrigin = v
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if _, err := url.ParseRequestURI(c.Provider.RedirectURI); err != nil {
		return fmt.Errorf("invalid redirect_uri: %w", err)
	}

	if c.Session.Driver == "sqlite" && c.Session.DBPath == "" {
		return fmt.Errorf("session driver sqlite requires db_path")
	}

	if c.Session.EncryptionKey != "" {
		key, err := hex.DecodeString(c.Session.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption_key is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("encryption_key must decode to 32 bytes, got %d", len(key))
		}
	}

	return nil
}
