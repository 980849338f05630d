// Package config loads service configuration from the environment.
//
// SOURCES, IN ORDER:
//  1. A .env file in the working directory, if one exists (godotenv).
//     Variables already set in the real environment win over the file.
//  2. The process environment, mapped onto Config by envconfig using the
//     struct tags below.
//
// Names match what the SPA's dev setup already exports, so the same .env
// can feed both: VITE_ZITADEL_ISSUER and VITE_ZITADEL_CLIENT_ID are
// accepted as fallbacks.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the complete runtime configuration.
type Config struct {
	Port        int    `envconfig:"PORT" default:"3001"`
	Environment string `envconfig:"APP_ENV"`
	NodeEnv     string `envconfig:"NODE_ENV"`
	DBPath      string `envconfig:"DB_PATH" default:"data/clicks.db"`

	Issuer          string        `envconfig:"ZITADEL_ISSUER"`
	ViteIssuer      string        `envconfig:"VITE_ZITADEL_ISSUER"`
	Domain          string        `envconfig:"ZITADEL_DOMAIN"`
	ClientID        string        `envconfig:"ZITADEL_CLIENT_ID"`
	ViteClientID    string        `envconfig:"VITE_ZITADEL_CLIENT_ID"`
	KeysPath        string        `envconfig:"ZITADEL_KEYS_PATH" default:"/oauth/v2/keys"`
	UserInfoPath    string        `envconfig:"ZITADEL_USERINFO_PATH" default:"/oidc/v1/userinfo"`
	KeysTimeout     time.Duration `envconfig:"KEYS_TIMEOUT" default:"5s"`
	UserInfoTimeout time.Duration `envconfig:"USERINFO_TIMEOUT" default:"5s"`
	TokenLeeway     time.Duration `envconfig:"TOKEN_LEEWAY" default:"0s"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:5174,http://127.0.0.1:5173,http://127.0.0.1:5174"`

	ClickRateLimit float64 `envconfig:"CLICK_RATE_LIMIT" default:"10"`
	ClickRateBurst int     `envconfig:"CLICK_RATE_BURST" default:"20"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	ExposeErrorDetail bool `envconfig:"EXPOSE_ERROR_DETAIL" default:"false"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads .env (if present) and the environment, resolves fallbacks and
// validates the result.
func Load() (*Config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve applies the fallback chains for values with several accepted names.
func (c *Config) resolve() {
	if c.Environment == "" {
		c.Environment = c.NodeEnv
	}
	if c.Environment == "" {
		c.Environment = "development"
	}

	if c.Issuer == "" {
		c.Issuer = c.ViteIssuer
	}
	if c.Issuer == "" && c.Domain != "" {
		c.Issuer = c.Domain
		if !strings.Contains(c.Issuer, "://") {
			c.Issuer = "https://" + c.Issuer
		}
	}
	// Zitadel's "iss" never ends in a slash; a configured one would make
	// every token fail the exact issuer comparison.
	c.Issuer = strings.TrimRight(c.Issuer, "/")

	if c.ClientID == "" {
		c.ClientID = c.ViteClientID
	}

	for i, o := range c.CORSOrigins {
		c.CORSOrigins[i] = strings.TrimSpace(o)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate reports every problem at once so a misconfigured deployment can
// be fixed in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}

	if c.Issuer == "" {
		errs = append(errs, errors.New("ZITADEL_ISSUER (or ZITADEL_DOMAIN) is required"))
	} else if u, err := url.Parse(c.Issuer); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		errs = append(errs, fmt.Errorf("ZITADEL_ISSUER must be an absolute http(s) URL, got %q", c.Issuer))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("ZITADEL_CLIENT_ID is required"))
	}
	if !strings.HasPrefix(c.KeysPath, "/") {
		errs = append(errs, fmt.Errorf("ZITADEL_KEYS_PATH must start with /, got %q", c.KeysPath))
	}
	if !strings.HasPrefix(c.UserInfoPath, "/") {
		errs = append(errs, fmt.Errorf("ZITADEL_USERINFO_PATH must start with /, got %q", c.UserInfoPath))
	}

	if c.KeysTimeout <= 0 {
		errs = append(errs, errors.New("KEYS_TIMEOUT must be positive"))
	}
	if c.UserInfoTimeout <= 0 {
		errs = append(errs, errors.New("USERINFO_TIMEOUT must be positive"))
	}
	if c.TokenLeeway < 0 {
		errs = append(errs, errors.New("TOKEN_LEEWAY must not be negative"))
	}

	if c.ClickRateLimit < 0 {
		errs = append(errs, errors.New("CLICK_RATE_LIMIT must not be negative"))
	}
	if c.ClickRateBurst < 0 {
		errs = append(errs, errors.New("CLICK_RATE_BURST must not be negative"))
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// KeysURL is the full key set endpoint.
func (c *Config) KeysURL() string { return c.Issuer + c.KeysPath }

// UserInfoURL is the full userinfo endpoint.
func (c *Config) UserInfoURL() string { return c.Issuer + c.UserInfoPath }

// Addr is the listen address for http.Server.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return lvl, nil
}
