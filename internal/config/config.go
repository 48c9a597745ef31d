// Package config loads server settings from an optional config.yaml, a
// .env file and SACCO_ prefixed environment variables, in increasing order
// of precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SACCO_DATABASE_PATH.
const EnvPrefix = "SACCO"

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SecurityConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// PIIKey is the base64 encoded 32-byte vault master key.
	PIIKey string `mapstructure:"pii_key"`
}

type LedgerConfig struct {
	DefaultCurrency string `mapstructure:"default_currency"`
}

type RateLimitConfig struct {
	MaxHits int           `mapstructure:"max_hits"`
	Window  time.Duration `mapstructure:"window"`
}

type SuggestConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Security    SecurityConfig    `mapstructure:"security"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Suggest     SuggestConfig     `mapstructure:"suggest"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

var defaults = map[string]any{
	"server.address":          "",
	"server.port":             8080,
	"database.path":           "./data/sacco.db",
	"log.level":               "info",
	"security.jwt_secret":     "",
	"security.token_ttl":      "12h",
	"security.pii_key":        "",
	"ledger.default_currency": "RWF",
	"ratelimit.max_hits":      20,
	"ratelimit.window":        "60s",
	"suggest.url":             "",
	"suggest.timeout":         "5s",
	"suggest.cache_ttl":       "10m",
	"idempotency.ttl":         "24h",
}

// Load reads the configuration. An empty path looks for config.yaml in the
// working directory and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Ledger.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Ledger.DefaultCurrency))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.Security.PIIKey)
	if err != nil || len(key) != 32 {
		return errors.New("security.pii_key must be base64 of 32 bytes")
	}
	if len(c.Ledger.DefaultCurrency) != 3 {
		return fmt.Errorf("ledger.default_currency %q must be 3 letters", c.Ledger.DefaultCurrency)
	}
	if c.RateLimit.MaxHits <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("ratelimit.max_hits and ratelimit.window must be positive")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
