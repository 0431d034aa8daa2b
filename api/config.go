package api

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kredo-protocol/kredo/model"
)

// Config is the service configuration, read from the environment.
type Config struct {
	DBPath               string   `envconfig:"DB_PATH" default:"kredo.db"`
	BindAddr             string   `envconfig:"BIND_ADDR" default:":8420"`
	CORSAllowOrigins     []string `envconfig:"CORS_ALLOW_ORIGINS"`
	TrustCacheTTLSeconds int      `envconfig:"TRUST_CACHE_TTL_SECONDS" default:"30"`
	RateLimitsJSON       string   `envconfig:"RATE_LIMITS_JSON"`
	MaxBodyBytes         int64    `envconfig:"MAX_BODY_BYTES" default:"65536"`
}

// LoadConfig reads and validates configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, model.WrapError(model.KindInternal, "read configuration", err)
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, model.NewError(model.KindInternal, "MAX_BODY_BYTES must be positive")
	}
	if cfg.TrustCacheTTLSeconds < 0 {
		return Config{}, model.NewError(model.KindInternal, "TRUST_CACHE_TTL_SECONDS must not be negative")
	}
	return cfg, nil
}

// TrustCacheTTL returns the configured TTL as a duration.
func (c Config) TrustCacheTTL() time.Duration {
	return time.Duration(c.TrustCacheTTLSeconds) * time.Second
}
