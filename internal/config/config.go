// Package config defines the environment-driven runtime configuration for
// the securechat server.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the server. Defaults suit local
// development; JWT_SECRET is the only required value.
type Config struct {
	Port           string `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`

	MaxMessageSize   int64 `env:"MAX_MESSAGE_SIZE,default=4096"`
	MaxContentLength int   `env:"MAX_CONTENT_LENGTH,default=2000"`

	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=10"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	BadgerPath string `env:"BADGER_FILEPATH,default=data/messages"`
	SQLitePath string `env:"SQLITE_FILEPATH,default=data/users.db"`

	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads a .env file when present, unmarshals the environment, and
// sanitizes the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, err
	}
	return sanitize(cfg)
}

func sanitize(cfg Config) (*Config, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}
	if !strings.HasPrefix(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 2000
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.RateLimitRefillInterval <= 0 {
		cfg.RateLimitRefillInterval = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &cfg, nil
}

// Origins splits the configured origin allow-list.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
