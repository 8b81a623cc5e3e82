package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	DatabaseURL            string `env:"DATABASE_URL,required"`
	RedisURL               string `env:"REDIS_URL,required"`
	WebhookSignatureSecret string `env:"WEBHOOK_SIGNATURE_SECRET"`
	GatewayBaseURL         string `env:"GATEWAY_BASE_URL"`
	GatewayToken           string `env:"GATEWAY_TOKEN"`
	ConnectorBaseURL       string `env:"CONNECTOR_BASE_URL"`
	ConnectorToken         string `env:"CONNECTOR_TOKEN"`
	SessionLockTTLSeconds  int    `env:"SESSION_LOCK_TTL_SECONDS" envDefault:"30"`
	HistoryRetentionDays   int    `env:"HISTORY_RETENTION_DAYS" envDefault:"90"`
	WebhookRateLimit       int    `env:"WEBHOOK_RATE_LIMIT" envDefault:"0"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) SessionLockTTL() time.Duration {
	return time.Duration(c.SessionLockTTLSeconds) * time.Second
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.HistoryRetentionDays < 1 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must be at least 1")
	}

	if isProduction {
		if c.WebhookSignatureSecret == "" {
			log.Warn().Msg("WEBHOOK_SIGNATURE_SECRET is empty in production: webhook signature verification disabled")
		}
		if c.GatewayBaseURL == "" {
			log.Warn().Msg("GATEWAY_BASE_URL is empty in production: outbound sends will fail until a gateway is configured")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
