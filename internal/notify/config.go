package notify

import (
	"time"

	"videorelay/internal/config"
)

// Delivery defaults that rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	defaultDeliveryTimeout  = 30 * time.Second
)

// Config holds configuration for lifecycle event delivery.
type Config struct {
	URL         string        // destination for every event; empty disables delivery
	SigningKey  string        // HMAC key, empty = unsigned
	Source      string        // CloudEvents source (default "videorelay")
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)

	breakerCooldown time.Duration
}

// LoadConfigFromEnv loads event delivery configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		URL:         config.GetEnv("EVENTS_URL", ""),
		SigningKey:  config.GetSecretFile(config.GetEnv("EVENTS_KEY_FILE", "")),
		BufferSize:  config.GetIntEnv("EVENTS_BUFFER_SIZE", 1000),
		Workers:     config.GetIntEnv("EVENTS_WORKERS", 4),
		HTTPTimeout: config.GetDurationEnv("EVENTS_HTTP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

// Enabled reports whether a destination is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = "videorelay"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.breakerCooldown <= 0 {
		c.breakerCooldown = defaultBreakerCooldown
	}
	return c
}
