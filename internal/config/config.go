// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the dispatch service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	ShutdownTimeout   time.Duration // Time in-flight dispatches get to finish after draining
	Provider          string        // Lifecycle provider: "fly" or "docker"
	RedisURL          string        // In-flight registry backend; empty uses memory
	ForwardTimeout    time.Duration // Bound on the forwarded processing call
	LogLevel          string
	LogFormat         string
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecret("API_KEY_FILE", "API_KEY"),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ShutdownTimeout:   GetDurationEnv("SHUTDOWN_TIMEOUT", time.Minute),
		Provider:          GetEnv("PROVIDER", "fly"),
		RedisURL:          GetEnv("REDIS_URL", ""),
		ForwardTimeout:    GetDurationEnv("FORWARD_TIMEOUT", 15*time.Minute),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		LogFormat:         GetEnv("LOG_FORMAT", "json"),
	}
}
