package fly

import (
	"time"

	"videorelay/internal/config"
)

const (
	defaultAPIURL      = "https://api.machines.dev"
	defaultWaitTimeout = 60 * time.Second
	defaultHTTPTimeout = 30 * time.Second
)

// Config holds configuration for the Fly Machines provider.
type Config struct {
	AppName     string
	APIToken    string
	APIURL      string        // Machines API base (default https://api.machines.dev)
	AppHost     string        // Public host of the app (default {app}.fly.dev)
	PrivateNet  bool          // Running inside the app's 6PN network; machines are probed by private IP
	WaitTimeout time.Duration // Server-side timeout of a single wait call, capped at 60s
	HTTPTimeout time.Duration // Per-call timeout for create, stop and app lookups
}

// LoadConfigFromEnv loads Fly configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		AppName:  config.GetEnv("FLY_APP_NAME", ""),
		APIToken: config.GetSecret("FLY_API_TOKEN_FILE", "FLY_API_TOKEN"),
		APIURL:   config.GetEnv("FLY_API_URL", defaultAPIURL),
		AppHost:  config.GetEnv("FLY_APP_HOST", ""),

		PrivateNet: config.GetEnv("FLY_PRIVATE_NETWORK", "") == "true",
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.AppHost == "" && c.AppName != "" {
		c.AppHost = c.AppName + ".fly.dev"
	}
	if c.WaitTimeout <= 0 || c.WaitTimeout > defaultWaitTimeout {
		c.WaitTimeout = defaultWaitTimeout
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	return c
}
