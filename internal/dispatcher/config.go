package dispatcher

import (
	"time"

	"videorelay/internal/config"
	"videorelay/internal/lifecycle"
)

// Config holds dispatch timings and the machine declaration.
type Config struct {
	Provider     string // provider name for metrics and logs
	Owner        string // instance id recorded on registry entries
	Machine      lifecycle.Config
	ReadyTimeout time.Duration // deadline for the provider's ready signal (default 60s)
	ProbeTimeout time.Duration // deadline for the TCP probe; 0 uses SettleDelay instead (default 30s)
	SettleDelay  time.Duration // fixed pause after ready when no probe runs (default 5s)
	StopTimeout  time.Duration // bound on teardown, independent of the request (default 30s)

	BreakerThreshold int           // consecutive create failures before failing fast (default 5)
	BreakerCooldown  time.Duration // time before a trial create (default 30s)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Provider:         config.GetEnv("PROVIDER", "fly"),
		Machine:          lifecycle.LoadConfigFromEnv(),
		ReadyTimeout:     config.GetDurationEnv("READY_TIMEOUT", 60*time.Second),
		ProbeTimeout:     config.GetDurationEnv("PROBE_TIMEOUT", 30*time.Second),
		SettleDelay:      config.GetDurationEnv("SETTLE_DELAY", 5*time.Second),
		StopTimeout:      config.GetDurationEnv("STOP_TIMEOUT", 30*time.Second),
		BreakerThreshold: config.GetIntEnv("PROVIDER_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  config.GetDurationEnv("PROVIDER_BREAKER_COOLDOWN", 30*time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults. ProbeTimeout and
// SettleDelay may legitimately be zero.
func (c Config) withDefaults() Config {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 60 * time.Second
	}
	if c.ProbeTimeout < 0 {
		c.ProbeTimeout = 0
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}
