package docker

import (
	"strings"
	"time"

	"videorelay/internal/config"
)

// Config holds configuration for the Docker provider.
type Config struct {
	Network     string        // Attach machines to this network and reach them by container IP
	PublishHost string        // Host IP the service port is published on when Network is empty
	ExtraHosts  []string      // Extra /etc/hosts entries (e.g., ["minio.test:host-gateway"])
	StopTimeout time.Duration // Grace period before a stopped container is killed
	PollMax     time.Duration // Upper bound of the readiness poll interval
}

// LoadConfigFromEnv loads Docker provider configuration from environment variables.
func LoadConfigFromEnv() Config {
	var extraHosts []string
	if hosts := config.GetEnv("EXTRA_HOSTS", ""); hosts != "" {
		extraHosts = strings.Split(hosts, ",")
	}

	cfg := Config{
		Network:     config.GetEnv("DOCKER_NETWORK", ""),
		PublishHost: config.GetEnv("DOCKER_PUBLISH_HOST", "127.0.0.1"),
		ExtraHosts:  extraHosts,
		StopTimeout: config.GetDurationEnv("DOCKER_STOP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.PublishHost == "" {
		c.PublishHost = "127.0.0.1"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.PollMax <= 0 {
		c.PollMax = 2 * time.Second
	}
	return c
}
