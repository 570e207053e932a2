package lifecycle

import "videorelay/internal/config"

// Config holds the shape of every machine the service creates.
type Config struct {
	Image        string
	Region       string
	CPUKind      string
	CPUs         int
	MemoryMB     int
	InternalPort int
}

// LoadConfigFromEnv loads machine configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Image:        config.GetEnv("MACHINE_IMAGE", ""),
		Region:       config.GetEnv("MACHINE_REGION", "lax"),
		CPUKind:      config.GetEnv("MACHINE_CPU_KIND", "shared"),
		CPUs:         config.GetIntEnv("MACHINE_CPUS", 2),
		MemoryMB:     config.GetIntEnv("MACHINE_MEMORY_MB", 4096),
		InternalPort: config.GetIntEnv("MACHINE_PORT", 8888),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Region == "" {
		c.Region = "lax"
	}
	if c.CPUKind == "" {
		c.CPUKind = "shared"
	}
	if c.CPUs <= 0 {
		c.CPUs = 2
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = 4096
	}
	if c.InternalPort <= 0 {
		c.InternalPort = 8888
	}
	return c
}

// Spec builds the machine declaration for name.
func (c Config) Spec(name string) Spec {
	c = c.withDefaults()
	return Spec{
		Name:   name,
		Region: c.Region,
		Image:  c.Image,
		Guest: Guest{
			CPUKind:  c.CPUKind,
			CPUs:     c.CPUs,
			MemoryMB: c.MemoryMB,
		},
		InternalPort: c.InternalPort,
	}
}
