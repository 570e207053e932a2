// Package lifecycle defines the contract for creating, readying and stopping
// the ephemeral machines that run one video processing request each.
package lifecycle

import (
	"context"
	"time"
)

// ProcessPath is the route every processing machine serves.
const ProcessPath = "/process-video"

// Guest describes the compute shape of a machine.
type Guest struct {
	CPUKind  string
	CPUs     int
	MemoryMB int
}

// Spec declares the machine to create.
type Spec struct {
	Name         string
	Region       string
	Image        string
	Guest        Guest
	InternalPort int
}

// Machine is a created machine handle. It is owned by the dispatch that
// created it and is stopped exactly once.
type Machine struct {
	ID        string
	Name      string
	Region    string
	Address   string            // host:port reachable for a TCP probe, empty if unknown
	Endpoint  string            // processing URL
	Headers   map[string]string // routing headers required to reach this machine
	CreatedAt time.Time
}

// Provider creates and tears down machines.
type Provider interface {
	// Create provisions and boots a machine. Errors wrap apperrors.ErrProvision
	// and no machine is returned on failure.
	Create(ctx context.Context, spec Spec) (*Machine, error)

	// AwaitReady blocks until the machine reports started. It returns false on
	// any provider error, non-ready signal or ctx deadline.
	AwaitReady(ctx context.Context, m *Machine) bool

	// Stop tears the machine down. Failures are logged, never returned.
	Stop(ctx context.Context, m *Machine)

	// Ready reports whether the provider API is reachable.
	Ready(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}
