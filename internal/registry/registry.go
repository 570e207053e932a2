// Package registry records machines that are in flight so that machines
// leaked by a crashed process can be found and stopped later.
package registry

import (
	"context"
	"time"

	"videorelay/internal/lifecycle"
)

// Entry is one in-flight machine.
type Entry struct {
	MachineID string    `json:"machine_id"`
	Name      string    `json:"name"`
	Region    string    `json:"region,omitempty"`
	Owner     string    `json:"owner"` // instance id of the process that created it
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry builds the entry for a machine created by owner.
func NewEntry(m *lifecycle.Machine, owner string) Entry {
	return Entry{
		MachineID: m.ID,
		Name:      m.Name,
		Region:    m.Region,
		Owner:     owner,
		CreatedAt: m.CreatedAt,
	}
}

// Machine returns a handle sufficient for lifecycle.Provider.Stop.
func (e Entry) Machine() *lifecycle.Machine {
	return &lifecycle.Machine{
		ID:        e.MachineID,
		Name:      e.Name,
		Region:    e.Region,
		CreatedAt: e.CreatedAt,
	}
}

// Store persists in-flight entries.
type Store interface {
	// Track records an entry, replacing any with the same machine id.
	Track(ctx context.Context, e Entry) error

	// Release removes an entry and reports whether it was present.
	// Concurrent releases of the same id see true at most once.
	Release(ctx context.Context, machineID string) (bool, error)

	// List returns all entries.
	List(ctx context.Context) ([]Entry, error)

	// Close releases store resources.
	Close() error
}
