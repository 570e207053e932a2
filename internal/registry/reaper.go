package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"videorelay/internal/config"
	"videorelay/internal/lifecycle"
)

// ReaperConfig controls how often and how aggressively leaked machines are stopped.
type ReaperConfig struct {
	Interval    time.Duration // How often to scan (default 5m)
	MaxAge      time.Duration // Entries older than this are considered leaked (default 1h)
	StopTimeout time.Duration // Bound on each Stop call (default 30s)
	Owner       string        // This instance's id; its own entries belong to live dispatches
}

// LoadReaperConfigFromEnv loads reaper configuration from environment variables.
func LoadReaperConfigFromEnv() ReaperConfig {
	cfg := ReaperConfig{
		Interval:    config.GetDurationEnv("REAP_INTERVAL", 5*time.Minute),
		MaxAge:      config.GetDurationEnv("MACHINE_MAX_AGE", time.Hour),
		StopTimeout: config.GetDurationEnv("STOP_TIMEOUT", 30*time.Second),
	}
	return cfg.withDefaults()
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = time.Hour
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	return c
}

// Stopper is the part of lifecycle.Provider the reaper needs.
type Stopper interface {
	Stop(ctx context.Context, m *lifecycle.Machine)
}

// MetricsRecorder is an optional interface for recording reaped machines.
type MetricsRecorder interface {
	RecordMachinesReaped(ctx context.Context, count int)
}

// Reaper periodically stops machines whose entries outlived MaxAge. Entries
// owned by this instance are skipped since its dispatches release them
// themselves. A foreign entry older than MaxAge was left behind by a process
// that died mid-dispatch.
type Reaper struct {
	store   Store
	stopper Stopper
	cfg     ReaperConfig
	metrics MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a reaper. Call Start to begin scanning. metrics may be nil.
func NewReaper(store Store, stopper Stopper, cfg ReaperConfig, metrics MetricsRecorder) *Reaper {
	return &Reaper{
		store:   store,
		stopper: stopper,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		logger:  slog.With("component", "reaper"),
		now:     time.Now,
	}
}

// Start runs the scan loop in the background until Close.
func (r *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Reap(ctx)
			}
		}
	}()
}

// Reap stops every expired machine once and returns how many it stopped.
func (r *Reaper) Reap(ctx context.Context) int {
	entries, err := r.store.List(ctx)
	if err != nil {
		r.logger.Warn("Failed to list in-flight machines", "error", err)
		return 0
	}

	now := r.now()
	reaped := 0
	for _, e := range entries {
		if r.cfg.Owner != "" && e.Owner == r.cfg.Owner {
			continue
		}
		if now.Sub(e.CreatedAt) <= r.cfg.MaxAge {
			continue
		}

		// Claim the entry first so concurrent reapers stop it only once
		claimed, err := r.store.Release(ctx, e.MachineID)
		if err != nil {
			r.logger.Warn("Failed to claim expired machine", "machineId", e.MachineID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StopTimeout)
		r.stopper.Stop(stopCtx, e.Machine())
		cancel()

		reaped++
		r.logger.Info("Reaped leaked machine",
			"machineId", e.MachineID,
			"owner", e.Owner,
			"age", now.Sub(e.CreatedAt).Round(time.Second),
		)
	}

	if reaped > 0 {
		r.logger.Info("Reap complete", "reaped", reaped)
		if r.metrics != nil {
			r.metrics.RecordMachinesReaped(ctx, reaped)
		}
	}
	return reaped
}

// Validate rejects a MaxAge that a healthy dispatch could outlive.
// longestDispatch is the most time one dispatch can hold its machine.
func (c ReaperConfig) Validate(longestDispatch time.Duration) error {
	if c.MaxAge <= longestDispatch {
		return fmt.Errorf("MACHINE_MAX_AGE %s must exceed the longest dispatch %s", c.MaxAge, longestDispatch)
	}
	return nil
}

// Close stops the scan loop.
func (r *Reaper) Close() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
