// Package dispatcher runs one video processing request on a dedicated
// machine: create, wait until ready, forward, and always tear down.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"videorelay/internal/apperrors"
	"videorelay/internal/lifecycle"
	"videorelay/internal/notify"
	"videorelay/internal/observability"
	"videorelay/internal/registry"
	"videorelay/pkg/circuitbreaker"
	"videorelay/pkg/transport"
	"videorelay/pkg/video"
)

// NamePrefix prefixes every machine name.
const NamePrefix = "video-processor-"

// Forwarder sends a request to a ready machine.
type Forwarder interface {
	Submit(ctx context.Context, target transport.Target, req *video.Request) (*video.Result, error)
}

// EventPublisher receives lifecycle events. Delivery is best-effort.
type EventPublisher interface {
	Publish(eventType, subject string, data map[string]any) error
}

// MetricsRecorder is an optional interface for recording dispatch metrics.
type MetricsRecorder interface {
	RecordMachineCreated(ctx context.Context, provider string)
	RecordMachineReady(ctx context.Context, provider string, durationSeconds float64)
	RecordMachineReleased(ctx context.Context, provider string)
	RecordDispatch(ctx context.Context, outcome string, durationSeconds float64)
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithRegistry records in-flight machines in store.
func WithRegistry(store registry.Store) Option {
	return func(d *Dispatcher) { d.registry = store }
}

// WithEvents publishes lifecycle events to p.
func WithEvents(p EventPublisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithMetrics records dispatch metrics to m.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher owns the per-request machine lifecycle.
type Dispatcher struct {
	provider  lifecycle.Provider
	forwarder Forwarder
	breaker   *circuitbreaker.Breaker
	cfg       Config
	logger    *slog.Logger

	registry registry.Store
	events   EventPublisher
	metrics  MetricsRecorder
	newName  func() string
}

// New creates a dispatcher. Requests are independent; New's result is safe
// for concurrent use.
func New(provider lifecycle.Provider, forwarder Forwarder, cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		provider:  provider,
		forwarder: forwarder,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
		cfg:     cfg,
		logger:  slog.With("component", "dispatcher"),
		newName: func() string { return NamePrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch processes req on a fresh machine and returns its result. Every
// failure is an *apperrors.Error with a fixed caller-facing message; the
// machine, once created, is stopped exactly once whatever the outcome.
// Nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, req *video.Request) (result *video.Result, err error) {
	if req == nil {
		return nil, apperrors.Validation("request", "request is required")
	}

	start := time.Now()
	name := d.newName()
	logger := d.logger.With("machine", name)
	outcome := observability.OutcomeSuccess

	defer func() {
		if d.metrics != nil {
			d.metrics.RecordDispatch(context.WithoutCancel(ctx), outcome, time.Since(start).Seconds())
		}
		if err != nil {
			logger.Warn("Dispatch failed", "outcome", outcome, "error", err, "detail", apperrors.Detail(err))
		}
	}()

	m, err := d.create(ctx, name)
	if err != nil {
		outcome = observability.OutcomeProvision
		if errors.Is(err, circuitbreaker.ErrOpen) {
			outcome = observability.OutcomeBreakerOpen
		}
		d.publish(notify.TypeDispatchFailed, name, map[string]any{"stage": "create", "error": err.Error()})
		return nil, err
	}
	logger = logger.With("machineId", m.ID)

	d.track(ctx, m, logger)
	defer d.release(ctx, m, logger)

	if err := d.awaitReady(ctx, m, logger); err != nil {
		outcome = observability.OutcomeReadiness
		d.publish(notify.TypeDispatchFailed, m.ID, map[string]any{"stage": "ready", "error": err.Error()})
		return nil, err
	}

	result, err = d.forwarder.Submit(ctx, transport.Target{URL: m.Endpoint, Headers: m.Headers}, req)
	if err == nil && result == nil {
		err = errors.New("machine returned no result")
	}
	if err != nil {
		outcome = observability.OutcomeForward
		err = apperrors.Forward("dispatcher.forward", err)
		d.publish(notify.TypeDispatchFailed, m.ID, map[string]any{"stage": "forward", "error": err.Error()})
		return nil, err
	}

	logger.Info("Dispatch completed", "duration", time.Since(start).Round(time.Millisecond))
	d.publish(notify.TypeDispatchCompleted, m.ID, map[string]any{
		"output_url": result.OutputURL,
		"duration":   time.Since(start).Seconds(),
	})
	return result, nil
}

// create provisions the machine behind the provider circuit breaker.
func (d *Dispatcher) create(ctx context.Context, name string) (*lifecycle.Machine, error) {
	if !d.breaker.Allow() {
		return nil, apperrors.Provision("dispatcher.create", circuitbreaker.ErrOpen)
	}

	m, err := d.provider.Create(ctx, d.cfg.Machine.Spec(name))
	if err == nil && m == nil {
		err = errors.New("provider returned no machine")
	}
	if err != nil {
		if ctx.Err() != nil {
			// Caller went away; says nothing about provider health
			d.breaker.Abandon()
		} else {
			d.breaker.RecordFailure()
		}
		if !errors.Is(err, apperrors.ErrProvision) {
			err = apperrors.Provision("dispatcher.create", err)
		}
		return nil, err
	}

	d.breaker.RecordSuccess()
	return m, nil
}

// track records the machine as in flight. Registry failures are logged only.
func (d *Dispatcher) track(ctx context.Context, m *lifecycle.Machine, logger *slog.Logger) {
	if d.metrics != nil {
		d.metrics.RecordMachineCreated(ctx, d.cfg.Provider)
	}
	if d.registry != nil {
		if err := d.registry.Track(ctx, registry.NewEntry(m, d.cfg.Owner)); err != nil {
			logger.Warn("Failed to track machine", "error", err)
		}
	}
	d.publish(notify.TypeMachineCreated, m.ID, map[string]any{"name": m.Name, "region": m.Region})
}

// release stops the machine on a context detached from the request, so a
// cancelled request still tears its machine down.
func (d *Dispatcher) release(reqCtx context.Context, m *lifecycle.Machine, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), d.cfg.StopTimeout)
	defer cancel()

	d.provider.Stop(ctx, m)

	if d.registry != nil {
		if _, err := d.registry.Release(ctx, m.ID); err != nil {
			logger.Warn("Failed to release machine", "error", err)
		}
	}
	if d.metrics != nil {
		d.metrics.RecordMachineReleased(ctx, d.cfg.Provider)
	}
	d.publish(notify.TypeMachineStopped, m.ID, map[string]any{
		"lifetime": time.Since(m.CreatedAt).Seconds(),
	})
	logger.Debug("Machine released")
}

// awaitReady waits for the provider's ready signal under ReadyTimeout, then
// settles: an active TCP probe when the machine is directly reachable,
// otherwise the fixed SettleDelay.
func (d *Dispatcher) awaitReady(ctx context.Context, m *lifecycle.Machine, logger *slog.Logger) error {
	started := time.Now()

	readyCtx, cancel := context.WithTimeout(ctx, d.cfg.ReadyTimeout)
	ready := d.provider.AwaitReady(readyCtx, m)
	readyErr := readyCtx.Err()
	cancel()
	if !ready {
		if readyErr == nil {
			readyErr = errors.New("provider reported machine not ready")
		}
		return apperrors.ReadinessTimeout("dispatcher.awaitReady", readyErr)
	}

	if d.cfg.ProbeTimeout > 0 && m.Address != "" {
		probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		defer cancel()
		if err := probe(probeCtx, m.Address, logger); err != nil {
			return apperrors.ReadinessTimeout("dispatcher.probe", err)
		}
	} else if err := sleep(ctx, d.cfg.SettleDelay); err != nil {
		return apperrors.ReadinessTimeout("dispatcher.settle", err)
	}

	if d.metrics != nil {
		d.metrics.RecordMachineReady(ctx, d.cfg.Provider, time.Since(started).Seconds())
	}
	d.publish(notify.TypeMachineReady, m.ID, map[string]any{"startup": time.Since(m.CreatedAt).Seconds()})
	logger.Info("Machine ready", "startup", time.Since(m.CreatedAt).Round(time.Millisecond))
	return nil
}

func (d *Dispatcher) publish(eventType, subject string, data map[string]any) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(eventType, subject, data); err != nil {
		d.logger.Debug("Event not queued", "type", eventType, "error", err)
	}
}

// sleep waits for delay or until ctx ends.
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
