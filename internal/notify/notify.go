// Package notify delivers machine and dispatch lifecycle events as
// CloudEvents to a configured webhook, asynchronously and best-effort.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"videorelay/pkg/backoff"
	"videorelay/pkg/circuitbreaker"
	"videorelay/pkg/cloudevent"
)

// Lifecycle event types.
const (
	TypeMachineCreated    = "videorelay.machine.created"
	TypeMachineReady      = "videorelay.machine.ready"
	TypeMachineStopped    = "videorelay.machine.stopped"
	TypeDispatchCompleted = "videorelay.dispatch.completed"
	TypeDispatchFailed    = "videorelay.dispatch.failed"
)

// ErrBufferFull is returned when the queue is full and the event is dropped.
var ErrBufferFull = errors.New("event buffer full, event dropped")

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("notifier is closed")

// event is one queued delivery.
type event struct {
	payload  *cloudevent.CloudEvent
	requeues int // times requeued due to open circuit
}

// Stats holds delivery statistics.
type Stats struct {
	QueueDepth   int   // current queue size
	Queued       int64 // total events queued
	Delivered    int64 // successful deliveries
	Failed       int64 // failed after retries
	Dropped      int64 // dropped due to full buffer or max requeues
	Requeued     int64 // requeued due to open circuit
	RetriesTotal int64 // total retry attempts
	BreakerOpen  bool  // destination circuit currently open
}

// MetricsRecorder is an optional interface for recording delivery metrics.
type MetricsRecorder interface {
	RecordEventDelivered(ctx context.Context, durationSeconds float64)
	RecordEventFailed(ctx context.Context)
	RecordEventDropped(ctx context.Context)
	RecordEventRequeued(ctx context.Context)
	RecordEventQueueSize(ctx context.Context, size int64)
}

// Notifier queues events in a bounded channel and delivers them with a
// worker pool. If the buffer is full, events are dropped (logged + metric).
type Notifier struct {
	queue   chan *event
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	host    string
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates a notifier and starts its workers. cfg.URL must be set.
func New(cfg Config, metrics MetricsRecorder) (*Notifier, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("events url is required")
	}

	n := &Notifier{
		queue:  make(chan *event, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.breakerCooldown,
		}),
		host:     extractHost(cfg.URL),
		config:   cfg,
		logger:   slog.With("component", "notify"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	n.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go n.worker()
	}

	if metrics != nil {
		go n.reportQueueSize()
	}

	n.logger.Info("Notifier started", "destination", n.host, "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return n, nil
}

// Publish queues a lifecycle event about subject. Non-blocking.
func (n *Notifier) Publish(eventType, subject string, data map[string]any) error {
	return n.enqueue(&event{payload: cloudevent.New(eventType, n.config.Source, subject, data)})
}

func (n *Notifier) enqueue(e *event) error {
	if n.closed.Load() {
		return ErrClosed
	}

	select {
	case n.queue <- e:
		n.queued.Add(1)
		return nil
	default:
		n.drop("Event dropped, buffer full", e)
		return ErrBufferFull
	}
}

func (n *Notifier) drop(msg string, e *event) {
	n.dropped.Add(1)
	if n.metrics != nil {
		n.metrics.RecordEventDropped(context.Background())
	}
	n.logger.Warn(msg, "type", e.payload.Type, "subject", e.payload.Subject, "requeues", e.requeues)
}

// reportQueueSize periodically reports the queue size metric.
func (n *Notifier) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.metrics.RecordEventQueueSize(context.Background(), int64(len(n.queue)))
		}
	}
}

// Stats returns current delivery statistics.
func (n *Notifier) Stats() Stats {
	return Stats{
		QueueDepth:   len(n.queue),
		Queued:       n.queued.Load(),
		Delivered:    n.delivered.Load(),
		Failed:       n.failed.Load(),
		Dropped:      n.dropped.Load(),
		Requeued:     n.requeued.Load(),
		RetriesTotal: n.retriesTotal.Load(),
		BreakerOpen:  n.breaker.State() == circuitbreaker.Open,
	}
}

// Close stops accepting events and waits for queued ones to drain.
// The context deadline controls how long to wait.
func (n *Notifier) Close(ctx context.Context) error {
	if n.closed.Swap(true) {
		return nil
	}

	n.logger.Info("Notifier shutting down", "queued", len(n.queue))
	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			n.drainQueue()
			return
		case e := <-n.queue:
			n.deliver(e)
		}
	}
}

// drainQueue delivers remaining events after shutdown signal.
func (n *Notifier) drainQueue() {
	for {
		select {
		case e := <-n.queue:
			n.deliver(e)
		default:
			return
		}
	}
}

// deliver attempts delivery with retry behind the destination's circuit breaker.
func (n *Notifier) deliver(e *event) {
	breaker := n.breaker
	if !breaker.Allow() {
		n.requeue(e)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDeliveryTimeout)
	defer cancel()

	start := time.Now()
	if err := n.sendWithRetry(ctx, e); err != nil {
		breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordEventFailed(ctx)
		}
		n.logger.Warn("Delivery failed", "destination", n.host, "type", e.payload.Type, "error", err)
		return
	}

	breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordEventDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue puts an event back after the breaker cooldown.
func (n *Notifier) requeue(e *event) {
	if e.requeues >= defaultMaxRequeues {
		n.drop("Event dropped, max requeues reached", e)
		return
	}

	e.requeues++
	n.requeued.Add(1)
	if n.metrics != nil {
		n.metrics.RecordEventRequeued(context.Background())
	}

	go func() {
		select {
		case <-n.shutdown:
			return
		case <-time.After(n.config.breakerCooldown):
		}

		select {
		case n.queue <- e:
			n.logger.Debug("Event requeued", "type", e.payload.Type, "requeues", e.requeues)
		case <-n.shutdown:
		default:
			n.drop("Event dropped on requeue, buffer full", e)
		}
	}()
}

func (n *Notifier) sendWithRetry(ctx context.Context, e *event) error {
	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			n.retriesTotal.Add(1)
			if err := backoff.Wait(ctx, attempt, nil); err != nil {
				return err
			}
		}

		lastErr = n.sender.Send(ctx, n.config.URL, e.payload, n.config.SigningKey)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// extractHost extracts the host from a URL for logging.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
