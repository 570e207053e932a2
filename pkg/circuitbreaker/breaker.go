// Package circuitbreaker implements the circuit breaker pattern.
//
// A circuit breaker stops calling a dependency that keeps failing and lets a
// single trial call through once a cooldown has passed.
//
// States:
//   - Closed: Normal operation, calls allowed
//   - Open: Too many consecutive failures, calls blocked
//   - HalfOpen: Cooldown elapsed, one trial call in flight
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by callers that refuse work while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // Normal operation, calls allowed
	Open                  // Failing, calls blocked
	HalfOpen              // Testing if recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // Consecutive failures before opening (default: 5)
	Cooldown  time.Duration // Time before a trial call is allowed (default: 30s)
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Breaker tracks consecutive failures of a single dependency.
type Breaker struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	failures    int
	lastFailure time.Time
	trial       bool // a half-open trial call is in flight
	now         func() time.Time
}

// New creates a new circuit breaker.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		state: Closed,
		now:   time.Now,
	}
}

// Allow reports whether a call should be attempted. Every allowed call must
// be followed by RecordSuccess, RecordFailure or Abandon.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) < b.cfg.Cooldown {
			return false
		}
		b.state = HalfOpen
		b.trial = true
		return true

	case HalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true

	default:
		return true
	}
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trial = false
	b.state = Closed
}

// RecordFailure counts a failure, opening the circuit at the threshold or
// immediately when a half-open trial fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	b.trial = false

	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.state = Open
	}
}

// Abandon gives up an allowed call without an outcome, e.g. when the caller
// went away. Counts are unchanged; a half-open trial slot is freed.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
