// Package testutil provides polling helpers for tests of asynchronous code
// such as the event notifier and the reaper loop.
package testutil

import (
	"testing"
	"time"
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 20ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

func resolve(opts []WaitOption) WaitOptions {
	o := WaitOptions{
		Timeout:  10 * time.Second,
		Interval: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitFor polls until condition returns true or the timeout passes. The
// condition is always evaluated at least once.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := resolve(opts)
	deadline := time.Now().Add(o.Timeout)
	for {
		if condition() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(o.Interval)
	}
}

// MustWaitFor polls until condition returns true or fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForValue polls get until it returns want, failing the test with
// the last observed value on timeout.
func MustWaitForValue[T comparable](tb testing.TB, get func() T, want T, opts ...WaitOption) {
	tb.Helper()

	var last T
	if !WaitFor(tb, func() bool {
		last = get()
		return last == want
	}, opts...) {
		tb.Fatalf("timed out waiting for %v (last: %v)", want, last)
	}
}
