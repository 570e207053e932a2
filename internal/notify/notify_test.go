package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"videorelay/internal/testutil"
	"videorelay/pkg/cloudevent"
)

func newTestNotifier(t *testing.T, cfg Config) *Notifier {
	t.Helper()
	n, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = n.Close(ctx)
	})
	return n
}

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, nil); err == nil {
		t.Error("expected error without url")
	}
}

func TestNotifier_Publish(t *testing.T) {
	t.Parallel()

	received := make(chan cloudevent.CloudEvent, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev cloudevent.CloudEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := newTestNotifier(t, Config{URL: server.URL, Workers: 2, BufferSize: 10})

	err := n.Publish(TypeMachineCreated, "m-1", map[string]any{"region": "lax"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Type != TypeMachineCreated || ev.Subject != "m-1" || ev.Source != "videorelay" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Data["region"] != "lax" {
			t.Errorf("data = %v", ev.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	testutil.MustWaitForValue(t, func() int64 { return n.Stats().Delivered }, 1,
		testutil.WithTimeout(5*time.Second))
}

func TestNotifier_BufferFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	n := newTestNotifier(t, Config{URL: server.URL, Workers: 1, BufferSize: 2})

	var rejected int
	for range 6 {
		if err := n.Publish(TypeMachineStopped, "m-1", nil); err == ErrBufferFull {
			rejected++
		}
	}

	if rejected == 0 {
		t.Error("expected some events to be rejected")
	}
	if n.Stats().Dropped != int64(rejected) {
		t.Errorf("Dropped = %d, want %d", n.Stats().Dropped, rejected)
	}
}

func TestNotifier_Retry(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := newTestNotifier(t, Config{URL: server.URL, Workers: 1})
	_ = n.Publish(TypeDispatchCompleted, "m-1", nil)

	testutil.MustWaitFor(t, func() bool {
		return n.Stats().Delivered >= 1
	}, testutil.WithTimeout(5*time.Second))

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if n.Stats().RetriesTotal != 2 {
		t.Errorf("RetriesTotal = %d, want 2", n.Stats().RetriesTotal)
	}
}

func TestNotifier_NoRetryOn4xx(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := newTestNotifier(t, Config{URL: server.URL, Workers: 1})
	_ = n.Publish(TypeDispatchFailed, "m-1", nil)

	testutil.MustWaitFor(t, func() bool {
		return n.Stats().Failed >= 1
	}, testutil.WithTimeout(5*time.Second))

	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestNotifier_CircuitBreakerRequeues(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := Config{URL: server.URL, Workers: 1, BufferSize: 100}
	cfg.breakerCooldown = 50 * time.Millisecond
	n := newTestNotifier(t, cfg)

	// 4xx fails fast, so the threshold of 5 is reached quickly
	for range defaultBreakerThreshold + 3 {
		_ = n.Publish(TypeMachineReady, "m-1", nil)
	}

	testutil.MustWaitFor(t, func() bool {
		return n.Stats().Requeued > 0
	}, testutil.WithTimeout(5*time.Second))

	healthy.Store(true)

	testutil.MustWaitFor(t, func() bool {
		s := n.Stats()
		return s.Delivered > 0 && s.Failed+s.Delivered+s.Dropped == int64(defaultBreakerThreshold+3)
	}, testutil.WithTimeout(5*time.Second))
}

func TestNotifier_Signature(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var valid bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		valid = cloudevent.Verify(body, "secret-key", r.Header.Get(cloudevent.SignatureHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := newTestNotifier(t, Config{URL: server.URL, Workers: 1, SigningKey: "secret-key"})
	_ = n.Publish(TypeMachineCreated, "m-1", nil)

	testutil.MustWaitFor(t, func() bool {
		return n.Stats().Delivered >= 1
	}, testutil.WithTimeout(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	if !valid {
		t.Error("signature did not verify")
	}
}

func TestNotifier_GracefulShutdown(t *testing.T) {
	t.Parallel()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := New(Config{URL: server.URL, Workers: 2, BufferSize: 100}, nil)
	if err != nil {
		t.Fatal(err)
	}

	for range 10 {
		_ = n.Publish(TypeMachineStopped, "m-1", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if received.Load() != 10 {
		t.Errorf("expected 10 deliveries, got %d", received.Load())
	}
	if err := n.Publish(TypeMachineStopped, "m-1", nil); err != ErrClosed {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
}

func TestExtractHost(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rawURL   string
		expected string
	}{
		{"http://localhost:8080/webhook", "localhost:8080"},
		{"https://example.com/callback", "example.com"},
		{"://invalid", "://invalid"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := extractHost(tt.rawURL); got != tt.expected {
			t.Errorf("extractHost(%q) = %q, want %q", tt.rawURL, got, tt.expected)
		}
	}
}

func TestNotifier_StatsReportOpenBreaker(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := Config{URL: server.URL, Workers: 1, BufferSize: 100}
	cfg.breakerCooldown = time.Minute
	n := newTestNotifier(t, cfg)

	if n.Stats().BreakerOpen {
		t.Fatal("breaker open before any delivery")
	}
	for range defaultBreakerThreshold {
		_ = n.Publish(TypeMachineReady, "m-1", nil)
	}

	testutil.MustWaitFor(t, func() bool {
		return n.Stats().BreakerOpen
	}, testutil.WithTimeout(5*time.Second))
}
