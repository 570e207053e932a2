package fly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"videorelay/internal/apperrors"
	"videorelay/internal/lifecycle"
)

type recordedCall struct {
	method string
	path   string
	query  string
	auth   string
}

type fakeMachinesAPI struct {
	mu    sync.Mutex
	calls []recordedCall

	createStatus int
	waitStatuses []int // consumed in order; last one repeats
	stopStatus   int
	created      createRequest
}

func (f *fakeMachinesAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/apps/video-app/machines", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var created createRequest
		if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
			t.Errorf("decode create body: %v", err)
		}
		f.mu.Lock()
		f.created = created
		f.mu.Unlock()
		if f.createStatus != 0 {
			http.Error(w, `{"error":"capacity"}`, f.createStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(machineResponse{
			ID: "m-123", Name: created.Name, Region: created.Region, State: "created", PrivateIP: "fdaa::3",
		})
	})
	mux.HandleFunc("GET /v1/apps/video-app/machines/m-123/wait", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		status := http.StatusOK
		if len(f.waitStatuses) > 0 {
			status = f.waitStatuses[0]
			if len(f.waitStatuses) > 1 {
				f.waitStatuses = f.waitStatuses[1:]
			}
		}
		f.mu.Unlock()
		w.WriteHeader(status)
	})
	mux.HandleFunc("POST /v1/apps/video-app/machines/m-123/stop", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.stopStatus != 0 {
			w.WriteHeader(f.stopStatus)
		}
	})
	mux.HandleFunc("GET /v1/apps/video-app", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = w.Write([]byte(`{"name":"video-app"}`))
	})
	return mux
}

func (f *fakeMachinesAPI) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.RawQuery,
		auth:   r.Header.Get("Authorization"),
	})
}

func (f *fakeMachinesAPI) callCount(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method && c.path == path {
			n++
		}
	}
	return n
}

func newTestProvider(t *testing.T, api *fakeMachinesAPI) *Provider {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	p, err := New(Config{AppName: "video-app", APIToken: "secret", APIURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func testSpec() lifecycle.Spec {
	return lifecycle.Config{Image: "registry.fly.io/ffmpeg:latest"}.Spec("video-processor-abc")
}

func TestNew_RequiresAppAndToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{APIToken: "x"}); err == nil {
		t.Error("expected error without app name")
	}
	if _, err := New(Config{AppName: "x"}); err == nil {
		t.Error("expected error without token")
	}
}

func TestCreate_SendsDeclaredMachine(t *testing.T) {
	t.Parallel()

	api := &fakeMachinesAPI{}
	p := newTestProvider(t, api)

	m, err := p.Create(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if m.ID != "m-123" {
		t.Errorf("ID = %q, want m-123", m.ID)
	}
	if m.Endpoint != "https://video-app.fly.dev/process-video" {
		t.Errorf("Endpoint = %q", m.Endpoint)
	}
	if got := m.Headers[ReplayHeader]; got != "instance=m-123" {
		t.Errorf("%s = %q, want instance=m-123", ReplayHeader, got)
	}
	if m.Address != "" {
		t.Errorf("Address = %q, want empty outside the private network", m.Address)
	}

	api.mu.Lock()
	body := api.created
	auth := api.calls[0].auth
	api.mu.Unlock()

	if body.Name != "video-processor-abc" || body.Region != "lax" {
		t.Errorf("name/region = %s/%s", body.Name, body.Region)
	}
	if !body.Config.AutoDestroy || body.Config.Restart.Policy != "no" {
		t.Errorf("auto_destroy=%v restart=%q", body.Config.AutoDestroy, body.Config.Restart.Policy)
	}
	if body.Config.Guest != (guestConfig{CPUKind: "shared", CPUs: 2, MemoryMB: 4096}) {
		t.Errorf("guest = %+v", body.Config.Guest)
	}
	if len(body.Config.Services) != 1 {
		t.Fatalf("services = %d, want 1", len(body.Config.Services))
	}
	svc := body.Config.Services[0]
	if svc.Protocol != "tcp" || svc.InternalPort != 8888 || len(svc.Ports) != 2 || len(svc.Checks) != 1 {
		t.Errorf("service = %+v", svc)
	}

	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestCreate_PrivateNetworkAddress(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer((&fakeMachinesAPI{}).handler(t))
	t.Cleanup(server.Close)
	p, err := New(Config{AppName: "video-app", APIToken: "secret", APIURL: server.URL, PrivateNet: true})
	if err != nil {
		t.Fatal(err)
	}

	m, err := p.Create(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Address != "[fdaa::3]:8888" {
		t.Errorf("Address = %q, want [fdaa::3]:8888", m.Address)
	}
}

func TestCreate_NonSuccessIsProvisionError(t *testing.T) {
	t.Parallel()

	api := &fakeMachinesAPI{createStatus: http.StatusUnprocessableEntity}
	p := newTestProvider(t, api)

	m, err := p.Create(context.Background(), testSpec())
	if m != nil {
		t.Errorf("expected no machine, got %+v", m)
	}
	if !errors.Is(err, apperrors.ErrProvision) {
		t.Fatalf("expected ErrProvision, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected APIError 422 in chain, got %v", err)
	}
}

func TestCreate_Unreachable(t *testing.T) {
	t.Parallel()

	p, err := New(Config{AppName: "video-app", APIToken: "x", APIURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Create(context.Background(), testSpec()); !errors.Is(err, apperrors.ErrProvision) {
		t.Errorf("expected ErrProvision, got %v", err)
	}
}

func TestAwaitReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		statuses []int
		want     bool
	}{
		{"started", []int{http.StatusOK}, true},
		{"retries server timeout", []int{http.StatusRequestTimeout, http.StatusOK}, true},
		{"machine failed", []int{http.StatusBadRequest}, false},
		{"api error", []int{http.StatusInternalServerError}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := &fakeMachinesAPI{waitStatuses: tt.statuses}
			p := newTestProvider(t, api)
			m := &lifecycle.Machine{ID: "m-123"}

			if got := p.AwaitReady(context.Background(), m); got != tt.want {
				t.Errorf("AwaitReady = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAwaitReady_WaitQuery(t *testing.T) {
	t.Parallel()

	api := &fakeMachinesAPI{}
	p := newTestProvider(t, api)
	p.AwaitReady(context.Background(), &lifecycle.Machine{ID: "m-123"})

	api.mu.Lock()
	defer api.mu.Unlock()
	if got := api.calls[0].query; got != "state=started&timeout=60" {
		t.Errorf("query = %q", got)
	}
}

func TestAwaitReady_DeadlineReturnsFalse(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	p, _ := New(Config{AppName: "video-app", APIToken: "x", APIURL: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if p.AwaitReady(ctx, &lifecycle.Machine{ID: "m-123"}) {
		t.Error("expected false after deadline")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("AwaitReady took %v, should honor deadline", elapsed)
	}
}

func TestStop_SwallowsFailure(t *testing.T) {
	t.Parallel()

	api := &fakeMachinesAPI{stopStatus: http.StatusInternalServerError}
	p := newTestProvider(t, api)

	p.Stop(context.Background(), &lifecycle.Machine{ID: "m-123"})

	if n := api.callCount(http.MethodPost, "/v1/apps/video-app/machines/m-123/stop"); n != 1 {
		t.Errorf("stop calls = %d, want 1", n)
	}
}

func TestReady(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, &fakeMachinesAPI{})
	if err := p.Ready(context.Background()); err != nil {
		t.Errorf("Ready: %v", err)
	}

	broken, _ := New(Config{AppName: "video-app", APIToken: "x", APIURL: "http://127.0.0.1:1"})
	if err := broken.Ready(context.Background()); err == nil {
		t.Error("expected error for unreachable API")
	}
}

func TestReady_HonorsHTTPTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	p, _ := New(Config{AppName: "video-app", APIToken: "x", APIURL: server.URL, HTTPTimeout: 50 * time.Millisecond})

	start := time.Now()
	if err := p.Ready(context.Background()); err == nil {
		t.Error("expected error from a hung app lookup")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Ready took %v, should stop at HTTPTimeout", elapsed)
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Config{AppName: "video-app", WaitTimeout: 5 * time.Minute}.withDefaults()
	if cfg.APIURL != defaultAPIURL {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.AppHost != "video-app.fly.dev" {
		t.Errorf("AppHost = %q", cfg.AppHost)
	}
	if cfg.WaitTimeout != 60*time.Second {
		t.Errorf("WaitTimeout = %v, want capped at 60s", cfg.WaitTimeout)
	}
}
