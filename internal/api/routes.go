package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"videorelay/internal/health"
	"videorelay/internal/lifecycle"
	"videorelay/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Dispatcher    Dispatcher
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Dispatcher, cfg.HealthChecker)

	r := chi.NewRouter()

	// Middleware order: outermost first
	r.Use(RecoveryMiddleware())
	r.Use(LoggingMiddleware())
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(ContentTypeMiddleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Probes - no auth required
	r.Get("/livez", handler.Livez)
	r.Get("/readyz", handler.Readyz)

	r.With(AuthMiddleware(cfg.APIKey)).Post(lifecycle.ProcessPath, handler.ProcessVideo)

	return r
}
