// Package api provides the HTTP API handlers and routing for the dispatch service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"videorelay/internal/apperrors"
	"videorelay/internal/health"
	"videorelay/pkg/video"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Dispatcher runs one processing request on its own machine.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *video.Request) (*video.Result, error)
}

// Handler contains HTTP handlers for the dispatch API
type Handler struct {
	dispatcher Dispatcher
	health     *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(d Dispatcher, healthChecker *health.Checker) *Handler {
	return &Handler{
		dispatcher: d,
		health:     healthChecker,
	}
}

// ProcessVideo handles POST /process-video. The request blocks until the
// machine returns or fails; nothing is queued.
func (h *Handler) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req video.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, apperrors.Validation("body", "invalid request body: "+err.Error()))
		return
	}

	if err := validateRequest(&req); err != nil {
		h.handleError(w, r, err)
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func validateRequest(req *video.Request) error {
	if strings.TrimSpace(req.InputURL) == "" {
		return apperrors.Validation("input_url", "input_url is required")
	}
	if u, err := url.Parse(req.InputURL); err != nil || u.Scheme == "" || u.Host == "" {
		return apperrors.Validation("input_url", "input_url must be an absolute URL")
	}
	if strings.TrimSpace(req.OutputKey) == "" {
		return apperrors.Validation("output_key", "output_key is required")
	}
	for i, op := range req.Operations {
		if len(op.Args) == 0 {
			return apperrors.Validation("operations", "operation "+strconv.Itoa(i)+" has no args")
		}
	}
	return nil
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the machine provider is unreachable or the service is draining.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// handleError maps err to a status and writes {error}. Only the caller-safe
// message leaves the process; the cause is logged.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Request failed", "error", err, "detail", apperrors.Detail(err), "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}

	message := err.Error()
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		message = "internal error"
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, video.ErrorResponse{Error: message})
}
