// Package api serves the validation engine over HTTP.
//
// Routes:
//
//   - POST /v1/validate: validate a narrative (JSON request, JSON result).
//   - GET /healthz: liveness check; always 200.
//   - GET /readyz: readiness check; 200 only when every [Checker] passes.
//   - GET /metrics: Prometheus exposition of the OpenTelemetry metrics.
//
// Every route is wrapped in [observe.Middleware], which echoes or assigns an
// X-Request-ID header.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/scenecheck/internal/narrative"
	"github.com/MrWong99/scenecheck/internal/observe"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

// maxBodyBytes bounds the request body of POST /v1/validate.
const maxBodyBytes = 1 << 20

// Validator is the engine surface the HTTP handlers need.
// *narrative.Engine satisfies it.
type Validator interface {
	ValidateRequest(ctx context.Context, req narrative.Request) (*scene.ValidationResult, error)
}

// Handler holds the dependencies of the HTTP routes.
type Handler struct {
	validator Validator
	checkers  []Checker
	metrics   http.Handler
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckers adds readiness checks evaluated by /readyz.
func WithCheckers(checkers ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, checkers...) }
}

// WithMetricsHandler replaces the /metrics handler. The default is
// [observe.MetricsHandler].
func WithMetricsHandler(mh http.Handler) Option {
	return func(h *Handler) { h.metrics = mh }
}

// New creates a Handler backed by v.
func New(v Validator, opts ...Option) *Handler {
	h := &Handler{validator: v}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.MetricsHandler()
	}
	return h
}

// Register adds all routes to mux without middleware.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/validate", h.validate)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.Handle("GET /metrics", h.metrics)
}

// Routes returns the full HTTP handler, wrapped in [observe.Middleware].
func (h *Handler) Routes(m *observe.Metrics) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return observe.Middleware(m)(mux)
}

// errorBody is the JSON body of every non-2xx response from /v1/validate.
type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	req, err := narrative.DecodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	res, err := h.validator.ValidateRequest(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			observe.Logger(r.Context()).Error("validate failed", "err", err)
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusFor maps an engine error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scene.ErrInvalidInput), errors.Is(err, scene.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client went away.
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
