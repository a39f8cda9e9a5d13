// Package health provides the liveness and readiness HTTP handlers.
//
//   - /healthz: liveness probe; returns 200 while the process serves HTTP.
//   - /readyz: readiness probe; returns 200 only when every registered
//     probe passes, 503 otherwise.
//
// Responses are JSON with a top-level "status" of "ok" or "fail", process
// uptime, and a per-probe result map on /readyz.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds each readiness probe.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Fn returns nil when the dependency is
// healthy. It must respect context cancellation.
type Probe struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ProviderProbe builds a Probe that fails while the named provider is
// missing. Used to report degraded mode when no API key was configured.
func ProviderProbe(name string, configured func() bool) Probe {
	return Probe{
		Name: name,
		Fn: func(context.Context) error {
			if !configured() {
				return errNotConfigured
			}
			return nil
		},
	}
}

type notConfiguredError struct{}

func (notConfiguredError) Error() string { return "provider not configured" }

var errNotConfigured = notConfiguredError{}

type response struct {
	Status string            `json:"status"`
	Uptime float64           `json:"uptime_seconds"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. Safe for concurrent use; the probe
// list is fixed at construction.
type Handler struct {
	probes  []Probe
	started time.Time
}

// New creates a Handler evaluating the given probes in order on each /readyz
// request.
func New(probes ...Probe) *Handler {
	return &Handler{
		probes:  append([]Probe(nil), probes...),
		started: time.Now(),
	}
}

// Healthz always reports ok. A process that answers is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok", Uptime: h.uptime()})
}

// Readyz reports ok only when every probe passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.probes))
	status := http.StatusOK
	res := response{Status: "ok", Uptime: h.uptime(), Checks: checks}

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Fn(ctx)
		cancel()

		if err != nil {
			checks[p.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			checks[p.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) uptime() float64 {
	return time.Since(h.started).Seconds()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
