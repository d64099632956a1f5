// Package health tracks backend connectivity and serves probe endpoints.
//
// A [Monitor] polls the backend ping endpoint in the background and exposes
// the connectivity indicator the UI layers read. The [Handler] serves:
//
//   - /healthz — liveness; always 200 for a process that can serve HTTP.
//   - /readyz  — readiness; 200 only while every registered check passes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// DefaultInterval is the connectivity poll cadence when none is configured.
const DefaultInterval = 15 * time.Second

// Pinger probes backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor polls the backend and holds the current connectivity state plus
// the last failure message.
//
// All methods are safe for concurrent use.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	onChange func(connected bool)

	mu        sync.Mutex
	connected bool
	lastError string
	probed    bool
}

// MonitorConfig configures a [Monitor].
type MonitorConfig struct {
	// Pinger is the backend probe. Required.
	Pinger Pinger

	// Interval between probes. Defaults to [DefaultInterval] if zero.
	Interval time.Duration

	// OnChange is invoked whenever connectivity flips. May be nil.
	OnChange func(connected bool)
}

// NewMonitor creates a [Monitor]. Connectivity is unknown (reported as
// disconnected) until the first probe runs.
func NewMonitor(cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		pinger:   cfg.Pinger,
		interval: interval,
		onChange: cfg.OnChange,
	}
}

// Run probes immediately and then on every interval tick until ctx ends.
// Blocking; run it on its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	err := m.pinger.Ping(probeCtx)
	cancel()

	m.mu.Lock()
	wasConnected := m.connected
	hadProbed := m.probed
	m.probed = true
	m.connected = err == nil
	if err != nil {
		m.lastError = err.Error()
	}
	changed := !hadProbed || wasConnected != m.connected
	onChange := m.onChange
	connected := m.connected
	m.mu.Unlock()

	if changed && onChange != nil {
		onChange(connected)
	}
}

// Connected reports the result of the most recent probe.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// LastError returns the message of the most recent failed probe, or "" if
// none has failed yet.
func (m *Monitor) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Check makes the monitor usable as a readiness [Checker]: it fails while
// the backend is unreachable. It reads the cached probe result rather than
// issuing a fresh ping, so readiness scrapes stay cheap.
func (m *Monitor) Check(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}
	msg := m.lastError
	if msg == "" {
		msg = "backend not yet reachable"
	}
	return &probeError{msg: msg}
}

type probeError struct{ msg string }

func (e *probeError) Error() string { return e.msg }

// Checker is one named readiness check.
type Checker struct {
	// Name labels the check in the JSON response.
	Name string

	// Check probes the dependency and must respect ctx cancellation.
	Check func(ctx context.Context) error
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction; safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating the given checkers, in order, on each
// readiness request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz reports ok only when every checker passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
