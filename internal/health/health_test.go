package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakePinger scripts probe outcomes.
type fakePinger struct {
	mu   sync.Mutex
	err  error
	hits int
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	return f.err
}

func (f *fakePinger) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestMonitorTracksConnectivity(t *testing.T) {
	pinger := &fakePinger{}
	m := NewMonitor(MonitorConfig{Pinger: pinger})

	if m.Connected() {
		t.Error("connected before first probe")
	}

	m.probe(context.Background())
	if !m.Connected() {
		t.Error("not connected after successful probe")
	}
	if m.LastError() != "" {
		t.Errorf("LastError = %q, want empty", m.LastError())
	}

	pinger.setErr(errors.New("connection refused"))
	m.probe(context.Background())
	if m.Connected() {
		t.Error("connected after failed probe")
	}
	if m.LastError() != "connection refused" {
		t.Errorf("LastError = %q", m.LastError())
	}

	// Recovery clears connectivity but keeps the last error message.
	pinger.setErr(nil)
	m.probe(context.Background())
	if !m.Connected() {
		t.Error("not connected after recovery")
	}
	if m.LastError() != "connection refused" {
		t.Errorf("LastError = %q, want retained message", m.LastError())
	}
}

func TestMonitorOnChange(t *testing.T) {
	pinger := &fakePinger{}
	var (
		mu    sync.Mutex
		flips []bool
	)
	m := NewMonitor(MonitorConfig{
		Pinger: pinger,
		OnChange: func(connected bool) {
			mu.Lock()
			flips = append(flips, connected)
			mu.Unlock()
		},
	})

	m.probe(context.Background())            // unknown -> connected
	m.probe(context.Background())            // no change
	pinger.setErr(errors.New("boom"))
	m.probe(context.Background())            // connected -> disconnected
	m.probe(context.Background())            // no change

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false}
	if len(flips) != len(want) {
		t.Fatalf("flips = %v, want %v", flips, want)
	}
	for i := range want {
		if flips[i] != want[i] {
			t.Errorf("flip %d = %v, want %v", i, flips[i], want[i])
		}
	}
}

func TestMonitorRunPolls(t *testing.T) {
	pinger := &fakePinger{}
	m := NewMonitor(MonitorConfig{Pinger: pinger, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	pinger.mu.Lock()
	hits := pinger.hits
	pinger.mu.Unlock()
	if hits < 2 {
		t.Errorf("probe ran %d times, want at least 2", hits)
	}
}

func TestMonitorCheck(t *testing.T) {
	pinger := &fakePinger{err: errors.New("down")}
	m := NewMonitor(MonitorConfig{Pinger: pinger})

	if err := m.Check(context.Background()); err == nil {
		t.Error("Check passed before any probe")
	}

	m.probe(context.Background())
	if err := m.Check(context.Background()); err == nil || err.Error() != "down" {
		t.Errorf("Check err = %v, want down", err)
	}

	pinger.setErr(nil)
	m.probe(context.Background())
	if err := m.Check(context.Background()); err != nil {
		t.Errorf("Check after recovery: %v", err)
	}
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzAggregatesChecks(t *testing.T) {
	h := New(
		Checker{Name: "backend", Check: func(context.Context) error { return nil }},
		Checker{Name: "store", Check: func(context.Context) error { return errors.New("locked") }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var res result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if res.Status != "fail" {
		t.Errorf("status field = %q, want fail", res.Status)
	}
	if res.Checks["backend"] != "ok" {
		t.Errorf("backend check = %q", res.Checks["backend"])
	}
	if res.Checks["store"] != "fail: locked" {
		t.Errorf("store check = %q", res.Checks["store"])
	}
}

func TestReadyzAllPass(t *testing.T) {
	h := New(Checker{Name: "backend", Check: func(context.Context) error { return nil }})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
