package audio

import (
	"log/slog"
	"sync"

	"github.com/voxtale/voxtale/internal/fault"
)

// EngineHandle owns the lifecycle of one [Engine]. Output devices can wedge
// after an abrupt stop, so the handle never resumes a stopped engine in
// place: Rebuild tears the old one down and constructs a fresh one, and is
// the only recovery path.
//
// All methods are safe for concurrent use.
type EngineHandle struct {
	factory EngineFactory
	format  Format

	mu     sync.Mutex
	engine Engine
}

// NewEngineHandle creates a handle that builds engines with factory for the
// given output format. No engine is constructed until the first call to
// [EngineHandle.Engine] or [EngineHandle.Rebuild].
func NewEngineHandle(factory EngineFactory, format Format) *EngineHandle {
	return &EngineHandle{factory: factory, format: format}
}

// Engine returns the current engine, building one if none exists.
func (h *EngineHandle) Engine() (Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine != nil {
		return h.engine, nil
	}
	return h.buildLocked()
}

// Rebuild discards the current engine and constructs a fresh one. The old
// engine is silenced and closed first; its close error is logged, not
// surfaced, because the replacement is what matters.
func (h *EngineHandle) Rebuild() (Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine != nil {
		h.engine.Silence()
		if err := h.engine.Close(); err != nil {
			slog.Warn("audio engine close during rebuild failed", "error", err)
		}
		h.engine = nil
	}
	return h.buildLocked()
}

func (h *EngineHandle) buildLocked() (Engine, error) {
	eng, err := h.factory(h.format)
	if err != nil {
		return nil, fault.Wrap(fault.Resource, "audio.engine_build", err)
	}
	h.engine = eng
	return eng, nil
}

// Silence stops output on the current engine, if any, without tearing it
// down. Safe to call when no engine exists.
func (h *EngineHandle) Silence() {
	h.mu.Lock()
	eng := h.engine
	h.mu.Unlock()

	if eng != nil {
		eng.Silence()
	}
}

// Close tears down the current engine. Idempotent.
func (h *EngineHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine == nil {
		return nil
	}
	eng := h.engine
	h.engine = nil
	eng.Silence()
	return eng.Close()
}
