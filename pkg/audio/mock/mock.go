// Package mock provides an in-memory implementation of [audio.Engine] and a
// matching [audio.EngineFactory] for use in unit tests.
//
// The mock records every played frame so tests can assert on exactly what
// reached the output device, and exposes exported fields that control
// failure injection. All mocks are safe for concurrent use.
package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/voxtale/voxtale/pkg/audio"
)

// Engine is a mock implementation of [audio.Engine].
// Set the exported behaviour fields before use; inspect the recorded state
// after.
type Engine struct {
	// PlayDelay simulates the time the device takes to consume one frame.
	// Zero means frames are consumed instantly.
	PlayDelay time.Duration

	// FailAfter makes Play return PlayError once this many frames have been
	// consumed successfully. Zero disables failure injection; a negative
	// value makes every Play fail.
	FailAfter int

	// PlayError is the error returned once FailAfter triggers. Defaults to
	// a generic error if left nil while FailAfter is set.
	PlayError error

	mu       sync.Mutex
	played   []audio.Frame
	silenced bool
	closed   bool
	abort    chan struct{}
}

var _ audio.Engine = (*Engine)(nil)

// NewEngine creates a mock engine.
func NewEngine() *Engine {
	return &Engine{abort: make(chan struct{})}
}

// Play implements [audio.Engine]. The frame is recorded, then Play blocks
// for PlayDelay or until Silence/Close aborts it.
func (e *Engine) Play(frame audio.Frame) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("mock engine: closed")
	}
	if e.FailAfter < 0 || (e.FailAfter > 0 && len(e.played) >= e.FailAfter) {
		e.mu.Unlock()
		if e.PlayError != nil {
			return e.PlayError
		}
		return errors.New("mock engine: injected play failure")
	}
	e.played = append(e.played, frame)
	abort := e.abort
	delay := e.PlayDelay
	e.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	select {
	case <-abort:
	case <-time.After(delay):
	}
	return nil
}

// Silence implements [audio.Engine]. Any blocked Play returns immediately.
func (e *Engine) Silence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.silenced {
		e.silenced = true
		close(e.abort)
	}
}

// Close implements [audio.Engine].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if !e.silenced {
		e.silenced = true
		close(e.abort)
	}
	return nil
}

// Played returns a copy of every frame consumed so far.
func (e *Engine) Played() []audio.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]audio.Frame, len(e.played))
	copy(out, e.played)
	return out
}

// Silenced reports whether Silence or Close was called.
func (e *Engine) Silenced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.silenced
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Factory is a mock [audio.EngineFactory]. Each build returns a fresh
// [Engine] configured from the template fields, unless failure injection is
// active.
type Factory struct {
	// PlayDelay and FailAfter are copied onto every built engine.
	PlayDelay time.Duration
	FailAfter int
	PlayError error

	// FailBuilds makes the next N builds return BuildError.
	FailBuilds int

	// BuildError is returned while FailBuilds > 0. Defaults to a generic
	// error if nil.
	BuildError error

	mu      sync.Mutex
	engines []*Engine
}

// New implements [audio.EngineFactory].
func (f *Factory) New(_ audio.Format) (audio.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailBuilds > 0 {
		f.FailBuilds--
		if f.BuildError != nil {
			return nil, f.BuildError
		}
		return nil, errors.New("mock engine factory: injected build failure")
	}

	eng := NewEngine()
	eng.PlayDelay = f.PlayDelay
	eng.FailAfter = f.FailAfter
	eng.PlayError = f.PlayError
	f.engines = append(f.engines, eng)
	return eng, nil
}

// Engines returns every engine built so far, in build order.
func (f *Factory) Engines() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Engine, len(f.engines))
	copy(out, f.engines)
	return out
}

// BuildCount returns how many engines have been built.
func (f *Factory) BuildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}
