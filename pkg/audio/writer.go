package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// WriterEngine is an [Engine] that outputs raw PCM to an io.Writer. When
// paced, each Play blocks for the frame's duration so a stream plays back in
// real time; unpaced it writes as fast as the writer accepts, which is what
// file output wants.
//
// Silence aborts an in-flight Play and re-arms, so the engine stays usable
// for the next stream.
type WriterEngine struct {
	w     io.Writer
	paced bool

	mu     sync.Mutex
	abort  chan struct{}
	closed bool
}

var _ Engine = (*WriterEngine)(nil)

// NewWriterEngine creates a [WriterEngine] writing to w. Pass paced=true for
// live output sinks, false for file capture.
func NewWriterEngine(w io.Writer, paced bool) *WriterEngine {
	return &WriterEngine{
		w:     w,
		paced: paced,
		abort: make(chan struct{}),
	}
}

// WriterFactory returns an [EngineFactory] producing a fresh [WriterEngine]
// over w for every build.
func WriterFactory(w io.Writer, paced bool) EngineFactory {
	return func(_ Format) (Engine, error) {
		return NewWriterEngine(w, paced), nil
	}
}

// Play implements [Engine]. It writes the frame's PCM data and, when paced,
// blocks for the frame's duration or until Silence aborts it.
func (e *WriterEngine) Play(frame Frame) error {
	if !frame.Valid() {
		return errors.New("audio: invalid frame")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("audio: writer engine closed")
	}
	abort := e.abort
	e.mu.Unlock()

	if _, err := e.w.Write(frame.Data); err != nil {
		return fmt.Errorf("audio: write frame: %w", err)
	}
	if !e.paced {
		return nil
	}

	t := time.NewTimer(frame.Duration())
	defer t.Stop()
	select {
	case <-abort:
	case <-t.C:
	}
	return nil
}

// Silence implements [Engine]. Any blocked Play returns immediately; the
// engine accepts further frames afterwards.
func (e *WriterEngine) Silence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	close(e.abort)
	e.abort = make(chan struct{})
}

// Close implements [Engine]. Closing does not close the underlying writer;
// the caller owns it.
func (e *WriterEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.abort)
	}
	return nil
}
