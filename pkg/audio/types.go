// Package audio implements the playback half of the synthesis pipeline: a
// bounded frame queue fed by the network decoder and a controller that drives
// the output engine with a completion-driven pump.
package audio

import "time"

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is one decoded segment of 16-bit linear PCM ready for playback.
// Frames are owned by the queue from enqueue until the controller hands them
// to the engine.
type Frame struct {
	// Data holds interleaved little-endian int16 samples.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// SampleCount returns the number of samples per channel in the frame.
func (f Frame) SampleCount() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.SampleRate)
}

// Valid reports whether the frame holds non-empty, sample-aligned PCM data.
func (f Frame) Valid() bool {
	return len(f.Data) > 0 && len(f.Data)%2 == 0 && f.SampleRate > 0 && f.Channels > 0
}

// Engine is the platform audio output device. Play blocks until the engine
// has consumed the frame, which is the completion signal the controller's
// pump runs on. Silence aborts any in-flight Play immediately.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// Play submits one frame and blocks until the engine consumed it or
	// Silence/Close aborted it. An aborted Play returns nil.
	Play(frame Frame) error

	// Silence stops output immediately. Idempotent.
	Silence()

	// Close releases the engine. The engine must not be reused afterwards.
	Close() error
}

// EngineFactory builds a fresh engine for the given output format. Called on
// initial start and on every rebuild.
type EngineFactory func(format Format) (Engine, error)

// Drain reads from ch until it is closed, discarding all values. Use this to
// prevent producer goroutine leaks when the consumer gives up mid-stream.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
