// Package synth owns the streaming text-to-speech session: it submits one
// synthesis request, consumes the incremental push-event response, decodes
// audio chunks and drives the playback pipeline in pkg/audio.
package synth

import (
	"context"

	"github.com/voxtale/voxtale/internal/fault"
)

// Chunk continuation flags carried by push events.
const (
	// StatusContinuation marks a playable audio chunk.
	StatusContinuation = 1

	// StatusFinalMerged marks the merged tail some backend variants append.
	// It duplicates audio already delivered and must be decoded but never
	// scheduled for playback.
	StatusFinalMerged = 2
)

// Event is one parsed push event from the synthesis stream.
type Event struct {
	// Status is the continuation flag: [StatusContinuation] or
	// [StatusFinalMerged].
	Status int

	// Audio is the hex-encoded PCM payload.
	Audio string
}

// Request describes one utterance to synthesize. Immutable once submitted.
type Request struct {
	Text    string
	VoiceID string
	Speed   float64
	Pitch   int
	Emotion string
}

// Validate checks the request invariants.
func (r Request) Validate() error {
	if r.Text == "" {
		return fault.New(fault.State, "synth.request", "text must not be empty")
	}
	if r.VoiceID == "" {
		return fault.New(fault.State, "synth.request", "voice id must not be empty")
	}
	if r.Speed <= 0 {
		return fault.New(fault.State, "synth.request", "speed must be positive")
	}
	return nil
}

// Transport delivers the push events of one synthesis request.
//
// Stream returns immediately after submitting the request. Events arrive on
// the first channel, which is closed when the stream ends. If the stream
// terminates abnormally, the transport sends exactly one error on the second
// channel before closing the event channel; consumers should drain events
// first, then poll the error channel. A non-nil error return means the
// request could not be submitted at all.
type Transport interface {
	Stream(ctx context.Context, req Request) (<-chan Event, <-chan error, error)
}
