package synth

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/voxtale/voxtale/internal/fault"
	"github.com/voxtale/voxtale/pkg/audio"
	"github.com/voxtale/voxtale/pkg/audio/mock"
)

var testFormat = audio.Format{SampleRate: 32000, Channels: 1}

func pcmHex(samples int) string {
	data := make([]byte, samples*2)
	for i := range data {
		data[i] = byte(i)
	}
	return hex.EncodeToString(data)
}

// fakeTransport scripts a fixed event sequence. If Hold is non-nil the
// stream stays open until the channel is closed, for cancellation tests.
type fakeTransport struct {
	Events   []Event
	Err      error // terminal stream error, sent after Events
	StartErr error // submission failure returned by Stream itself
	Hold     chan struct{}
}

func (f *fakeTransport) Stream(ctx context.Context, _ Request) (<-chan Event, <-chan error, error) {
	if f.StartErr != nil {
		return nil, nil, f.StartErr
	}
	events := make(chan Event)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		for _, ev := range f.Events {
			select {
			case events <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if f.Hold != nil {
			select {
			case <-f.Hold:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if f.Err != nil {
			errs <- f.Err
		}
	}()
	return events, errs, nil
}

func validRequest() Request {
	return Request{Text: "Hello", VoiceID: "v1", Speed: 1.0, Pitch: 0, Emotion: "neutral"}
}

func newTestSession(t *testing.T, transport Transport, factory *mock.Factory, onPlay func(bool)) *Session {
	t.Helper()
	s, err := NewSession(Config{
		Transport:              transport,
		Engine:                 factory.New,
		Format:                 testFormat,
		MaxFrames:              16,
		MinStartFrames:         2,
		OnPlaybackStateChanged: onPlay,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", s.Status(), want)
}

func playedFrames(f *mock.Factory) int {
	total := 0
	for _, e := range f.Engines() {
		total += len(e.Played())
	}
	return total
}

func TestSessionPlaysStreamAndCompletes(t *testing.T) {
	// Three continuation chunks and one final merged chunk: exactly three
	// frames may reach the engine.
	transport := &fakeTransport{Events: []Event{
		{Status: StatusContinuation, Audio: pcmHex(160)},
		{Status: StatusContinuation, Audio: pcmHex(160)},
		{Status: StatusContinuation, Audio: pcmHex(160)},
		{Status: StatusFinalMerged, Audio: pcmHex(480)},
	}}
	factory := &mock.Factory{}
	s := newTestSession(t, transport, factory, nil)

	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, s, StatusCompleted)

	if got := playedFrames(factory); got != 3 {
		t.Errorf("engine consumed %d frames, want 3", got)
	}
}

func TestSessionPlaybackStateTransitions(t *testing.T) {
	transport := &fakeTransport{Events: []Event{
		{Status: StatusContinuation, Audio: pcmHex(160)},
		{Status: StatusContinuation, Audio: pcmHex(160)},
	}}
	factory := &mock.Factory{}

	states := make(chan bool, 8)
	s := newTestSession(t, transport, factory, func(playing bool) { states <- playing })

	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, s, StatusCompleted)

	select {
	case first := <-states:
		if !first {
			t.Errorf("first playback state = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("no playback state change observed")
	}
}

func TestSessionSingleFlight(t *testing.T) {
	hold := make(chan struct{})
	transport := &fakeTransport{
		Events: []Event{{Status: StatusContinuation, Audio: pcmHex(160)}},
		Hold:   hold,
	}
	factory := &mock.Factory{}
	s := newTestSession(t, transport, factory, nil)

	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := s.Start(context.Background(), validRequest())
	if !fault.IsKind(err, fault.State) {
		t.Fatalf("second Start err = %v, want state fault", err)
	}

	close(hold)
	waitStatus(t, s, StatusCompleted)

	// After completion a new request is accepted again.
	transport.Hold = nil
	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start after completion: %v", err)
	}
}

func TestSessionStopInterrupts(t *testing.T) {
	transport := &fakeTransport{
		Events: []Event{{Status: StatusContinuation, Audio: pcmHex(160)}},
		Hold:   make(chan struct{}),
	}
	factory := &mock.Factory{}
	s := newTestSession(t, transport, factory, nil)

	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	waitStatus(t, s, StatusIdle)

	select {
	case err := <-s.Errors():
		t.Errorf("user stop surfaced error %v", err)
	default:
	}
}

func TestSessionStopIdempotentFromIdle(t *testing.T) {
	s := newTestSession(t, &fakeTransport{}, &mock.Factory{}, nil)

	s.Stop()
	s.Stop()
	if s.Status() != StatusIdle {
		t.Errorf("status = %v, want idle", s.Status())
	}
}

func TestSessionTransportErrorFailsCycle(t *testing.T) {
	transport := &fakeTransport{
		Events: []Event{{Status: StatusContinuation, Audio: pcmHex(160)}},
		Err:    fault.New(fault.Transport, "synth.stream", "connection reset"),
	}
	factory := &mock.Factory{}
	s := newTestSession(t, transport, factory, nil)

	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, s, StatusFailed)

	select {
	case err := <-s.Errors():
		if !fault.IsKind(err, fault.Transport) {
			t.Errorf("error kind = %v, want transport", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error surfaced on the error channel")
	}

	// A failed cycle does not wedge the session.
	transport.Err = nil
	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	waitStatus(t, s, StatusCompleted)
}

func TestSessionPlaybackFailureFailsCycleMidStream(t *testing.T) {
	// The stream is held open for the whole test: a dead engine alone must
	// fail the cycle, without waiting for the network side to finish.
	hold := make(chan struct{})
	defer close(hold)
	transport := &fakeTransport{
		Events: []Event{
			{Status: StatusContinuation, Audio: pcmHex(160)},
			{Status: StatusContinuation, Audio: pcmHex(160)},
		},
		Hold: hold,
	}
	factory := &mock.Factory{FailAfter: -1}
	s := newTestSession(t, transport, factory, nil)

	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, s, StatusFailed)

	select {
	case err := <-s.Errors():
		if !fault.IsKind(err, fault.Resource) {
			t.Errorf("error kind = %v, want resource", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error surfaced on the error channel")
	}
}

func TestSessionSubmissionErrorSynchronous(t *testing.T) {
	transport := &fakeTransport{StartErr: fault.New(fault.Transport, "synth.stream", "dial failed")}
	s := newTestSession(t, transport, &mock.Factory{}, nil)

	err := s.Start(context.Background(), validRequest())
	if !fault.IsKind(err, fault.Transport) {
		t.Fatalf("Start err = %v, want transport fault", err)
	}
	if s.Status() != StatusFailed {
		t.Errorf("status = %v, want failed", s.Status())
	}
}

func TestSessionBadChunkSkippedNotFatal(t *testing.T) {
	transport := &fakeTransport{Events: []Event{
		{Status: StatusContinuation, Audio: pcmHex(160)},
		{Status: StatusContinuation, Audio: "not-hex!!"},
		{Status: StatusContinuation, Audio: pcmHex(160)},
	}}
	factory := &mock.Factory{}
	s := newTestSession(t, transport, factory, nil)

	if err := s.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, s, StatusCompleted)

	if got := playedFrames(factory); got != 2 {
		t.Errorf("engine consumed %d frames, want 2 (bad chunk dropped)", got)
	}
}

func TestSessionInvalidRequest(t *testing.T) {
	s := newTestSession(t, &fakeTransport{}, &mock.Factory{}, nil)

	cases := []Request{
		{VoiceID: "v1", Speed: 1},
		{Text: "hi", Speed: 1},
		{Text: "hi", VoiceID: "v1", Speed: 0},
		{Text: "hi", VoiceID: "v1", Speed: -1},
	}
	for _, req := range cases {
		if err := s.Start(context.Background(), req); !fault.IsKind(err, fault.State) {
			t.Errorf("Start(%+v) err = %v, want state fault", req, err)
		}
	}
	if s.Status() != StatusIdle {
		t.Errorf("status = %v, want idle after rejected requests", s.Status())
	}
}
