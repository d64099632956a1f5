package synth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxtale/voxtale/internal/fault"
	"github.com/voxtale/voxtale/internal/observe"
	"github.com/voxtale/voxtale/pkg/audio"
)

// Status is the lifecycle state of a synthesis [Session].
type Status int

const (
	// StatusIdle means no synthesis is active.
	StatusIdle Status = iota

	// StatusRequesting means the request has been submitted but no event
	// has arrived yet.
	StatusRequesting

	// StatusStreaming means push events are being consumed. Playback runs
	// concurrently and usually outlives this phase.
	StatusStreaming

	// StatusCompleted means the last cycle played every frame.
	StatusCompleted

	// StatusFailed means the last cycle ended with a terminal error.
	StatusFailed
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequesting:
		return "requesting"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Config configures a [Session].
type Config struct {
	// Transport delivers the push events. Required.
	Transport Transport

	// Engine builds output engines. Required.
	Engine audio.EngineFactory

	// Format is the fixed PCM output format of the stream.
	Format audio.Format

	// MaxFrames bounds the playback queue; MinStartFrames is the pre-roll.
	// Zero values use the pkg/audio defaults.
	MaxFrames      int
	MinStartFrames int

	// OnPlaybackStateChanged is invoked with true when audible playback
	// starts and false when it stops. May be nil.
	OnPlaybackStateChanged func(playing bool)

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// Session is the single-flight synthesis state machine. One utterance at a
// time: Start rejects a new request while one is active rather than queueing
// it. Terminal errors arrive on [Session.Errors]; chunk-level decode
// problems are absorbed and logged.
//
// All methods are safe for concurrent use.
type Session struct {
	transport Transport
	handle    *audio.EngineHandle
	format    audio.Format
	maxFrames int
	minStart  int
	onPlay    func(bool)
	metrics   *observe.Metrics

	errs chan error

	mu         sync.Mutex
	status     Status
	cancel     context.CancelFunc
	controller *audio.Controller
}

// NewSession creates an idle [Session].
func NewSession(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("synth: a transport is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("synth: an engine factory is required")
	}
	return &Session{
		transport: cfg.Transport,
		handle:    audio.NewEngineHandle(cfg.Engine, cfg.Format),
		format:    cfg.Format,
		maxFrames: cfg.MaxFrames,
		minStart:  cfg.MinStartFrames,
		onPlay:    cfg.OnPlaybackStateChanged,
		metrics:   cfg.Metrics,
		errs:      make(chan error, 8),
		status:    StatusIdle,
	}, nil
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Playing reports whether frames are currently audible.
func (s *Session) Playing() bool {
	s.mu.Lock()
	ctl := s.controller
	s.mu.Unlock()
	return ctl != nil && ctl.Playing()
}

// Errors delivers terminal errors of synthesis cycles. The channel is never
// closed; reads are optional (errors are dropped when nobody listens and the
// buffer fills).
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Start submits one utterance. It rejects the call with a state fault while
// a previous cycle is still active, resets the playback pipeline (fresh
// queue, rebuilt engine) and issues the streaming request. The network and
// decode work then runs in the background; Start returns as soon as the
// request is accepted.
func (s *Session) Start(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.status == StatusRequesting || s.status == StatusStreaming {
		s.mu.Unlock()
		return fault.New(fault.State, "synth.start", "a synthesis is already in flight")
	}

	queue := audio.NewQueue(s.maxFrames, s.metrics)
	controller, err := audio.NewController(audio.ControllerConfig{
		Handle:         s.handle,
		Queue:          queue,
		MinStartFrames: s.minStart,
		OnStateChange:  s.onPlay,
		Metrics:        s.metrics,
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := controller.Start(); err != nil {
		s.status = StatusFailed
		s.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.status = StatusRequesting
	s.cancel = cancel
	s.controller = controller
	s.mu.Unlock()

	events, terrs, err := s.transport.Stream(runCtx, req)
	if err != nil {
		cancel()
		controller.Stop()
		s.mu.Lock()
		s.status = StatusFailed
		s.cancel = nil
		s.mu.Unlock()
		return err
	}

	if s.metrics != nil {
		s.metrics.ActiveSynthesis.Add(runCtx, 1)
	}
	go s.run(runCtx, cancel, controller, events, terrs)
	return nil
}

// Stop interrupts the active cycle: the in-flight request is cancelled, the
// queue flushed and the engine silenced immediately. Safe to call from any
// state, including idle, any number of times.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	controller := s.controller
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if controller != nil {
		controller.Stop()
	}
	s.handle.Silence()
}

// Close stops any active cycle and releases the audio engine.
func (s *Session) Close() error {
	s.Stop()
	return s.handle.Close()
}

// run consumes the event stream and waits for playback to finish. Both legs
// run under one errgroup: a transport failure cancels playback, a playback
// failure cancels the network read.
func (s *Session) run(ctx context.Context, cancel context.CancelFunc, controller *audio.Controller, events <-chan Event, terrs <-chan error) {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.consume(gctx, controller, events, terrs, start)
	})
	g.Go(func() error {
		select {
		case <-controller.Done():
		case <-gctx.Done():
			controller.Stop()
			<-controller.Done()
		}
		if err := controller.Err(); err != nil {
			// Unblock the network read; the stream must not outlive a dead
			// playback pipeline.
			cancel()
			return err
		}
		return nil
	})
	err := g.Wait()
	// A playback fault outranks the context error induced by cancelling the
	// consume leg.
	if cerr := controller.Err(); cerr != nil {
		err = cerr
	}

	stopped := errors.Is(err, context.Canceled)

	s.mu.Lock()
	switch {
	case stopped:
		s.status = StatusIdle
	case err != nil:
		s.status = StatusFailed
	case controller.Completed():
		s.status = StatusCompleted
	default:
		// Stopped via the controller without a context error.
		s.status = StatusIdle
	}
	s.cancel = nil
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSynthesis.Add(context.Background(), -1)
		s.metrics.SynthesisDuration.Record(context.Background(), time.Since(start).Seconds())
	}

	if err != nil && !stopped {
		slog.Error("synthesis failed", "error", err)
		s.report(err)
	}
}

// consume drains the event stream, decoding and enqueueing playable chunks.
// When the stream ends cleanly it marks the source complete so playback can
// declare completion after the queue drains. On cancellation it abandons the
// stream immediately, leaving a background drain so the transport goroutine
// can finish.
func (s *Session) consume(ctx context.Context, controller *audio.Controller, events <-chan Event, terrs <-chan error, start time.Time) error {
	first := true
	for {
		var ev Event
		var ok bool
		select {
		case <-ctx.Done():
			go audio.Drain(events)
			return ctx.Err()
		case ev, ok = <-events:
		}
		if !ok {
			break
		}
		if first {
			first = false
			s.mu.Lock()
			if s.status == StatusRequesting {
				s.status = StatusStreaming
			}
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.FirstChunkDelay.Record(ctx, time.Since(start).Seconds())
			}
		}
		s.handleEvent(ctx, controller, ev)
	}

	// The transport sends its terminal error before closing the stream.
	select {
	case err := <-terrs:
		if err != nil {
			return err
		}
	default:
	}

	controller.SourceComplete()
	return nil
}

// handleEvent decodes one push event. Continuation chunks are enqueued; the
// final merged chunk is decoded but deliberately never scheduled, because it
// duplicates audio already delivered. Anything else is skipped without
// failing the stream.
func (s *Session) handleEvent(ctx context.Context, controller *audio.Controller, ev Event) {
	switch ev.Status {
	case StatusContinuation:
		frame, err := s.decode(ev.Audio)
		if err != nil {
			slog.Warn("audio chunk decode failed, dropping", "error", err)
			s.skip(ctx, "decode_error")
			return
		}
		controller.Submit(ctx, frame)

	case StatusFinalMerged:
		if _, err := s.decode(ev.Audio); err != nil {
			slog.Warn("final merged chunk decode failed", "error", err)
		}
		s.skip(ctx, "final_merged")

	default:
		s.skip(ctx, "unexpected_status")
	}
}

func (s *Session) decode(audioHex string) (audio.Frame, error) {
	data, err := hex.DecodeString(audioHex)
	if err != nil {
		return audio.Frame{}, fault.Wrap(fault.Protocol, "synth.decode", err)
	}
	frame := audio.Frame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
	}
	if !frame.Valid() {
		return audio.Frame{}, fault.New(fault.Protocol, "synth.decode", "misaligned PCM payload")
	}
	return frame, nil
}

func (s *Session) skip(ctx context.Context, reason string) {
	if s.metrics != nil {
		s.metrics.RecordSkippedEvent(ctx, reason)
	}
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
