package audio

import (
	"context"
	"sync"

	"github.com/voxtale/voxtale/internal/fault"
	"github.com/voxtale/voxtale/internal/observe"
)

// DefaultMinStartFrames is the pre-roll depth used when none is configured.
const DefaultMinStartFrames = 3

// ControllerConfig configures a [Controller].
type ControllerConfig struct {
	// Handle owns the output engine. Required.
	Handle *EngineHandle

	// Queue is the frame buffer between decode and playback. Required.
	Queue *Queue

	// MinStartFrames is the pre-roll: playback does not begin until this
	// many frames are buffered, defending against first-chunk jitter.
	// Defaults to [DefaultMinStartFrames] if zero.
	MinStartFrames int

	// OnStateChange is invoked with true when audible playback starts and
	// false when it pauses, completes, fails or is stopped. May be nil.
	// Invoked from the pump goroutine and must not block.
	OnStateChange func(playing bool)

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// Controller drives one playback cycle: it pumps frames from the queue into
// the engine, fetching the next frame as soon as the engine has consumed the
// previous one. The pump is completion-driven, not timer-driven, so there
// are neither gaps nor busy-waiting.
//
// A Controller is single-use: one Start, then frames via Submit, then
// [Controller.SourceComplete] when the network phase ends. Completion is
// declared only when the queue is empty AND the source has completed; an
// empty queue with the source still open merely pauses playback until the
// next frame arrives.
//
// All methods are safe for concurrent use.
type Controller struct {
	handle   *EngineHandle
	queue    *Queue
	minStart int
	onState  func(bool)
	metrics  *observe.Metrics

	notify     chan struct{}
	cancel     chan struct{}
	finished   chan struct{}
	stopOnce   sync.Once
	finishOnce sync.Once

	mu         sync.Mutex
	running    bool
	sourceDone bool
	started    bool // pre-roll satisfied this cycle
	playing    bool
	completed  bool
	err        error
}

// NewController creates a controller for one playback cycle.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Handle == nil {
		return nil, fault.New(fault.State, "audio.controller", "an engine handle is required")
	}
	if cfg.Queue == nil {
		return nil, fault.New(fault.State, "audio.controller", "a frame queue is required")
	}
	minStart := cfg.MinStartFrames
	if minStart <= 0 {
		minStart = DefaultMinStartFrames
	}
	return &Controller{
		handle:   cfg.Handle,
		queue:    cfg.Queue,
		minStart: minStart,
		onState:  cfg.OnStateChange,
		metrics:  cfg.Metrics,
		notify:   make(chan struct{}, 1),
		cancel:   make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

// Start rebuilds the output engine and launches the pump goroutine. The
// engine is always rebuilt rather than reused so that an interrupted prior
// cycle cannot leave a wedged audio graph behind. A failed build is retried
// once via rebuild before surfacing a resource fault.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fault.New(fault.State, "audio.controller", "controller already started")
	}
	c.running = true
	c.mu.Unlock()

	if _, err := c.handle.Rebuild(); err != nil {
		c.recordRebuild()
		if _, err = c.handle.Rebuild(); err != nil {
			c.finish(err)
			return err
		}
	}

	go c.pump()
	return nil
}

// Submit enqueues one decoded frame and wakes the pump. Returns false when
// the frame was dropped by the queue bound.
func (c *Controller) Submit(ctx context.Context, frame Frame) bool {
	ok := c.queue.Enqueue(ctx, frame)
	c.wake()
	return ok
}

// SourceComplete signals that the network phase has delivered every frame it
// will. Playback may still be draining; completion is declared once the
// queue runs empty.
func (c *Controller) SourceComplete() {
	c.mu.Lock()
	c.sourceDone = true
	c.mu.Unlock()
	c.wake()
}

// Stop cancels the cycle: the pump exits, the engine is silenced
// synchronously and the queue is flushed and closed. Idempotent and safe to
// call from any state, including before Start.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.cancel)
	})
	c.handle.Silence()
	c.queue.Close()

	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		// Pump never started; nothing will close finished.
		c.finish(nil)
	}
}

// Done is closed when the cycle has ended: completed, failed or stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.finished
}

// Err returns the terminal error of the cycle, nil after clean completion or
// stop. Valid once Done is closed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Completed reports whether the cycle ended by playing every frame: queue
// empty and source complete.
func (c *Controller) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Playing reports whether frames are currently being fed to the engine.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Controller) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// pump is the playback goroutine. It waits for wakeups, honours the
// pre-roll, and plays frames back-to-back until the queue drains with the
// source complete.
func (c *Controller) pump() {
	for {
		select {
		case <-c.cancel:
			c.setPlaying(false)
			c.finish(nil)
			return
		case <-c.notify:
		}

		for {
			select {
			case <-c.cancel:
				c.setPlaying(false)
				c.finish(nil)
				return
			default:
			}

			c.mu.Lock()
			started := c.started
			sourceDone := c.sourceDone
			c.mu.Unlock()

			if !started && !sourceDone && c.queue.Len() < c.minStart {
				break // keep pre-rolling
			}

			frame, ok := c.queue.Dequeue()
			if !ok {
				if sourceDone {
					c.setPlaying(false)
					c.complete()
					return
				}
				// Drained mid-stream: pause, resume on next frame.
				c.setPlaying(false)
				break
			}

			c.mu.Lock()
			c.started = true
			c.mu.Unlock()
			c.setPlaying(true)

			if err := c.playFrame(frame); err != nil {
				c.setPlaying(false)
				c.finish(err)
				return
			}
		}
	}
}

// playFrame submits one frame to the engine, blocking until consumed. On an
// engine error the engine is rebuilt once and the frame retried; a second
// failure is terminal.
func (c *Controller) playFrame(frame Frame) error {
	eng, err := c.handle.Engine()
	if err != nil {
		return err
	}
	if err := eng.Play(frame); err == nil {
		return nil
	}

	c.recordRebuild()
	eng, rebuildErr := c.handle.Rebuild()
	if rebuildErr != nil {
		return rebuildErr
	}
	if err := eng.Play(frame); err != nil {
		return fault.Wrap(fault.Resource, "audio.play", err)
	}
	return nil
}

func (c *Controller) setPlaying(playing bool) {
	c.mu.Lock()
	changed := c.playing != playing
	c.playing = playing
	onState := c.onState
	c.mu.Unlock()

	if changed && onState != nil {
		onState(playing)
	}
}

func (c *Controller) complete() {
	c.mu.Lock()
	c.completed = true
	c.mu.Unlock()
	c.finish(nil)
}

// finish records the terminal error and closes Done exactly once. The queue
// is closed with the cycle: once playback has ended no frame may buffer
// against a pump that will never run again.
func (c *Controller) finish(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.queue.Close()
	c.finishOnce.Do(func() {
		close(c.finished)
	})
}

func (c *Controller) recordRebuild() {
	if c.metrics != nil {
		c.metrics.EngineRebuilds.Add(context.Background(), 1)
	}
}
