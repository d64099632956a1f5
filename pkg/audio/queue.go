package audio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voxtale/voxtale/internal/observe"
)

// DefaultMaxFrames bounds the queue when no explicit limit is configured.
const DefaultMaxFrames = 64

// Queue is a bounded FIFO of decoded frames, the single shared structure
// between the network/decode side and the playback side. When full it drops
// the incoming frame instead of blocking the network reader: audio
// timeliness trumps completeness for chunks arriving faster than playback.
//
// All methods are safe for concurrent use.
type Queue struct {
	max     int
	metrics *observe.Metrics

	mu      sync.Mutex
	frames  []Frame
	dropped uint64
	closed  bool
}

// NewQueue creates a queue holding at most max frames. A non-positive max
// uses [DefaultMaxFrames]. metrics may be nil.
func NewQueue(max int, metrics *observe.Metrics) *Queue {
	if max <= 0 {
		max = DefaultMaxFrames
	}
	return &Queue{
		max:     max,
		metrics: metrics,
		frames:  make([]Frame, 0, max),
	}
}

// Enqueue appends frame if the queue is below its bound. Returns false when
// the frame was dropped, raising the warning condition. A closed queue
// silently refuses all frames.
func (q *Queue) Enqueue(ctx context.Context, frame Frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.frames) >= q.max {
		q.dropped++
		dropped := q.dropped
		q.mu.Unlock()

		slog.Warn("playback queue full, frame dropped",
			"max_frames", q.max,
			"dropped_total", dropped,
		)
		if q.metrics != nil {
			q.metrics.DroppedFrames.Add(ctx, 1)
		}
		return false
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.BufferedFrames.Add(ctx, 1)
	}
	return true
}

// Dequeue removes and returns the oldest frame. ok is false when the queue
// is empty.
func (q *Queue) Dequeue() (frame Frame, ok bool) {
	q.mu.Lock()
	if len(q.frames) == 0 {
		q.mu.Unlock()
		return Frame{}, false
	}
	frame = q.frames[0]
	q.frames = q.frames[1:]
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.BufferedFrames.Add(context.Background(), -1)
	}
	return frame, true
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns the total number of frames dropped since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Flush discards all buffered frames and returns how many were discarded.
func (q *Queue) Flush() int {
	q.mu.Lock()
	n := len(q.frames)
	q.frames = q.frames[:0]
	q.mu.Unlock()

	if n > 0 && q.metrics != nil {
		q.metrics.BufferedFrames.Add(context.Background(), -int64(n))
	}
	return n
}

// Close flushes the queue and rejects every frame from then on. Frames
// racing in after playback has terminated would otherwise sit buffered
// forever and skew the gauge. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	n := len(q.frames)
	q.frames = q.frames[:0]
	q.mu.Unlock()

	if n > 0 && q.metrics != nil {
		q.metrics.BufferedFrames.Add(context.Background(), -int64(n))
	}
}
