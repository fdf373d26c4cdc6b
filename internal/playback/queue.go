package playback

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/npcvoice/internal/observe"
)

// DefaultGap is the base silence between consecutive clips.
const DefaultGap = 300 * time.Millisecond

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithGap sets the base silence between consecutive clips. Jitter of ±1/6 of
// the gap is applied. Zero plays clips back-to-back.
func WithGap(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.gap = d
	}
}

// WithInterruptPrevious makes every new clip cut off the one playing and drop
// everything still queued, so only the latest line is heard.
func WithInterruptPrevious(on bool) QueueOption {
	return func(q *Queue) {
		q.interruptPrevious = on
	}
}

// WithMetrics records queue depth and playback duration.
func WithMetrics(m *observe.Metrics) QueueOption {
	return func(q *Queue) {
		q.metrics = m
	}
}

// Queue plays clips on a [Sink] one at a time. Higher-priority clips jump
// ahead of queued ones; equal priorities play in submission order. A clip in
// progress is never preempted except by [Queue.Skip], [Queue.Interrupt] or
// the interrupt-previous policy.
//
// All methods are safe for concurrent use.
type Queue struct {
	sink    Sink
	metrics *observe.Metrics

	mu                sync.Mutex
	interruptPrevious bool
	queue             clipHeap
	seq               uint64
	gap               time.Duration
	playing           *entry
	cancelPlaying     context.CancelFunc
	lastEnd           time.Time

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	closed bool
}

// NewQueue creates a [Queue] feeding sink and starts its dispatch goroutine.
// Call [Queue.Close] to stop it.
func NewQueue(sink Sink, opts ...QueueOption) *Queue {
	q := &Queue{
		sink:   sink,
		gap:    DefaultGap,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	heap.Init(&q.queue)
	go q.dispatch()
	return q
}

// Enqueue schedules clip. The returned channel receives exactly one value
// when the clip is finished: nil, the sink's error, [ErrInterrupted] or
// [ErrClosed].
func (q *Queue) Enqueue(clip Clip) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		done <- ErrClosed
		return done
	}
	if q.interruptPrevious {
		q.interruptLocked(true)
	}

	q.seq++
	heap.Push(&q.queue, entry{clip: clip, seq: q.seq, done: done})
	q.depth(1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return done
}

// Len returns the number of clips waiting, excluding the one playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}

// Skip stops the clip playing and moves on to the next one.
func (q *Queue) Skip() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.interruptLocked(false)
}

// Interrupt stops the clip playing and drops everything queued.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.interruptLocked(true)
}

// SetGap changes the base gap. It applies from the next clip on.
func (q *Queue) SetGap(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gap = d
}

// SetInterruptPrevious switches the interrupt-previous policy for clips
// enqueued from now on.
func (q *Queue) SetInterruptPrevious(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.interruptPrevious = on
}

// Close stops playback, fails every queued clip with [ErrClosed] and waits
// for the dispatch goroutine to exit. Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.exited
		return nil
	}
	q.closed = true
	if q.cancelPlaying != nil {
		q.cancelPlaying()
	}
	q.dropLocked(ErrClosed)
	q.mu.Unlock()

	close(q.done)
	<-q.exited
	q.sink.Stop()
	return nil
}

// interruptLocked must be called with q.mu held.
func (q *Queue) interruptLocked(clearQueue bool) {
	if q.cancelPlaying != nil {
		q.cancelPlaying()
		q.cancelPlaying = nil
		q.sink.Stop()
	}
	if clearQueue {
		q.dropLocked(ErrInterrupted)
	}
}

// dropLocked must be called with q.mu held.
func (q *Queue) dropLocked(err error) {
	for q.queue.Len() > 0 {
		e := heap.Pop(&q.queue).(entry)
		q.depth(-1)
		e.done <- err
	}
}

func (q *Queue) depth(delta int64) {
	if q.metrics != nil {
		q.metrics.PlaybackQueueDepth.Add(context.Background(), delta)
	}
}

func (q *Queue) dispatch() {
	defer close(q.exited)
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			e, ctx, ok := q.dequeue()
			if !ok {
				break
			}
			if !q.waitGap(ctx) {
				e.done <- q.stopReason()
				q.finish(e)
				continue
			}
			q.play(ctx, e)
		}
	}
}

// dequeue pops the next clip and marks it playing.
func (q *Queue) dequeue() (*entry, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.queue.Len() == 0 {
		return nil, nil, false
	}
	e := heap.Pop(&q.queue).(entry)
	q.depth(-1)
	ctx, cancel := context.WithCancel(context.Background())
	q.playing = &e
	q.cancelPlaying = cancel
	return &e, ctx, true
}

// waitGap sleeps for the remainder of the gap since the previous clip ended.
// It returns false if the clip was interrupted while waiting.
func (q *Queue) waitGap(ctx context.Context) bool {
	q.mu.Lock()
	wait := q.gapWithJitter() - time.Since(q.lastEnd)
	q.mu.Unlock()
	if wait <= 0 {
		return true
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) play(ctx context.Context, e *entry) {
	start := time.Now()
	err := q.sink.Play(ctx, e.clip)
	if ctx.Err() != nil {
		err = q.stopReason()
	}
	if q.metrics != nil {
		q.metrics.PlaybackDuration.Record(context.Background(), time.Since(start).Seconds())
	}
	if err != nil && !errors.Is(err, ErrInterrupted) && !errors.Is(err, ErrClosed) {
		slog.Warn("playback failed", "npc", e.clip.NPC, "voice", e.clip.VoiceID, "err", err)
	}
	e.done <- err
	q.finish(e)
}

// stopReason reports why the clip playing was cancelled.
func (q *Queue) stopReason() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return ErrInterrupted
}

func (q *Queue) finish(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.playing == e {
		q.playing = nil
		if q.cancelPlaying != nil {
			q.cancelPlaying()
			q.cancelPlaying = nil
		}
	}
	q.lastEnd = time.Now()
}

// gapWithJitter must be called with q.mu held.
func (q *Queue) gapWithJitter() time.Duration {
	base := q.gap
	if base <= 0 {
		return 0
	}
	jitterRange := base / 6
	if jitterRange <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int64N(int64(2*jitterRange+1))) - jitterRange
	return base + jitter
}
