package audio

import (
	"sync"
	"time"
)

// FrameQueue is an ordered, unbounded FIFO of PCM frames shared between the
// capture loop (producer) and the processing loop (consumer). Push never
// blocks; capture must not stall on a slow consumer.
type FrameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	closed bool
}

func NewFrameQueue() *FrameQueue {
	q := &FrameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a frame. The queue takes ownership of the slice.
func (q *FrameQueue) Push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.frames = append(q.frames, frame)
	q.cond.Signal()
}

// Pop removes and returns the oldest frame, blocking up to timeout when the
// queue is empty. The second return reports whether a frame was obtained.
func (q *FrameQueue) Pop(timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 {
		if q.closed {
			return nil, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		// The callback takes the lock so the broadcast cannot run until
		// Wait has released it; a wakeup is never lost to a short timeout.
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}
	frame := q.frames[0]
	q.frames = q.frames[1:]
	return frame, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Discard drops all queued frames and returns how many were dropped.
func (q *FrameQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = nil
	return n
}

// Close rejects further pushes and wakes all blocked poppers. Frames already
// queued remain poppable.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
