package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/events"
)

// captureLoop reads fixed-size frames from the device and pushes them onto
// the queue while the session is active. A read failure terminates only this
// loop; the processing loop keeps draining whatever is already queued. The
// device is released exactly once on every exit path.
func (c *Controller) captureLoop(src audio.Source, queue *audio.FrameQueue, done chan<- struct{}, sessionID string) {
	defer close(done)
	defer func() {
		if err := src.Close(); err != nil {
			c.log.Warn("closing input device", slog.String("error", err.Error()))
		}
	}()

	for c.active.Load() {
		frame := make([]byte, c.frameBytes)
		if err := src.ReadFrame(frame); err != nil {
			c.bus.Publish(events.Error(sessionID, events.ClassDevice, fmt.Sprintf("recording error: %v", err)))
			c.log.Warn("capture read failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
			return
		}
		queue.Push(frame)
		c.metrics.framesCaptured.Add(context.Background(), 1)
	}
}
