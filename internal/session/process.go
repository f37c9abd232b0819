package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/events"
)

// processLoop drains the queue into chunks of up to framesPerChunk frames and
// drives the engine. It runs while the session is active or frames remain
// queued; a gather that comes back empty after the session went inactive
// means the queue has drained and the loop terminates. Each chunk is
// acquire-process-release: no buffer survives the iteration.
func (c *Controller) processLoop(queue *audio.FrameQueue, done chan<- struct{}, sessionID string) {
	defer close(done)

	sequence := 0
	var drainDeadline time.Time

	for {
		if !c.active.Load() {
			if drainDeadline.IsZero() {
				drainDeadline = time.Now().Add(c.drainTimeout)
			} else if time.Now().After(drainDeadline) {
				if dropped := queue.Discard(); dropped > 0 {
					c.bus.Publish(events.Status(sessionID,
						fmt.Sprintf("drain timeout exceeded, discarded %d buffered frames", dropped)))
					c.log.Warn("drain abandoned",
						slog.String("session_id", sessionID),
						slog.Int("dropped_frames", dropped))
				}
				return
			}
		}

		frames := c.gather(queue)
		if len(frames) == 0 {
			if !c.active.Load() && queue.Len() == 0 {
				return
			}
			continue
		}

		chunk := assemble(frames, c.frameBytes)
		text, err := c.transcribe(chunk)
		if err != nil {
			c.metrics.transcribeFailures.Add(context.Background(), 1)
			c.bus.Publish(events.Error(sessionID, events.ClassTranscription, fmt.Sprintf("transcription error: %v", err)))
			continue
		}
		c.metrics.chunksTranscribed.Add(context.Background(), 1)
		if text = strings.TrimSpace(text); text != "" {
			c.bus.Publish(events.Result(sessionID, sequence, text))
			sequence++
		}
	}
}

// gather pops up to framesPerChunk frames. A pop timeout ends the attempt so
// the loop can re-check the active flag; whatever was gathered so far forms
// a (possibly partial) chunk.
func (c *Controller) gather(queue *audio.FrameQueue) [][]byte {
	frames := make([][]byte, 0, c.framesPerChunk)
	for len(frames) < c.framesPerChunk {
		frame, ok := queue.Pop(c.pollTimeout)
		if !ok {
			break
		}
		frames = append(frames, frame)
	}
	return frames
}

func assemble(frames [][]byte, frameBytes int) []byte {
	chunk := make([]byte, 0, len(frames)*frameBytes)
	for _, f := range frames {
		chunk = append(chunk, f...)
	}
	return chunk
}

func (c *Controller) transcribe(chunk []byte) (string, error) {
	ctx, cancel := context.WithTimeout(c.ctx, transcribeTimeout)
	defer cancel()

	start := time.Now()
	text, err := c.engine.Transcribe(ctx, chunk)
	c.metrics.transcribeLatency.Record(context.Background(), time.Since(start).Seconds())
	return text, err
}
