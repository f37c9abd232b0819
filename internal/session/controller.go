package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/engine"
	"github.com/loqalabs/loqa-dictate/internal/events"
)

type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

const transcribeTimeout = 45 * time.Second

// Controller owns one recording session at a time: the frame queue, the
// active flag, and the two pipeline loops. Start loads the engine and opens
// the device synchronously before anything records; Stop flips the shared
// flag and waits for capture to exit and processing to drain.
type Controller struct {
	capture config.CaptureConfig
	session config.SessionConfig
	engine  engine.Engine
	open    audio.Opener
	bus     *events.Bus
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	sessionID   string
	queue       *audio.FrameQueue
	captureDone chan struct{}
	processDone chan struct{}

	active atomic.Bool

	framesPerChunk int
	frameBytes     int
	pollTimeout    time.Duration
	drainTimeout   time.Duration
	joinTimeout    time.Duration

	metrics pipelineMetrics
}

func New(parent context.Context, captureCfg config.CaptureConfig, sessionCfg config.SessionConfig, eng engine.Engine, open audio.Opener, bus *events.Bus, log *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{
		capture:        captureCfg,
		session:        sessionCfg,
		engine:         eng,
		open:           open,
		bus:            bus,
		log:            log.With(slog.String("component", "session")),
		ctx:            ctx,
		cancel:         cancel,
		state:          StateIdle,
		framesPerChunk: FramesPerChunk(captureCfg.SampleRate, sessionCfg.ChunkSeconds, captureCfg.FrameSize),
		frameBytes:     captureCfg.FrameSize * 2 * captureCfg.Channels,
		pollTimeout:    time.Duration(sessionCfg.PollTimeoutMS) * time.Millisecond,
		drainTimeout:   time.Duration(sessionCfg.DrainTimeoutMS) * time.Millisecond,
		joinTimeout:    time.Duration(sessionCfg.JoinTimeoutMS) * time.Millisecond,
		metrics:        newPipelineMetrics(),
	}
}

// FramesPerChunk is ceil(sampleRate*chunkSeconds/frameSize), fixed for the
// whole session.
func FramesPerChunk(sampleRate, chunkSeconds, frameSize int) int {
	return (sampleRate*chunkSeconds + frameSize - 1) / frameSize
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current (or most recent) session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Start runs the Idle -> Loading -> Recording transition: load the engine
// synchronously, open the input device, then spawn the processing loop and
// the capture loop. Any failure before Recording leaves the controller Idle.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("cannot start: session is %s", state)
	}
	sessionID := uuid.NewString()
	c.sessionID = sessionID
	c.state = StateLoading
	c.mu.Unlock()

	c.bus.Publish(events.StateChange(sessionID, string(StateLoading)))
	c.bus.Publish(events.Status(sessionID, "loading transcription model"))

	if err := c.engine.Load(ctx); err != nil {
		c.bus.Publish(events.Error(sessionID, events.ClassEngineLoad, fmt.Sprintf("error loading model: %v", err)))
		c.toIdle(sessionID)
		return "", fmt.Errorf("load engine: %w", err)
	}

	src, err := c.open(c.capture)
	if err != nil {
		c.bus.Publish(events.Error(sessionID, events.ClassDevice, fmt.Sprintf("error opening input device: %v", err)))
		c.toIdle(sessionID)
		return "", fmt.Errorf("open input device: %w", err)
	}

	c.mu.Lock()
	c.queue = audio.NewFrameQueue()
	c.captureDone = make(chan struct{})
	c.processDone = make(chan struct{})
	c.active.Store(true)
	c.state = StateRecording
	queue := c.queue
	captureDone, processDone := c.captureDone, c.processDone
	c.mu.Unlock()

	c.bus.Publish(events.StateChange(sessionID, string(StateRecording)))
	c.bus.Publish(events.Status(sessionID, "recording, speak now"))
	c.log.Info("session started",
		slog.String("session_id", sessionID),
		slog.Int("frames_per_chunk", c.framesPerChunk),
		slog.Int("frame_bytes", c.frameBytes))

	// Processing first so frames never sit unconsumed; the queue is
	// unbounded either way, but the consumer should exist before the
	// producer does.
	go c.processLoop(queue, processDone, sessionID)
	go c.captureLoop(src, queue, captureDone, sessionID)

	return sessionID, nil
}

// Stop flips the active flag and waits for both loops. Capture exits within
// one device read; processing keeps draining the queue until empty or the
// drain timeout expires. The join is bounded: on timeout the controller
// proceeds to Idle anyway and says so.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot stop: session is %s", state)
	}
	c.state = StateStopping
	sessionID := c.sessionID
	queue := c.queue
	captureDone, processDone := c.captureDone, c.processDone
	c.mu.Unlock()

	c.bus.Publish(events.StateChange(sessionID, string(StateStopping)))
	c.active.Store(false)

	if !joinBoth(captureDone, processDone, c.joinTimeout) {
		c.bus.Publish(events.Status(sessionID, "stop timed out waiting for pipeline loops"))
		c.log.Warn("pipeline join timed out", slog.String("session_id", sessionID))
	}
	queue.Close()

	c.toIdle(sessionID)
	c.bus.Publish(events.Status(sessionID, "transcription stopped"))
	return nil
}

func (c *Controller) toIdle(sessionID string) {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.bus.Publish(events.StateChange(sessionID, string(StateIdle)))
}

// Close stops any active session and releases the controller.
func (c *Controller) Close() {
	if c.State() == StateRecording {
		_ = c.Stop()
	}
	c.cancel()
	_ = c.engine.Close()
}

func joinBoth(a, b <-chan struct{}, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, ch := range []<-chan struct{}{a, b} {
		select {
		case <-ch:
		case <-deadline.C:
			return false
		}
	}
	return true
}
