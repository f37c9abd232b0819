package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/events"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedSource serves a fixed number of frames, then returns readErr on
// every further read. Each served frame is filled with its ordinal so chunk
// assembly is checkable byte-for-byte.
type scriptedSource struct {
	mu      sync.Mutex
	frames  int
	served  int
	readErr error
	perRead time.Duration
	closed  bool
}

func (s *scriptedSource) ReadFrame(frame []byte) error {
	if s.perRead > 0 {
		time.Sleep(s.perRead)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.served >= s.frames {
		return s.readErr
	}
	s.served++
	for i := range frame {
		frame[i] = byte(s.served)
	}
	return nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSource) servedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

type fakeEngine struct {
	mu      sync.Mutex
	loadErr error
	loads   int
	sizes   []int
	delay   time.Duration
	block   chan struct{}
	script  func(call int, pcm []byte) (string, error)
}

func (f *fakeEngine) Load(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *fakeEngine) Transcribe(_ context.Context, pcm []byte) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.sizes = append(f.sizes, len(pcm))
	call := len(f.sizes)
	script := f.script
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if script != nil {
		return script(call, pcm)
	}
	return fmt.Sprintf("chunk %d", call), nil
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sizes)
}

func (f *fakeEngine) chunkSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.sizes))
	copy(out, f.sizes)
	return out
}

type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) record(evt events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *eventSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *eventSink) results() []events.Event {
	var out []events.Event
	for _, evt := range s.all() {
		if evt.Kind == events.KindResult {
			out = append(out, evt)
		}
	}
	return out
}

func (s *eventSink) errorsOfClass(class string) []events.Event {
	var out []events.Event
	for _, evt := range s.all() {
		if evt.Kind == events.KindError && evt.Class == class {
			out = append(out, evt)
		}
	}
	return out
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{DeviceIndex: -1, SampleRate: 16000, Channels: 1, FrameSize: 1024}
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{ChunkSeconds: 3, PollTimeoutMS: 40, DrainTimeoutMS: 2000, JoinTimeoutMS: 2000}
}

func newTestController(t *testing.T, eng *fakeEngine, open audio.Opener, captureCfg config.CaptureConfig, sessionCfg config.SessionConfig) (*Controller, *eventSink, *events.Bus) {
	t.Helper()
	sink := &eventSink{}
	bus := events.NewBus(sink.record)
	ctrl := New(context.Background(), captureCfg, sessionCfg, eng, open, bus, newLogger())
	t.Cleanup(func() {
		ctrl.Close()
		bus.Close()
	})
	return ctrl, sink, bus
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestFramesPerChunk(t *testing.T) {
	cases := []struct {
		sampleRate, chunkSeconds, frameSize, want int
	}{
		{16000, 3, 1024, 47},
		{16000, 1, 1024, 16},
		{16000, 10, 1024, 157},
		{16000, 2, 16000, 2},
		{8000, 1, 1024, 8},
	}
	for _, c := range cases {
		got := FramesPerChunk(c.sampleRate, c.chunkSeconds, c.frameSize)
		if got != c.want {
			t.Errorf("FramesPerChunk(%d, %d, %d) = %d, want %d", c.sampleRate, c.chunkSeconds, c.frameSize, got, c.want)
		}
	}
}

func TestChunkingFullAndTrailingPartial(t *testing.T) {
	// 100 frames at 47 frames per chunk: two full chunks and a trailing
	// partial of 6 frames.
	eng := &fakeEngine{}
	src := &scriptedSource{frames: 100, readErr: errors.New("stream stopped")}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, sink, _ := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return eng.calls() == 3 }, "three chunks")
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	frameBytes := 1024 * 2
	want := []int{47 * frameBytes, 47 * frameBytes, 6 * frameBytes}
	got := eng.chunkSizes()
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d: expected %d bytes, got %d", i, want[i], got[i])
		}
	}

	results := sink.results()
	if len(results) != 3 {
		t.Fatalf("expected 3 result events, got %d", len(results))
	}
	for i, evt := range results {
		if evt.Sequence != i {
			t.Fatalf("result %d carries sequence %d", i, evt.Sequence)
		}
	}
	if !src.closed {
		t.Fatal("expected input device closed")
	}
}

func TestChunkingExactMultiple(t *testing.T) {
	// 94 frames is exactly two full chunks; no partial should follow.
	eng := &fakeEngine{}
	src := &scriptedSource{frames: 94, readErr: errors.New("stream stopped")}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, _, _ := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return eng.calls() == 2 }, "two chunks")
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := eng.chunkSizes(); len(got) != 2 {
		t.Fatalf("expected exactly 2 chunks, got %v", got)
	}
}

func TestStartRejectedWhileRecording(t *testing.T) {
	eng := &fakeEngine{}
	src := &scriptedSource{frames: 1 << 20, perRead: time.Millisecond}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, _, _ := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ctrl.Start(context.Background()); err == nil {
		t.Fatal("expected second start to be rejected")
	}
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := ctrl.Stop(); err == nil {
		t.Fatal("expected stop on idle session to be rejected")
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle, got %s", ctrl.State())
	}
}

func TestEngineLoadFailureLeavesIdle(t *testing.T) {
	eng := &fakeEngine{loadErr: errors.New("model file corrupt")}
	opened := false
	open := func(config.CaptureConfig) (audio.Source, error) {
		opened = true
		return &scriptedSource{}, nil
	}
	ctrl, sink, bus := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle after load failure, got %s", ctrl.State())
	}
	if opened {
		t.Fatal("device must not be opened when the engine fails to load")
	}
	bus.Close()
	if len(sink.errorsOfClass(events.ClassEngineLoad)) != 1 {
		t.Fatal("expected an engine load error event")
	}
}

func TestDeviceOpenFailureLeavesIdle(t *testing.T) {
	eng := &fakeEngine{}
	open := func(config.CaptureConfig) (audio.Source, error) {
		return nil, errors.New("no such device")
	}
	ctrl, sink, bus := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle after open failure, got %s", ctrl.State())
	}
	if eng.calls() != 0 {
		t.Fatalf("expected zero transcriptions, got %d", eng.calls())
	}
	bus.Close()
	if len(sink.errorsOfClass(events.ClassDevice)) != 1 {
		t.Fatal("expected a device error event")
	}
	// A failed start must not poison the controller.
	if eng.loads != 1 {
		t.Fatalf("expected one load attempt, got %d", eng.loads)
	}
}

func TestChunkFailureDoesNotBlockNextChunk(t *testing.T) {
	eng := &fakeEngine{
		script: func(call int, pcm []byte) (string, error) {
			if call == 2 {
				return "", errors.New("decoder crashed")
			}
			return fmt.Sprintf("chunk %d", call), nil
		},
	}
	src := &scriptedSource{frames: 141, readErr: errors.New("stream stopped")} // three full chunks
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, sink, bus := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return eng.calls() == 3 }, "three chunks")
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	bus.Close()

	results := sink.results()
	if len(results) != 2 {
		t.Fatalf("expected 2 results around the failed chunk, got %d", len(results))
	}
	if results[0].Text != "chunk 1" || results[1].Text != "chunk 3" {
		t.Fatalf("unexpected result texts: %q, %q", results[0].Text, results[1].Text)
	}
	// Sequence stays dense: the failed chunk consumes no sequence number.
	if results[0].Sequence != 0 || results[1].Sequence != 1 {
		t.Fatalf("unexpected sequences: %d, %d", results[0].Sequence, results[1].Sequence)
	}
	if len(sink.errorsOfClass(events.ClassTranscription)) != 1 {
		t.Fatal("expected one transcription error event")
	}
}

func TestEmptyTextEmitsNoResult(t *testing.T) {
	eng := &fakeEngine{
		script: func(call int, pcm []byte) (string, error) {
			if call == 1 {
				return "   ", nil
			}
			return "spoken words", nil
		},
	}
	src := &scriptedSource{frames: 94, readErr: errors.New("stream stopped")}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, sink, bus := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return eng.calls() == 2 }, "two chunks")
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	bus.Close()

	results := sink.results()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Text != "spoken words" || results[0].Sequence != 0 {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestStopDrainsQueuedFrames(t *testing.T) {
	eng := &fakeEngine{}
	src := &scriptedSource{frames: 1 << 20, perRead: time.Millisecond}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, _, _ := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	frameBytes := 1024 * 2
	var transcribed int
	for _, size := range eng.chunkSizes() {
		transcribed += size
	}
	captured := src.servedFrames() * frameBytes
	if transcribed != captured {
		t.Fatalf("captured %d bytes but transcribed %d; frames were lost or discarded", captured, transcribed)
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", ctrl.State())
	}
}

func TestDrainTimeoutDiscardsBacklog(t *testing.T) {
	captureCfg := config.CaptureConfig{DeviceIndex: -1, SampleRate: 1024, Channels: 1, FrameSize: 1024}
	sessionCfg := config.SessionConfig{ChunkSeconds: 1, PollTimeoutMS: 10, DrainTimeoutMS: 50, JoinTimeoutMS: 3000}

	eng := &fakeEngine{delay: 100 * time.Millisecond}
	src := &scriptedSource{frames: 60, readErr: errors.New("stream stopped")}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, sink, bus := newTestController(t, eng, open, captureCfg, sessionCfg)

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return src.servedFrames() == 60 }, "capture to finish")
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	bus.Close()

	if eng.calls() >= 60 {
		t.Fatalf("expected backlog discarded, but all %d chunks were transcribed", eng.calls())
	}
	var sawDiscard bool
	for _, evt := range sink.all() {
		if evt.Kind == events.KindStatus && strings.Contains(evt.Message, "drain timeout exceeded") {
			sawDiscard = true
		}
	}
	if !sawDiscard {
		t.Fatal("expected a drain timeout status event")
	}
}

func TestStopJoinTimeoutProceedsToIdle(t *testing.T) {
	release := make(chan struct{})
	eng := &fakeEngine{block: release}
	src := &scriptedSource{frames: 47, readErr: errors.New("stream stopped")}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	sessionCfg := config.SessionConfig{ChunkSeconds: 3, PollTimeoutMS: 40, DrainTimeoutMS: 500, JoinTimeoutMS: 200}
	ctrl, sink, bus := newTestController(t, eng, open, testCaptureConfig(), sessionCfg)
	t.Cleanup(func() { close(release) })

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return eng.calls() == 1 }, "engine to enter transcribe")

	// The engine is wedged mid-chunk; the processing loop cannot join.
	stopStart := time.Now()
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(stopStart); elapsed > time.Second {
		t.Fatalf("stop took %v, join bound not honored", elapsed)
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle after join timeout, got %s", ctrl.State())
	}
	bus.Close()

	var sawTimeout bool
	for _, evt := range sink.all() {
		if evt.Kind == events.KindStatus && strings.Contains(evt.Message, "stop timed out waiting for pipeline loops") {
			sawTimeout = true
		}
	}
	if !sawTimeout {
		t.Fatal("expected a join timeout status event")
	}
}

func TestCaptureReadFailureKeepsProcessingAlive(t *testing.T) {
	eng := &fakeEngine{}
	src := &scriptedSource{frames: 50, readErr: errors.New("device unplugged")}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, sink, bus := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Capture dies after 50 frames; the 47-frame chunk and the 3-frame
	// remainder must still be transcribed once stop drains the queue.
	waitFor(t, 3*time.Second, func() bool { return eng.calls() == 2 }, "both chunks")
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	bus.Close()

	if len(sink.errorsOfClass(events.ClassDevice)) != 1 {
		t.Fatal("expected a device error event from the failed read")
	}
	frameBytes := 1024 * 2
	got := eng.chunkSizes()
	if len(got) != 2 || got[0] != 47*frameBytes || got[1] != 3*frameBytes {
		t.Fatalf("unexpected chunk sizes: %v", got)
	}
}

func TestLifecycleEventOrder(t *testing.T) {
	eng := &fakeEngine{}
	src := &scriptedSource{frames: 10, readErr: errors.New("stream stopped")}
	open := func(config.CaptureConfig) (audio.Source, error) { return src, nil }
	ctrl, sink, bus := newTestController(t, eng, open, testCaptureConfig(), testSessionConfig())

	sessionID, err := ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return eng.calls() == 1 }, "partial chunk")
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	bus.Close()

	var states []string
	for _, evt := range sink.all() {
		if evt.SessionID != sessionID {
			t.Fatalf("event carries foreign session id %q", evt.SessionID)
		}
		if evt.Kind == events.KindState {
			states = append(states, evt.State)
		}
	}
	want := []string{"loading", "recording", "stopping", "idle"}
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, states)
		}
	}
}
