package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/events"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/transcript"
)

func TestArtifactWriteFailurePublishesIOError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	r := New(config.Default(), logger)
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{RetentionMode: "ephemeral"}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	r.store = store

	// A regular file where the transcript directory should be makes every
	// artifact write fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	r.accumulator = transcript.NewAccumulator(filepath.Join(blocker, "transcription.txt"))

	var mu sync.Mutex
	var published []events.Event
	r.eventBus = events.NewBus(func(evt events.Event) {
		mu.Lock()
		published = append(published, evt)
		mu.Unlock()
	})

	r.handleEvent(events.Result("sess", 0, "first"))
	r.handleEvent(events.Result("sess", 1, "second"))
	r.eventBus.Close()

	var ioErrors int
	for _, evt := range published {
		if evt.Kind == events.KindError && evt.Class == events.ClassIO {
			ioErrors++
			if evt.SessionID != "sess" {
				t.Fatalf("io error carries session %q", evt.SessionID)
			}
		}
	}
	if ioErrors != 2 {
		t.Fatalf("expected an io error per failed write, got %d", ioErrors)
	}
	// The write failure is chunk-local: the second result was still
	// accumulated.
	if got := r.accumulator.Text(); got != "first second" {
		t.Fatalf("expected both results accumulated, got %q", got)
	}
}
