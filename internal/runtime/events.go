package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/events"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

// handleEvent is the single subscriber behind the pipeline's event channel.
// It runs on the dispatcher goroutine: everything here is off the capture
// and processing hot paths.
func (r *Runtime) handleEvent(evt events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch evt.Kind {
	case events.KindResult:
		r.logger.Info("transcript",
			slog.String("session_id", evt.SessionID),
			slog.Int("sequence", evt.Sequence),
			slog.String("text", evt.Text))
		if err := r.accumulator.Append(evt.Text); err != nil {
			r.logger.Warn("transcript artifact write failed", slog.String("error", err.Error()))
			r.eventBus.Publish(events.Error(evt.SessionID, events.ClassIO,
				fmt.Sprintf("error saving transcript: %v", err)))
		}
		r.busClient.PublishTranscript(protocol.Transcript{
			SessionID: evt.SessionID,
			Sequence:  evt.Sequence,
			Text:      evt.Text,
			Timestamp: evt.Timestamp,
		})
		r.appendStoreEvent(ctx, evt.SessionID, "result", []byte(evt.Text))

	case events.KindStatus:
		r.logger.Info("status", slog.String("session_id", evt.SessionID), slog.String("message", evt.Message))
		r.busClient.PublishStatus(protocol.Status{
			SessionID: evt.SessionID,
			Level:     "info",
			Message:   evt.Message,
			Timestamp: evt.Timestamp,
		})
		r.appendStoreEvent(ctx, evt.SessionID, "status", []byte(evt.Message))

	case events.KindError:
		r.logger.Warn("pipeline error",
			slog.String("session_id", evt.SessionID),
			slog.String("class", evt.Class),
			slog.String("message", evt.Message))
		r.busClient.PublishStatus(protocol.Status{
			SessionID: evt.SessionID,
			Level:     "error",
			Class:     evt.Class,
			Message:   evt.Message,
			Timestamp: evt.Timestamp,
		})
		r.appendStoreEvent(ctx, evt.SessionID, "error:"+evt.Class, []byte(evt.Message))

	case events.KindState:
		r.logger.Info("session state", slog.String("session_id", evt.SessionID), slog.String("state", evt.State))
		if evt.State == string(session.StateLoading) {
			r.accumulator.Reset()
			if err := r.store.AppendSession(ctx, evt.SessionID); err != nil {
				r.logger.Warn("event store session insert failed", slog.String("error", err.Error()))
			}
		}
		r.appendStoreEvent(ctx, evt.SessionID, "state", []byte(evt.State))
	}
}

func (r *Runtime) appendStoreEvent(ctx context.Context, sessionID, eventType string, payload []byte) {
	err := r.store.AppendEvent(ctx, eventstore.Event{
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
	})
	if err != nil {
		r.logger.Warn("event store append failed", slog.String("error", err.Error()))
	}
}
