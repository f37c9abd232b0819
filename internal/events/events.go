package events

import "time"

type Kind string

const (
	KindStatus Kind = "status"
	KindError  Kind = "error"
	KindResult Kind = "result"
	KindState  Kind = "state"
)

// Failure classes carried on KindError events.
const (
	ClassDevice        = "device"
	ClassEngineLoad    = "engine_load"
	ClassTranscription = "transcription"
	ClassIO            = "io"
)

// Event is a notification from the recording pipeline to the subscriber.
// Result events carry the recognized Text and a per-session Sequence;
// error events carry a failure Class and the human-readable Message.
type Event struct {
	Kind      Kind
	SessionID string
	Message   string
	Text      string
	Sequence  int
	Class     string
	State     string
	Timestamp time.Time
}

func Status(sessionID, message string) Event {
	return Event{Kind: KindStatus, SessionID: sessionID, Message: message, Timestamp: time.Now().UTC()}
}

func Error(sessionID, class, message string) Event {
	return Event{Kind: KindError, SessionID: sessionID, Class: class, Message: message, Timestamp: time.Now().UTC()}
}

func Result(sessionID string, sequence int, text string) Event {
	return Event{Kind: KindResult, SessionID: sessionID, Sequence: sequence, Text: text, Timestamp: time.Now().UTC()}
}

func StateChange(sessionID, state string) Event {
	return Event{Kind: KindState, SessionID: sessionID, State: state, Timestamp: time.Now().UTC()}
}
