package protocol

import "time"

// Transcript is one recognized chunk broadcast on the bus.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is an informational or error message from the pipeline.
type Status struct {
	SessionID string    `json:"session_id"`
	Level     string    `json:"level"` // info, error
	Class     string    `json:"class,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscript = "dictate.transcript"
	SubjectStatus     = "dictate.status"
)
