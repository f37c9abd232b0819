package engine

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Engine abstracts the speech-to-text backend. Load runs once, synchronously,
// before a session starts recording; transcription must never pay model load
// latency or early audio would be lost. Transcribe consumes one chunk of raw
// mono 16-bit little-endian PCM and returns the recognized text, possibly
// empty.
type Engine interface {
	Load(ctx context.Context) error
	Transcribe(ctx context.Context, pcm []byte) (string, error)
	Close() error
}

// New builds the configured engine. The capture config supplies the PCM
// format handed to Transcribe.
func New(cfg config.EngineConfig, capture config.CaptureConfig) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "exec":
		return NewExec(cfg, capture)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}
