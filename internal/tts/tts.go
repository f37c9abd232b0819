package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Speaker plays back text as speech. A Speaker is an explicitly owned handle:
// callers create one per utterance, speak, and close it. No process-global
// synthesis state.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Close() error
}

// NewSpeaker builds a Speaker for one use according to config.
func NewSpeaker(cfg config.TTSConfig) (Speaker, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSpeaker(), nil
	case "exec":
		return NewExecSpeaker(cfg.Command, cfg.Voice)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
