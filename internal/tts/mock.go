package tts

import (
	"context"
	"sync"
)

type mockSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

// NewMockSpeaker records spoken text without producing audio.
func NewMockSpeaker() Speaker {
	return &mockSpeaker{}
}

func (m *mockSpeaker) Speak(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
	return nil
}

func (m *mockSpeaker) Close() error { return nil }
