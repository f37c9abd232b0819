package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

type mockEngine struct {
	loaded atomic.Bool
	calls  atomic.Int64
}

// NewMock returns a deterministic engine for development and tests.
func NewMock() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Load(_ context.Context) error {
	m.loaded.Store(true)
	return nil
}

func (m *mockEngine) Transcribe(_ context.Context, pcm []byte) (string, error) {
	if !m.loaded.Load() {
		return "", errors.New("mock engine not loaded")
	}
	n := m.calls.Add(1)
	return fmt.Sprintf("[chunk %d: %d bytes]", n, len(pcm)), nil
}

func (m *mockEngine) Close() error {
	m.loaded.Store(false)
	return nil
}
