package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Accumulator collects recognized chunk texts for the current session and
// mirrors the full accumulated transcript to a UTF-8 artifact on disk. Every
// append rewrites the whole file; the artifact is always the complete
// transcript so far, never a partial tail.
type Accumulator struct {
	mu    sync.Mutex
	parts []string
	path  string
}

func NewAccumulator(path string) *Accumulator {
	return &Accumulator{path: path}
}

// Append adds one chunk's text and rewrites the artifact.
func (a *Accumulator) Append(text string) error {
	a.mu.Lock()
	a.parts = append(a.parts, text)
	full := strings.Join(a.parts, " ")
	a.mu.Unlock()
	return a.write(full)
}

// Text returns the accumulated transcript.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.parts, " ")
}

// Reset clears the accumulator for a new session. The artifact keeps the
// previous session's transcript until the first new result overwrites it.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parts = nil
}

// WriteTo writes the current transcript to an arbitrary path.
func (a *Accumulator) WriteTo(path string) error {
	return writeFile(path, a.Text())
}

func (a *Accumulator) write(text string) error {
	return writeFile(a.path, text)
}

func writeFile(path, text string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create transcript dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
