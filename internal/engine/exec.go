package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// execEngine shells out to an external recognizer for each chunk. The core
// hands chunks as in-memory PCM; because the recognizer wants a file, the
// chunk is staged to a temporary WAV for the duration of the call.
type execEngine struct {
	cmd     []string
	cfg     config.EngineConfig
	capture config.CaptureConfig
	mu      sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

func NewExec(cfg config.EngineConfig, capture config.CaptureConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg, capture: capture}, nil
}

// Load verifies the recognizer binary and model are reachable. The external
// process keeps the model resident, so a failed lookup here is the earliest
// point a missing model can surface.
func (e *execEngine) Load(_ context.Context) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("engine command not found: %w", err)
	}
	if e.cfg.ModelPath != "" {
		if _, err := os.Stat(e.cfg.ModelPath); err != nil {
			return fmt.Errorf("engine model %q: %w", e.cfg.ModelPath, err)
		}
	}
	return nil
}

func (e *execEngine) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "dictate_chunk_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, e.capture.SampleRate, e.capture.Channels); err != nil {
		return "", err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	args = append(args, "--model", e.cfg.Model)
	if e.cfg.ModelPath != "" {
		args = append(args, "--model-path", e.cfg.ModelPath)
	}
	if e.cfg.Language != "" {
		args = append(args, "--language", e.cfg.Language)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode engine response: %w", err)
	}
	return resp.Text, nil
}

func (e *execEngine) Close() error { return nil }
