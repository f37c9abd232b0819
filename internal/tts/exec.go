package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execSpeaker struct {
	cmd   []string
	voice string
	mu    sync.Mutex
}

// NewExecSpeaker wraps an external synthesis command. The text to speak is
// written to the command's stdin.
func NewExecSpeaker(command, voice string) (Speaker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command is empty")
	}
	return &execSpeaker{cmd: args, voice: voice}, nil
}

func (e *execSpeaker) Speak(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := append([]string{}, e.cmd[1:]...)
	if e.voice != "" {
		args = append(args, "--voice", e.voice)
	}
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	command.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}
	return nil
}

func (e *execSpeaker) Close() error { return nil }
