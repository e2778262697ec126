package ffmpeg

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Output holds what a command wrote before it exited.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes an external command. It is the seam tests use to replace
// the real ffmpeg and ffprobe binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// ExecRunner runs commands with os/exec. The process is killed when ctx is
// done.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	return Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, err
}
