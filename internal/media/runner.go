// Package media drives ffmpeg subprocesses for everything audio/video in
// Argus: resolving a camera's audio into a PCM stream, grabbing single
// snapshot frames, and pushing agent speech to a camera's talk-back channel.
//
// ffmpeg command lines are assembled with u2takey/ffmpeg-go; the subprocess
// itself is managed here so a stream Close always kills its process.
package media

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Runner starts an ffmpeg process. It exists as an interface so the resolver
// and grabber can be tested without an ffmpeg binary.
type Runner interface {
	// Start launches ffmpeg with args. stdin may be nil. The returned stop
	// function kills the process and reaps it; it is safe to call more than
	// once. stdout is the process's standard output.
	Start(ctx context.Context, args []string, stdin io.Reader) (stdout io.ReadCloser, stop func(), err error)
}

// ExecRunner runs the real ffmpeg binary.
type ExecRunner struct {
	// Binary is the ffmpeg executable. Defaults to "ffmpeg".
	Binary string
}

var _ Runner = (*ExecRunner)(nil)

// Start implements Runner.
func (r *ExecRunner) Start(ctx context.Context, args []string, stdin io.Reader) (io.ReadCloser, func(), error) {
	bin := r.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("media: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("media: start %s: %w", bin, err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		})
	}
	return stdout, stop, nil
}
