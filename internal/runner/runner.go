// Package runner executes external commands with workspace bounds,
// timeouts, output size limits and live output streaming.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Runner executes commands within a workspace boundary. Combined
// stdout and stderr are streamed to Output as they arrive and also
// captured for the caller.
type Runner struct {
	Workspace string
	Timeout   time.Duration
	MaxOutput int       // bytes
	Output    io.Writer // live observer; nil discards
	Logger    *slog.Logger
}

// Run executes a command with the given argv and blocks until it exits.
// The first element is the binary name (resolved via PATH), and the rest
// are arguments. cwd is resolved relative to the workspace root and must
// remain within it. A non-zero exit is reported through Result.ExitCode,
// not as an error; errors are reserved for commands that could not run.
func (r *Runner) Run(ctx context.Context, argv []string, cwd string) (*Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd, capture, err := r.prepare(ctx, argv, cwd)
	if err != nil {
		return nil, err
	}
	setProcessGroup(cmd)

	runErr := cmd.Run()
	return r.finish(argv, capture, cmd.ProcessState, runErr)
}

// Start spawns a command without waiting for it to exit. The returned
// Handle owns the process until Terminate or Wait is called.
func (r *Runner) Start(ctx context.Context, argv []string, cwd string) (*Handle, error) {
	cmd, capture, err := r.prepare(ctx, argv, cwd)
	if err != nil {
		return nil, err
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	h := &Handle{
		argv:    argv,
		cmd:     cmd,
		capture: capture,
		done:    make(chan struct{}),
		runner:  r,
	}
	go h.wait()
	return h, nil
}

func (r *Runner) prepare(ctx context.Context, argv []string, cwd string) (*exec.Cmd, *captureWriter, error) {
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("empty argv")
	}

	dir, err := r.resolveDir(cwd)
	if err != nil {
		return nil, nil, err
	}

	r.logger().Debug("exec", "argv", strings.Join(argv, " "), "dir", dir)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	// adb may fork its server daemon holding our pipes open.
	cmd.WaitDelay = time.Second

	capture := &captureWriter{limit: r.maxOutput()}
	var w io.Writer = capture
	if r.Output != nil {
		w = io.MultiWriter(capture, r.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	return cmd, capture, nil
}

func (r *Runner) finish(argv []string, capture *captureWriter, state *os.ProcessState, runErr error) (*Result, error) {
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrWaitDelay):
			// The process exited; a forked child kept the pipes open.
			if state != nil {
				exitCode = state.ExitCode()
			}
			r.logger().Debug("output pipes held open after exit", "argv", strings.Join(argv, " "))
		default:
			// Binary not found or other exec error.
			return nil, fmt.Errorf("executing %s: %w", argv[0], runErr)
		}
	}

	return &Result{
		RunID:     uuid.New().String(),
		ExitCode:  exitCode,
		Output:    capture.Bytes(),
		Truncated: capture.truncated,
	}, nil
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return 1 << 20
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// resolveDir resolves cwd relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if cwd == "" {
		return r.Workspace, nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}

// captureWriter keeps up to limit bytes, then silently discards the rest.
// Writes are serialised by exec.Cmd when stdout and stderr share a writer.
type captureWriter struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *captureWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *captureWriter) Bytes() []byte {
	return bytes.Clone(w.buf.Bytes())
}
