package runner

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Handle is a command started by Runner.Start that is still owned by
// the caller. The process may exit on its own at any time; Exited
// reports that without blocking.
type Handle struct {
	argv    []string
	cmd     *exec.Cmd
	capture *captureWriter
	runner  *Runner

	done    chan struct{}
	mu      sync.Mutex
	result  *Result
	waitErr error
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	res, ferr := h.runner.finish(h.argv, h.capture, h.cmd.ProcessState, err)
	h.mu.Lock()
	h.result, h.waitErr = res, ferr
	h.mu.Unlock()
	close(h.done)
}

// PID returns the operating system process id of the spawned command.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// String returns the command line the handle was started with.
func (h *Handle) String() string {
	return strings.Join(h.argv, " ")
}

// Exited reports whether the process has already exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits and returns its result.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.waitErr
}

// Terminate kills the process and its process group, then waits for it
// to be reaped. Terminating an already exited handle is a no-op.
func (h *Handle) Terminate() error {
	if h.Exited() {
		return nil
	}
	if err := killProcessGroup(h.cmd); err != nil {
		return fmt.Errorf("terminating %s: %w", h.argv[0], err)
	}
	<-h.done
	return nil
}
