// Package launch starts the privileged worker and the app on the device
// and confirms that they came up.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/elevation"
	"github.com/deixis/droidship/internal/liveness"
)

// State is the launcher's position in its lifecycle.
type State int

const (
	NotStarted State = iota
	Starting
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Outcome is the result of a launch.
type Outcome struct {
	Succeeded     bool             `json:"succeeded"`
	ElevationUsed string           `json:"elevation_used,omitempty"`
	Replaced      []int            `json:"replaced,omitempty"` // pids of stale instances killed first
	Poll          *liveness.Result `json:"poll,omitempty"`

	// Process is the handle of the shell that started the worker. The
	// worker runs on independently; the handle is terminated once the
	// launch is confirmed.
	Process adb.Process `json:"-"`
}

// Launcher starts the worker under each elevation form in turn until
// the liveness poller confirms it is running.
type Launcher struct {
	Bridge    *adb.Bridge
	Elevation *elevation.Selector
	Poller    *liveness.Poller

	Binary     string        // process name, as pidof sees it
	DevicePath string        // executable on the device
	Args       []string      // worker arguments
	Timeout    time.Duration // liveness window per elevation form
	Restart    bool          // kill running instances before launching
	Logger     *slog.Logger

	state State
}

// State returns the current lifecycle state.
func (l *Launcher) State() State { return l.state }

func (l *Launcher) transition(to State, attrs ...any) {
	l.logger().Debug("launcher state", append([]any{"from", l.state.String(), "to", to.String()}, attrs...)...)
	l.state = to
}

// Command returns the remote command line that runs the worker.
func (l *Launcher) Command() string {
	return strings.Join(append([]string{l.DevicePath}, l.Args...), " ")
}

// Launch starts the worker. Each elevation form gets its own liveness
// window; the launch fails only once every form has failed.
func (l *Launcher) Launch(ctx context.Context) (*Outcome, error) {
	if l.state != NotStarted {
		return nil, fmt.Errorf("launcher already used (state %s)", l.state)
	}
	out := &Outcome{}

	if l.Restart {
		pids, err := l.stopExisting(ctx)
		if err != nil {
			l.transition(Failed)
			return out, err
		}
		out.Replaced = pids
	}

	catalog := l.Elevation.Catalog
	if len(catalog) == 0 {
		catalog = elevation.DefaultCatalog
	}
	reasons := make([]string, 0, len(catalog))
	for _, attempt := range catalog {
		if err := ctx.Err(); err != nil {
			l.transition(Failed)
			return out, err
		}
		l.transition(Starting, "via", attempt.Label)

		proc, poll, err := l.try(ctx, attempt)
		if err == nil {
			l.transition(Confirmed, "via", attempt.Label)
			out.Succeeded = true
			out.ElevationUsed = attempt.Label
			out.Poll = poll
			out.Process = proc
			if terr := proc.Terminate(); terr != nil {
				l.logger().Warn("terminating launch shell", "error", terr)
			}
			return out, nil
		}
		if !isLaunchFailure(err) {
			l.transition(Failed)
			return out, err
		}
		l.logger().Info("worker launch attempt failed", "via", attempt.Label, "reason", err)
		reasons = append(reasons, err.Error())
	}

	l.transition(Failed)
	return out, &elevation.ExhaustedError{
		Action:  "launch privileged worker",
		Tried:   elevation.Labels(catalog),
		Reasons: reasons,
	}
}

// try spawns the worker under one form and polls until it is seen.
// On failure the spawned shell is terminated before returning.
func (l *Launcher) try(ctx context.Context, attempt elevation.Attempt) (adb.Process, *liveness.Result, error) {
	proc, err := l.Bridge.SpawnShell(ctx, attempt.Wrap(l.Command())...)
	if err != nil {
		return nil, nil, fmt.Errorf("spawning worker via %s: %w", attempt.Label, err)
	}

	poll, err := l.Poller.Poll(ctx, liveness.Request{
		What:    l.Binary,
		Timeout: l.Timeout,
		Probe:   l.probe,
		Exited:  proc.Exited,
	})
	if err != nil {
		if terr := proc.Terminate(); terr != nil {
			l.logger().Warn("terminating launch shell", "error", terr)
		}
		return nil, nil, err
	}
	return proc, poll, nil
}

// probe looks for the worker in the process table as root; the worker
// runs as root so an unprivileged pidof may not see it.
func (l *Launcher) probe(ctx context.Context) (bool, string, error) {
	out, ok, err := l.Elevation.Probe(ctx, "detect "+l.Binary, "pidof "+l.Binary, hasPID)
	if err != nil || !ok {
		return false, "", err
	}
	return true, out.Label, nil
}

// stopExisting kills running instances of the worker so that a stale
// process cannot pass for the new one.
func (l *Launcher) stopExisting(ctx context.Context) ([]int, error) {
	out, ok, err := l.Elevation.Probe(ctx, "find running "+l.Binary, "pidof "+l.Binary, hasPID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	pids := adb.ParsePIDs(out.Result.Text())
	args := make([]string, len(pids))
	for i, p := range pids {
		args[i] = strconv.Itoa(p)
	}
	l.logger().Info("stopping running worker", "pids", pids)
	if _, err := l.Elevation.Run(ctx, "stop running "+l.Binary, "kill -9 "+strings.Join(args, " ")); err != nil {
		return nil, err
	}
	return pids, nil
}

func isLaunchFailure(err error) bool {
	var timeout *liveness.TimeoutError
	var exited *liveness.LauncherExitedError
	return errors.As(err, &timeout) || errors.As(err, &exited)
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
