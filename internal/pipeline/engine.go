// Package pipeline provides the execution engine for droidship's
// deploy, preflight and diagnose runs. It is consumed by both the MCP
// server and the CLI commands.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/build"
	"github.com/deixis/droidship/internal/clock"
	"github.com/deixis/droidship/internal/config"
	"github.com/deixis/droidship/internal/diagnostics"
	"github.com/deixis/droidship/internal/elevation"
	"github.com/deixis/droidship/internal/install"
	"github.com/deixis/droidship/internal/launch"
	"github.com/deixis/droidship/internal/liveness"
	"github.com/deixis/droidship/internal/preflight"
	"github.com/deixis/droidship/internal/report"
	"github.com/google/uuid"
)

// Stage names, in pipeline order.
const (
	StagePreflight   = "preflight"
	StageBuildWorker = "build-worker"
	StageBuildAPK    = "build-apk"
	StageLock        = "lock"
	StageInstall     = "install"
	StageWorker      = "deploy-worker"
	StagePrepare     = "prepare"
	StageLaunch      = "launch-worker"
	StageActivity    = "launch-activity"
	StageDiagnostics = "diagnostics"
	StageHandshake   = "handshake"
)

// Engine holds shared dependencies for all pipeline operations.
type Engine struct {
	Config    *config.Config
	Runner    adb.CommandRunner
	Workspace string // cargo workspace root; builds run from here
	Serial    string // overrides Config.Serial
	LockDir   string // where device lock files live; defaults to os.TempDir()

	Clock    clock.Clock
	LookPath func(file string) (string, error) // defaults to exec.LookPath
	Getenv   func(key string) string           // defaults to os.Getenv
	Logger   *slog.Logger
}

// Bridge returns a device bridge scoped to the configured serial.
func (e *Engine) Bridge() *adb.Bridge {
	serial := e.Serial
	if serial == "" {
		serial = e.Config.Serial
	}
	return &adb.Bridge{Runner: e.Runner, Path: e.Config.ADB, Serial: serial}
}

func (e *Engine) validator(b *adb.Bridge) *preflight.Validator {
	return &preflight.Validator{
		Runner:        e.Runner,
		Bridge:        b,
		Target:        e.Config.TargetTriple(),
		MinNDKVersion: e.Config.Preflight.MinNDKVersion,
		LookPath:      e.lookPath(),
		Getenv:        e.getenv(),
		Logger:        e.logger(),
	}
}

func (e *Engine) builder() *build.Builder {
	return &build.Builder{
		Runner:      e.Runner,
		Workspace:   e.Workspace,
		Target:      e.Config.TargetTriple(),
		WorkerCrate: e.Config.WorkerCrate(),
		APKCrate:    e.Config.APKCrate(),
		Logger:      e.logger(),
	}
}

func (e *Engine) selector(b *adb.Bridge) *elevation.Selector {
	return &elevation.Selector{Shell: b, Catalog: e.Config.ElevationCatalog(), Logger: e.logger()}
}

func (e *Engine) installer(b *adb.Bridge) *install.Installer {
	return &install.Installer{Bridge: b, Elevation: e.selector(b), Logger: e.logger()}
}

func (e *Engine) poller(interval time.Duration) *liveness.Poller {
	return &liveness.Poller{Clock: e.clock(), Interval: interval, Logger: e.logger()}
}

func (e *Engine) launcher(b *adb.Bridge) *launch.Launcher {
	return &launch.Launcher{
		Bridge:     b,
		Elevation:  e.selector(b),
		Poller:     e.poller(e.Config.PollInterval()),
		Binary:     e.Config.WorkerBinary(),
		DevicePath: e.Config.WorkerDevicePath(),
		Args:       e.Config.WorkerArgs(),
		Timeout:    e.Config.LivenessTimeout(),
		Restart:    true,
		Logger:     e.logger(),
	}
}

func (e *Engine) handshake(b *adb.Bridge) *launch.Handshake {
	return &launch.Handshake{
		Elevation: e.selector(b),
		Poller:    e.poller(e.Config.HandshakeInterval()),
		Binary:    e.Config.WorkerBinary(),
		Timeout:   e.Config.HandshakeTimeout(),
		Attempts:  e.Config.HandshakeAttempts(),
	}
}

func (e *Engine) activity(b *adb.Bridge) *launch.ActivityLauncher {
	return &launch.ActivityLauncher{Bridge: b, Logger: e.logger()}
}

func (e *Engine) collector(b *adb.Bridge, pkg string) *diagnostics.Collector {
	return &diagnostics.Collector{
		Bridge:        b,
		Clock:         e.clock(),
		Package:       pkg,
		BreadcrumbTag: e.Config.BreadcrumbTag(),
		Breadcrumbs:   e.Config.Breadcrumbs(),
		LogcatFilters: e.Config.LogcatFilters(),
		Logger:        e.logger(),
	}
}

// logWait resolves a per-run log wait override against the config.
func (e *Engine) logWait(seconds *int) time.Duration {
	n := e.Config.LogSeconds()
	if seconds != nil {
		n = *seconds
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}

func (e *Engine) clock() clock.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return clock.Real()
}

func (e *Engine) lookPath() func(string) (string, error) {
	if e.LookPath != nil {
		return e.LookPath
	}
	return exec.LookPath
}

func (e *Engine) getenv() func(string) string {
	if e.Getenv != nil {
		return e.Getenv
	}
	return os.Getenv
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tracker records stage results on a run as they happen.
type tracker struct {
	e  *Engine
	rr *report.RunResult
}

func (e *Engine) newRun(kind report.Kind) *tracker {
	return &tracker{
		e:  e,
		rr: &report.RunResult{ID: uuid.New().String(), Kind: kind, Started: e.clock().Now()},
	}
}

// stage runs fn as the named stage. A failure is returned as a
// *StageError whose kind defaults to fallback.
func (t *tracker) stage(ctx context.Context, name string, fallback Kind, fn func() (string, error)) error {
	log := t.e.logger().With("run_id", t.rr.ID, "stage", name)
	if err := ctx.Err(); err != nil {
		t.record(name, report.StatusFailed, err.Error(), 0)
		return stageError(name, KindInterrupted, err)
	}

	log.Info("stage started")
	start := t.e.clock().Now()
	detail, err := fn()
	elapsed := t.e.clock().Now().Sub(start)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			// A command killed by cancellation looks like any other failure.
			t.record(name, report.StatusFailed, cerr.Error(), elapsed)
			log.Warn("stage interrupted", "error", err, "elapsed", elapsed)
			return &StageError{Stage: name, Kind: KindInterrupted, Code: ExitInterrupted, Err: cerr}
		}
		t.record(name, report.StatusFailed, err.Error(), elapsed)
		log.Error("stage failed", "error", err, "elapsed", elapsed)
		return stageError(name, fallback, err)
	}
	t.record(name, report.StatusPassed, detail, elapsed)
	log.Info("stage finished", "elapsed", elapsed)
	return nil
}

func (t *tracker) skip(name, reason string) {
	t.e.logger().Debug("stage skipped", "run_id", t.rr.ID, "stage", name, "reason", reason)
	t.record(name, report.StatusSkipped, reason, 0)
}

func (t *tracker) record(name, status, detail string, d time.Duration) {
	t.rr.Stages = append(t.rr.Stages, report.StageResult{Name: name, Status: status, Detail: detail, Duration: d})
}

// finish stamps the outcome of the run and returns err unchanged.
func (t *tracker) finish(err error) (*report.RunResult, error) {
	rr := t.rr
	rr.Duration = t.e.clock().Now().Sub(rr.Started)
	rr.Succeeded = err == nil
	rr.ExitCode = ExitCode(err)
	if err != nil {
		rr.Error = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			rr.ErrorKind = string(se.Kind)
		}
	}
	t.e.logger().Info("run finished", "run_id", rr.ID, "kind", rr.Kind, "succeeded", rr.Succeeded, "elapsed", rr.Duration)
	return rr, err
}
