package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/build"
	"github.com/deixis/droidship/internal/elevation"
	"github.com/deixis/droidship/internal/install"
	"github.com/deixis/droidship/internal/launch"
	"github.com/deixis/droidship/internal/liveness"
	"github.com/deixis/droidship/internal/preflight"
)

// Kind classifies a stage failure.
type Kind string

const (
	KindEnvironment Kind = "environment"
	KindBuild       Kind = "build"
	KindElevation   Kind = "elevation"
	KindArtifact    Kind = "artifact"
	KindLiveness    Kind = "liveness"
	KindDevice      Kind = "device"
	KindInterrupted Kind = "interrupted"
)

// Exit codes per failure kind. Build failures propagate the
// toolchain's own exit code and use ExitBuild only when it has none.
const (
	ExitFailure     = 1
	ExitEnvironment = 2
	ExitBuild       = 3
	ExitDevice      = 4
	ExitArtifact    = 5
	ExitElevation   = 6
	ExitLiveness    = 7
	ExitInterrupted = 130
)

// StageError is the failure of one pipeline stage.
type StageError struct {
	Stage string
	Kind  Kind
	Code  int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit status: 0 for nil, the failing
// stage's code for a *StageError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StageError
	if errors.As(err, &se) && se.Code != 0 {
		return se.Code
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	return ExitFailure
}

// stageError wraps err for stage. The kind is taken from the error's
// type where it is known and from fallback otherwise.
func stageError(stage string, fallback Kind, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	kind := classify(err, fallback)
	return &StageError{Stage: stage, Kind: kind, Code: codeFor(kind, err), Err: err}
}

func classify(err error, fallback Kind) Kind {
	var (
		pre      *preflight.Error
		buildErr *build.Error
		exhaust  *elevation.ExhaustedError
		missing  *install.ArtifactNotFoundError
		mismatch *install.IdentityMismatchError
		timeout  *liveness.TimeoutError
		exited   *liveness.LauncherExitedError
		multi    *adb.MultipleDevicesError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return KindInterrupted
	case errors.As(err, &pre):
		if pre.Check == preflight.CheckDevice {
			return KindDevice
		}
		return KindEnvironment
	case errors.As(err, &buildErr):
		return KindBuild
	case errors.As(err, &exhaust):
		return KindElevation
	case errors.As(err, &missing), errors.As(err, &mismatch), errors.Is(err, launch.ErrNoLauncher):
		return KindArtifact
	case errors.As(err, &timeout), errors.As(err, &exited):
		return KindLiveness
	case errors.As(err, &multi), errors.Is(err, adb.ErrNoDevice), errors.Is(err, ErrDeviceBusy):
		return KindDevice
	}
	return fallback
}

func codeFor(kind Kind, err error) int {
	switch kind {
	case KindEnvironment:
		return ExitEnvironment
	case KindBuild:
		var be *build.Error
		if errors.As(err, &be) && be.ExitCode > 0 {
			return be.ExitCode
		}
		return ExitBuild
	case KindDevice:
		return ExitDevice
	case KindArtifact:
		return ExitArtifact
	case KindElevation:
		return ExitElevation
	case KindLiveness:
		return ExitLiveness
	case KindInterrupted:
		return ExitInterrupted
	}
	return ExitFailure
}
