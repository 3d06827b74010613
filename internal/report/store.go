// Package report persists the outcome of droidship runs so they can be
// inspected after the fact.
package report

import (
	"fmt"
	"time"

	"github.com/deixis/droidship/internal/diagnostics"
	"github.com/deixis/droidship/internal/install"
	"github.com/deixis/droidship/internal/launch"
	"github.com/deixis/droidship/internal/liveness"
	"github.com/deixis/droidship/internal/preflight"
)

// Kind identifies the type of a run.
type Kind string

const (
	// Deploy is a full build, install, launch and verify run.
	Deploy Kind = "deploy"
	// Preflight is a host and device check run.
	Preflight Kind = "preflight"
	// Diagnose is a launch-and-observe run against an installed app.
	Diagnose Kind = "diagnose"
)

// Stage statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
	// List returns up to limit summaries, most recent first.
	List(limit int) ([]Summary, error)
}

// RunResult holds the structured outcome of a run.
type RunResult struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"kind"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Serial   string        `json:"serial,omitempty"`
	Profile  string        `json:"profile,omitempty"` // APK build profile
	Stages   []StageResult `json:"stages"`

	Succeeded bool   `json:"succeeded"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	ExitCode  int    `json:"exit_code"`

	Preflight   *preflight.Report         `json:"preflight,omitempty"`
	APK         string                    `json:"apk,omitempty"`
	Component   string                    `json:"component,omitempty"` // launched activity
	Worker      *install.WorkerDeployment `json:"worker,omitempty"`
	Launch      *launch.Outcome           `json:"launch,omitempty"`
	Handshake   *liveness.Result          `json:"handshake,omitempty"`
	Diagnostics *diagnostics.Report       `json:"diagnostics,omitempty"`
}

// StageResult records one pipeline stage.
type StageResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary is the listing form of a RunResult.
type Summary struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Started   time.Time `json:"started"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
}

// Summarize returns the listing form of r.
func (r *RunResult) Summarize() Summary {
	return Summary{ID: r.ID, Kind: r.Kind, Started: r.Started, Succeeded: r.Succeeded, Error: r.Error}
}

// Expect returns an error if the run's Kind does not match want.
func (r *RunResult) Expect(want Kind) error {
	if r.Kind != want {
		return fmt.Errorf("run %s is a %s run, not a %s run", r.ID, r.Kind, want)
	}
	return nil
}

// Stage returns the named stage.
func (r *RunResult) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// FailedStage returns the first failed stage.
func (r *RunResult) FailedStage() (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StageResult{}, false
}

// ElevationUsed maps each privileged action of the run to the su form
// that carried it out.
func (r *RunResult) ElevationUsed() map[string]string {
	out := make(map[string]string)
	if r.Worker != nil {
		out["chmod"] = r.Worker.ChmodVia
		out["verify"] = r.Worker.VerifyVia
	}
	if r.Launch != nil && r.Launch.ElevationUsed != "" {
		out["launch"] = r.Launch.ElevationUsed
	}
	if r.Handshake != nil && r.Handshake.DetectedVia != "" {
		out["handshake"] = r.Handshake.DetectedVia
	}
	return out
}
