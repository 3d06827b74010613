package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/droidship/internal/launch"
	"github.com/deixis/droidship/internal/report"
)

// LegacyPackage is the package id used by older builds of the app.
const LegacyPackage = "rust.squalr_android"

// DiagnoseOptions selects what a diagnose run launches.
type DiagnoseOptions struct {
	Packages      []string // package ids to try in order; defaults to the configured package
	IncludeLegacy bool     // also try LegacyPackage
	LogSeconds    *int
	LogFile       string
}

// packages returns the candidate package ids without duplicates.
func (o DiagnoseOptions) packages(def string) []string {
	in := o.Packages
	if len(in) == 0 {
		in = []string{def}
	}
	if o.IncludeLegacy {
		in = append(in[:len(in):len(in)], LegacyPackage)
	}
	var out []string
	seen := make(map[string]bool)
	for _, p := range in {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Diagnose launches an already installed app and collects launch
// diagnostics, without building or installing anything. Candidate
// packages are tried in order; the first with a launchable activity is
// used.
func (e *Engine) Diagnose(ctx context.Context, opts DiagnoseOptions) (*report.RunResult, error) {
	t := e.newRun(report.Diagnose)
	return t.finish(e.diagnoseInstalled(ctx, t, opts))
}

func (e *Engine) diagnoseInstalled(ctx context.Context, t *tracker, opts DiagnoseOptions) error {
	rr := t.rr
	bridge := e.Bridge()

	err := t.stage(ctx, StagePreflight, KindDevice, func() (string, error) {
		rep, err := e.validator(bridge).ValidateDevice(ctx)
		rr.Preflight = rep
		if err != nil {
			return "", err
		}
		e.pin(bridge, rr, rep.Serial)
		return "device " + rep.Serial, nil
	})
	if err != nil {
		return err
	}

	candidates := opts.packages(e.Config.Package())
	var pkg string
	err = t.stage(ctx, StageActivity, KindArtifact, func() (string, error) {
		for _, candidate := range candidates {
			e.collector(bridge, candidate).Prepare(ctx)
			component, err := e.activity(bridge).Launch(ctx, candidate, e.Config.Activity())
			if errors.Is(err, launch.ErrNoLauncher) {
				e.logger().Info("no launchable activity", "run_id", rr.ID, "package", candidate)
				continue
			}
			if err != nil {
				return "", err
			}
			pkg = candidate
			rr.Component = component
			return component, nil
		}
		return "", fmt.Errorf("%w for package(s): %s; install the APK first",
			launch.ErrNoLauncher, strings.Join(candidates, ", "))
	})
	if err != nil {
		return err
	}

	e.diagnose(ctx, t, bridge, pkg, opts.LogSeconds, opts.LogFile)
	return nil
}
