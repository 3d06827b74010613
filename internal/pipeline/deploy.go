package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/build"
	"github.com/deixis/droidship/internal/report"
)

// DeployOptions selects what a deploy run does.
type DeployOptions struct {
	Release      bool   // prefer a release APK; falls back to debug without a keystore
	CompileCheck bool   // stop after building
	SkipWorker   bool   // do not deploy, launch or verify the privileged worker
	LogSeconds   *int   // diagnostics wait; nil uses the configured default
	LogFile      string // where to save the filtered launch logcat
}

// Deploy runs the full pipeline: preflight, build, install, launch,
// diagnostics and handshake verification. Stages run strictly in order
// and the first hard failure ends the run. The returned RunResult is
// always non-nil and records every stage reached; callers persist it.
func (e *Engine) Deploy(ctx context.Context, opts DeployOptions) (*report.RunResult, error) {
	t := e.newRun(report.Deploy)
	return t.finish(e.deploy(ctx, t, opts))
}

func (e *Engine) deploy(ctx context.Context, t *tracker, opts DeployOptions) error {
	rr := t.rr
	bridge := e.Bridge()

	err := t.stage(ctx, StagePreflight, KindEnvironment, func() (string, error) {
		rep, err := e.validator(bridge).Validate(ctx, !opts.CompileCheck)
		rr.Preflight = rep
		if err != nil {
			return "", err
		}
		e.pin(bridge, rr, rep.Serial)
		return fmt.Sprintf("%d checks passed", len(rep.Checks)), nil
	})
	if err != nil {
		return err
	}

	b := e.builder()
	profile := build.ProfileFor(opts.Release)
	var workerHost string
	err = t.stage(ctx, StageBuildWorker, KindBuild, func() (string, error) {
		path, err := b.Worker(ctx, profile)
		workerHost = path
		return path, err
	})
	if err != nil {
		return err
	}
	var apkProfile build.Profile
	err = t.stage(ctx, StageBuildAPK, KindBuild, func() (string, error) {
		p, err := b.APK(ctx, opts.Release)
		apkProfile = p
		return string(p), err
	})
	if err != nil {
		return err
	}
	rr.Profile = string(apkProfile)

	if opts.CompileCheck {
		e.logger().Info("compile check complete", "run_id", rr.ID)
		return nil
	}

	var unlock func()
	err = t.stage(ctx, StageLock, KindDevice, func() (string, error) {
		path, release, err := e.lockDevice(bridge.Serial)
		unlock = release
		return path, err
	})
	if err != nil {
		return err
	}
	defer unlock()

	inst := e.installer(bridge)
	err = t.stage(ctx, StageInstall, KindArtifact, func() (string, error) {
		apk, err := inst.InstallAPK(ctx, b.APKCandidates(apkProfile))
		rr.APK = apk
		if err != nil {
			return "", err
		}
		component, err := inst.VerifyIdentity(ctx, e.Config.Package(), e.Config.Activity())
		if err != nil {
			return "", err
		}
		return apk + " (" + component + ")", nil
	})
	if err != nil {
		return err
	}

	if opts.SkipWorker {
		t.skip(StageWorker, "--skip-worker")
	} else {
		err = t.stage(ctx, StageWorker, KindElevation, func() (string, error) {
			dep, err := inst.DeployWorker(ctx, workerHost, e.Config.WorkerDevicePath())
			rr.Worker = dep
			if err != nil {
				return "", err
			}
			return "chmod via " + dep.ChmodVia + ", verified via " + dep.VerifyVia, nil
		})
		if err != nil {
			return err
		}
	}

	pkg := e.Config.Package()
	collector := e.collector(bridge, pkg)
	_ = t.stage(ctx, StagePrepare, KindDevice, func() (string, error) {
		collector.Prepare(ctx)
		return "force-stopped " + pkg + ", cleared logcat", nil
	})

	if opts.SkipWorker {
		t.skip(StageLaunch, "--skip-worker")
	} else {
		err = t.stage(ctx, StageLaunch, KindElevation, func() (string, error) {
			out, err := e.launcher(bridge).Launch(ctx)
			rr.Launch = out
			if err != nil {
				return "", err
			}
			return "running via " + out.ElevationUsed, nil
		})
		if err != nil {
			// Diagnostics are still collected to aid debugging.
			e.diagnose(ctx, t, bridge, pkg, opts.LogSeconds, opts.LogFile)
			return err
		}
	}

	err = t.stage(ctx, StageActivity, KindDevice, func() (string, error) {
		component, err := e.activity(bridge).Launch(ctx, pkg, e.Config.Activity())
		rr.Component = component
		return component, err
	})
	if err != nil {
		return err
	}

	e.diagnose(ctx, t, bridge, pkg, opts.LogSeconds, opts.LogFile)

	if opts.SkipWorker {
		t.skip(StageHandshake, "--skip-worker")
		return nil
	}
	return t.stage(ctx, StageHandshake, KindLiveness, func() (string, error) {
		res, err := e.handshake(bridge).Verify(ctx)
		rr.Handshake = res
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("worker detected via %s after %d polls", res.DetectedVia, res.Attempts), nil
	})
}

// diagnose runs the diagnostics stage. It never fails the run.
func (e *Engine) diagnose(ctx context.Context, t *tracker, bridge *adb.Bridge, pkg string, seconds *int, logFile string) {
	_ = t.stage(ctx, StageDiagnostics, KindDevice, func() (string, error) {
		rep := e.collector(bridge, pkg).Collect(ctx, e.logWait(seconds), logFile)
		t.rr.Diagnostics = rep
		return strings.Join(rep.Breadcrumbs.Summary(), "; "), nil
	})
}

// pin scopes the bridge to the device the preflight check selected.
func (e *Engine) pin(bridge *adb.Bridge, rr *report.RunResult, serial string) {
	if serial == "" {
		return
	}
	bridge.Serial = serial
	rr.Serial = serial
}
