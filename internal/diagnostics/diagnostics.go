// Package diagnostics gathers post-launch state from the device. It is
// advisory: missing data is reported, never turned into an error.
package diagnostics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/clock"
	"github.com/deixis/droidship/internal/runner"
)

// Report is what the collector found.
type Report struct {
	Package     string   `json:"package"`
	AppPIDs     []int    `json:"app_pids,omitempty"`
	DrawState   string   `json:"draw_state,omitempty"`    // last reportedDrawn= line
	SplashState string   `json:"splash_window,omitempty"` // last splash window line
	Breadcrumbs Trail    `json:"breadcrumbs"`
	LogFile     string   `json:"log_file,omitempty"`
	Problems    []string `json:"problems,omitempty"` // collection steps that failed
	Logcat      string   `json:"-"`
}

// AppRunning reports whether pidof found the app.
func (r *Report) AppRunning() bool { return len(r.AppPIDs) > 0 }

// Summary renders the report as human-readable lines.
func (r *Report) Summary() []string {
	var out []string
	if r.AppRunning() {
		out = append(out, fmt.Sprintf("App process running: %v", r.AppPIDs))
	} else {
		out = append(out, "App process not running.")
	}
	if r.DrawState != "" {
		out = append(out, "Activity draw state: "+r.DrawState)
	} else {
		out = append(out, "No reportedDrawn activity state line was found in dumpsys activity output.")
	}
	if r.SplashState != "" {
		out = append(out, "Splash window still present: "+r.SplashState)
	} else {
		out = append(out, "No splash window entry found in dumpsys window output.")
	}
	out = append(out, r.Breadcrumbs.Summary()...)
	if r.LogFile != "" {
		out = append(out, "Saved launch logcat to: "+r.LogFile)
	}
	for _, p := range r.Problems {
		out = append(out, "Diagnostics problem: "+p)
	}
	return out
}

// Collector reads app state, window state and filtered logcat output.
type Collector struct {
	Bridge        *adb.Bridge
	Clock         clock.Clock
	Package       string
	BreadcrumbTag string
	Breadcrumbs   []string // expected, in emission order
	LogcatFilters []string
	Logger        *slog.Logger
}

// Prepare stops the app and clears the log buffer so that collected
// output belongs to the next launch only. Failures are logged.
func (c *Collector) Prepare(ctx context.Context) {
	res, err := c.Bridge.ForceStop(ctx, c.Package)
	c.warnFailed("force-stop before launch failed", res, err, "package", c.Package)
	res, err = c.Bridge.ClearLogcat(ctx)
	c.warnFailed("clearing logcat failed", res, err)
}

// warnFailed logs a preparation command that could not run or exited
// non-zero.
func (c *Collector) warnFailed(msg string, res *runner.Result, err error, attrs ...any) {
	switch {
	case err != nil:
		c.logger().Warn(msg, append(attrs, "error", err)...)
	case !res.OK():
		c.logger().Warn(msg, append(attrs, "exit_code", res.ExitCode, "output", strings.TrimSpace(res.Text()))...)
	}
}

// Collect waits for the app to settle, then queries the device. If
// logFile is set the filtered logcat output is written there. Collect
// always returns a report; a cancelled ctx yields a partial one.
func (c *Collector) Collect(ctx context.Context, wait time.Duration, logFile string) *Report {
	r := &Report{Package: c.Package}

	if wait > 0 {
		c.logger().Info("collecting launch diagnostics", "wait", wait)
		select {
		case <-ctx.Done():
			r.Problems = append(r.Problems, "interrupted before collection: "+ctx.Err().Error())
			return r
		case <-c.clock().After(wait):
		}
	}

	if res, err := c.Bridge.Pidof(ctx, c.Package); err != nil {
		r.problem("pidof", err)
	} else if res.OK() {
		r.AppPIDs = adb.ParsePIDs(res.Text())
	}

	if res, err := c.Bridge.DumpActivities(ctx, c.Package); err != nil {
		r.problem("dumpsys activity", err)
	} else {
		r.DrawState = DrawState(res.Text(), c.Package)
	}

	if res, err := c.Bridge.DumpWindows(ctx); err != nil {
		r.problem("dumpsys window", err)
	} else {
		r.SplashState = SplashWindow(res.Text(), c.Package)
	}

	res, err := c.Bridge.DumpLogcat(ctx, c.LogcatFilters)
	if err != nil {
		r.problem("logcat", err)
		return r
	}
	r.Logcat = res.Text()
	r.Breadcrumbs = FollowBreadcrumbs(r.Logcat, c.BreadcrumbTag, c.Breadcrumbs)

	if logFile != "" {
		if err := saveLog(logFile, r.Logcat); err != nil {
			r.problem("saving logcat", err)
		} else {
			r.LogFile = logFile
		}
	}
	return r
}

func (r *Report) problem(step string, err error) {
	r.Problems = append(r.Problems, step+": "+err.Error())
}

func saveLog(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func (c *Collector) clock() clock.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clock.Real()
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
