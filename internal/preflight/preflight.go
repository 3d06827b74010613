// Package preflight validates the host toolchain, environment and
// device connectivity before any step with observable cost runs.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/runner"
)

// Check names, in the order they run.
const (
	CheckTools      = "tools"
	CheckRustTarget = "rust-target"
	CheckEnv        = "env"
	CheckNDKVersion = "ndk-version"
	CheckClang      = "clang"
	CheckHelpers    = "cargo-helpers"
	CheckDevice     = "device"
)

// Required environment variables.
const (
	EnvAndroidHome = "ANDROID_HOME"
	EnvNDKRoot     = "ANDROID_NDK_ROOT"
)

// Error is a failed preflight check. Problem says what is wrong and
// Remedy how to fix it.
type Error struct {
	Check   string
	Problem string
	Remedy  string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "preflight %s: %s", e.Check, e.Problem)
	if e.Remedy != "" {
		fmt.Fprintf(&b, "\nRemedy: %s", e.Remedy)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// CommandRunner executes host commands. Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, cwd string) (*runner.Result, error)
}

// CheckResult records one passed check.
type CheckResult struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// Report lists the checks that passed, in order. On failure it holds
// the checks that passed before the failing one.
type Report struct {
	Checks []CheckResult `json:"checks"`
	Clang  string        `json:"clang,omitempty"`  // discovered compiler driver
	Serial string        `json:"serial,omitempty"` // target device, when checked
}

func (r *Report) pass(name, detail string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Detail: detail})
}

// Validator runs the preflight checks. It reads the environment and
// filesystem but never mutates them, so repeated runs against an
// unchanged host give identical results.
type Validator struct {
	Runner        CommandRunner
	Bridge        *adb.Bridge // required when the device is checked
	Target        string      // rust target triple
	MinNDKVersion string      // optional minimum NDK Pkg.Revision

	LookPath func(file string) (string, error) // defaults to exec.LookPath
	Getenv   func(key string) string           // defaults to os.Getenv
	Logger   *slog.Logger
}

// Validate runs the host checks and, if checkDevice is set, the device
// check. It stops at the first failure and returns a *Error.
func (v *Validator) Validate(ctx context.Context, checkDevice bool) (*Report, error) {
	rep := &Report{}
	steps := []struct {
		name string
		fn   func(context.Context, *Report) error
	}{
		{CheckTools, v.checkTools},
		{CheckRustTarget, v.checkRustTarget},
		{CheckEnv, v.checkEnv},
		{CheckNDKVersion, v.checkNDKVersion},
		{CheckClang, v.checkClang},
		{CheckHelpers, v.checkHelpers},
	}
	if checkDevice {
		steps = append(steps, struct {
			name string
			fn   func(context.Context, *Report) error
		}{CheckDevice, v.checkDevice})
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := s.fn(ctx, rep); err != nil {
			v.logger().Debug("preflight check failed", "check", s.name, "error", err)
			return rep, err
		}
		v.logger().Debug("preflight check passed", "check", s.name)
	}
	return rep, nil
}

// ValidateDevice runs only the device check.
func (v *Validator) ValidateDevice(ctx context.Context) (*Report, error) {
	rep := &Report{}
	if err := v.checkDevice(ctx, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

var toolRemedies = map[string]string{
	"cargo":  "install the Rust toolchain from https://rustup.rs",
	"rustup": "install rustup from https://rustup.rs",
	"adb":    "install the Android SDK platform-tools and add them to PATH",
}

func (v *Validator) checkTools(_ context.Context, rep *Report) error {
	tools := []string{"cargo", "rustup", v.adbPath()}
	var missing []string
	for _, t := range tools {
		if _, err := v.lookPath(t); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		remedies := make([]string, 0, len(missing))
		for _, m := range missing {
			if r, ok := toolRemedies[m]; ok {
				remedies = append(remedies, m+": "+r)
			} else {
				remedies = append(remedies, m+": install it or fix the configured path")
			}
		}
		return &Error{
			Check:   CheckTools,
			Problem: "missing required command(s): " + strings.Join(missing, ", "),
			Remedy:  strings.Join(remedies, "; "),
		}
	}
	rep.pass(CheckTools, strings.Join(tools, ", "))
	return nil
}

func (v *Validator) checkRustTarget(ctx context.Context, rep *Report) error {
	res, err := v.Runner.Run(ctx, []string{"rustup", "target", "list", "--installed"}, "")
	if err != nil || !res.OK() {
		return &Error{
			Check:   CheckRustTarget,
			Problem: "failed to query installed Rust targets",
			Remedy:  "check that `rustup target list --installed` works",
			Err:     err,
		}
	}
	if !slices.Contains(strings.Fields(res.Text()), v.Target) {
		return &Error{
			Check:   CheckRustTarget,
			Problem: fmt.Sprintf("Rust target %q is not installed", v.Target),
			Remedy:  "run: rustup target add " + v.Target,
		}
	}
	rep.pass(CheckRustTarget, v.Target)
	return nil
}

func (v *Validator) checkEnv(_ context.Context, rep *Report) error {
	for _, key := range []string{EnvAndroidHome, EnvNDKRoot} {
		if v.getenv(key) == "" {
			return &Error{
				Check:   CheckEnv,
				Problem: key + " is not set",
				Remedy:  "export " + key + " to point at your Android " + sdkOrNDK(key) + " installation",
			}
		}
	}
	for _, key := range []string{EnvAndroidHome, EnvNDKRoot} {
		path := v.getenv(key)
		if _, err := os.Stat(path); err != nil {
			return &Error{
				Check:   CheckEnv,
				Problem: fmt.Sprintf("%s path does not exist: %s", key, path),
				Remedy:  "install the Android " + sdkOrNDK(key) + " or correct " + key,
				Err:     err,
			}
		}
	}
	rep.pass(CheckEnv, EnvAndroidHome+", "+EnvNDKRoot)
	return nil
}

func sdkOrNDK(key string) string {
	if key == EnvNDKRoot {
		return "NDK"
	}
	return "SDK"
}

func (v *Validator) checkNDKVersion(_ context.Context, rep *Report) error {
	if v.MinNDKVersion == "" {
		return nil
	}
	rev, err := CheckNDKRevision(v.getenv(EnvNDKRoot), v.MinNDKVersion)
	if err != nil {
		return err
	}
	rep.pass(CheckNDKVersion, rev)
	return nil
}

func (v *Validator) checkClang(_ context.Context, rep *Report) error {
	clang, err := FindClang(v.Target, v.getenv(EnvNDKRoot), v.lookPath)
	if err != nil {
		return &Error{
			Check: CheckClang,
			Problem: fmt.Sprintf("could not find Android clang toolchain in PATH or under %s "+
				"(expected %s*-clang in toolchains/llvm/prebuilt/*/bin)", EnvNDKRoot, v.Target),
			Remedy: "install an NDK with the LLVM toolchain via the SDK manager, or add its bin directory to PATH",
			Err:    err,
		}
	}
	rep.Clang = clang
	rep.pass(CheckClang, clang)
	return nil
}

func (v *Validator) checkHelpers(ctx context.Context, rep *Report) error {
	helpers := []struct {
		argv    []string
		install string
	}{
		{[]string{"cargo", "ndk", "--version"}, "cargo install cargo-ndk"},
		{[]string{"cargo", "apk", "--help"}, "cargo install cargo-apk"},
	}
	for _, h := range helpers {
		res, err := v.Runner.Run(ctx, h.argv, "")
		if err != nil || !res.OK() {
			return &Error{
				Check:   CheckHelpers,
				Problem: fmt.Sprintf("failed to run `%s`", strings.Join(h.argv, " ")),
				Remedy:  "install with: " + h.install,
				Err:     err,
			}
		}
	}
	rep.pass(CheckHelpers, "cargo-ndk, cargo-apk")
	return nil
}

func (v *Validator) checkDevice(ctx context.Context, rep *Report) error {
	serial, err := v.Bridge.EnsureSingleDevice(ctx)
	if err != nil {
		e := &Error{Check: CheckDevice, Problem: err.Error(), Err: err}
		var multi *adb.MultipleDevicesError
		switch {
		case errors.As(err, &multi):
			e.Remedy = "pass --serial <serial> or set serial in .droidship"
		case errors.Is(err, adb.ErrNoDevice):
			e.Remedy = "connect a device with USB debugging enabled and authorize this host, then check `adb devices`"
		default:
			e.Problem = "failed to query adb devices: " + err.Error()
			e.Remedy = "check that the adb server is running (`adb start-server`)"
		}
		return e
	}
	rep.Serial = serial
	rep.pass(CheckDevice, serial)
	return nil
}

func (v *Validator) adbPath() string {
	if v.Bridge != nil && v.Bridge.Path != "" {
		return v.Bridge.Path
	}
	return "adb"
}

func (v *Validator) lookPath(file string) (string, error) {
	if v.LookPath != nil {
		return v.LookPath(file)
	}
	return exec.LookPath(file)
}

func (v *Validator) getenv(key string) string {
	if v.Getenv != nil {
		return v.Getenv(key)
	}
	return os.Getenv(key)
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
