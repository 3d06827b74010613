// Package build drives the external cargo toolchain that produces the
// worker binary and the APK. The toolchain is opaque: only exit codes
// and a single well-known output marker are interpreted.
package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/deixis/droidship/internal/runner"
)

// Profile is a cargo build profile.
type Profile string

const (
	Debug   Profile = "debug"
	Release Profile = "release"
)

// ProfileFor returns Release when release is set, Debug otherwise.
func ProfileFor(release bool) Profile {
	if release {
		return Release
	}
	return Debug
}

// KeystoreMarker appears in cargo-apk output when a release build has
// no signing configuration.
const KeystoreMarker = "Configure a release keystore"

// CommandRunner executes commands. Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, cwd string) (*runner.Result, error)
}

// Error is a failed toolchain invocation. ExitCode is the toolchain's.
type Error struct {
	What     string
	Argv     []string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to build %s: %v", e.What, e.Err)
	}
	return fmt.Sprintf("failed to build %s: `%s` exited with status %d",
		e.What, strings.Join(e.Argv, " "), e.ExitCode)
}

func (e *Error) Unwrap() error { return e.Err }

// Builder runs cargo within a workspace.
type Builder struct {
	Runner      CommandRunner
	Workspace   string // cargo workspace root
	Target      string // rust target triple
	WorkerCrate string
	APKCrate    string // crate directory holding the Android manifest
	Logger      *slog.Logger
}

// WorkerArgv returns the cargo-ndk command building the worker.
func (b *Builder) WorkerArgv(p Profile) []string {
	argv := []string{"cargo", "ndk", "--target", b.Target, "build", "-p", b.WorkerCrate, "-v"}
	if p == Release {
		argv = append(argv, "--release")
	}
	return argv
}

// APKArgv returns the cargo-apk command building the APK.
func (b *Builder) APKArgv(p Profile) []string {
	argv := []string{"cargo", "apk", "build", "--target", b.Target}
	if p == Release {
		argv = append(argv, "--release")
	}
	return append(argv, "--lib")
}

// Worker builds the privileged worker binary and returns its host path.
func (b *Builder) Worker(ctx context.Context, p Profile) (string, error) {
	argv := b.WorkerArgv(p)
	b.logger().Info("building worker", "crate", b.WorkerCrate, "profile", p)
	if err := b.run(ctx, "Android privileged worker binary", argv, b.Workspace); err != nil {
		return "", err
	}
	return b.WorkerPath(p), nil
}

// WorkerPath is where cargo-ndk leaves the worker binary.
func (b *Builder) WorkerPath(p Profile) string {
	return filepath.Join(b.Workspace, "target", b.Target, string(p), b.WorkerCrate)
}

// APK builds the APK. When release is preferred but signing is not
// configured, it falls back to a debug build; any other release failure
// is fatal. It returns the profile actually built.
func (b *Builder) APK(ctx context.Context, preferRelease bool) (Profile, error) {
	dir := filepath.Join(b.Workspace, b.APKCrate)

	if preferRelease {
		argv := b.APKArgv(Release)
		b.logger().Info("building APK", "crate", b.APKCrate, "profile", Release)
		res, err := b.Runner.Run(ctx, argv, dir)
		if err != nil {
			return "", &Error{What: "release APK", Argv: argv, Err: err}
		}
		if res.OK() {
			return Release, nil
		}
		if !strings.Contains(res.Text(), KeystoreMarker) {
			return "", &Error{
				What:     "release APK (for a reason other than signing configuration)",
				Argv:     argv,
				ExitCode: res.ExitCode,
			}
		}
		b.logger().Warn("release signing is not configured, falling back to debug APK build")
	}

	b.logger().Info("building APK", "crate", b.APKCrate, "profile", Debug)
	if err := b.run(ctx, "debug APK", b.APKArgv(Debug), dir); err != nil {
		return "", err
	}
	return Debug, nil
}

// APKCandidates lists where cargo-apk may leave the APK for profile p,
// in preference order. The target-qualified directory is used when
// building with --target; older cargo-apk versions omit it.
func (b *Builder) APKCandidates(p Profile) []string {
	name := b.APKCrate + ".apk"
	return []string{
		filepath.Join(b.Workspace, "target", b.Target, string(p), "apk", name),
		filepath.Join(b.Workspace, "target", string(p), "apk", name),
	}
}

func (b *Builder) run(ctx context.Context, what string, argv []string, dir string) error {
	res, err := b.Runner.Run(ctx, argv, dir)
	if err != nil {
		return &Error{What: what, Argv: argv, Err: err}
	}
	if !res.OK() {
		return &Error{What: what, Argv: argv, ExitCode: res.ExitCode}
	}
	return nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
