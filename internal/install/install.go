// Package install resolves built artifacts, installs them on the device
// and verifies what was installed.
package install

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/elevation"
)

// ArtifactNotFoundError lists every candidate path that was checked.
type ArtifactNotFoundError struct {
	What       string
	Candidates []string
}

func (e *ArtifactNotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "built %s not found in expected locations:", e.What)
	for _, c := range e.Candidates {
		fmt.Fprintf(&b, "\n  - %s", c)
	}
	return b.String()
}

// IdentityMismatchError is returned when the installed package's launcher
// entry point is not the expected component. Got is empty when no
// launcher activity resolved at all.
type IdentityMismatchError struct {
	Package  string
	Expected string
	Got      string
}

func (e *IdentityMismatchError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("could not resolve launchable activity for package %s (expected %s)", e.Package, e.Expected)
	}
	return fmt.Sprintf("launcher identity mismatch: expected %s, got %s", e.Expected, e.Got)
}

// ResolveArtifact returns the first candidate that exists as a regular
// file. Later candidates are not consulted once one matches.
func ResolveArtifact(what string, candidates []string) (string, error) {
	for _, c := range candidates {
		fi, err := os.Stat(c)
		if err == nil && fi.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", &ArtifactNotFoundError{What: what, Candidates: candidates}
}

// Installer pushes artifacts to the device through the bridge.
type Installer struct {
	Bridge    *adb.Bridge
	Elevation *elevation.Selector
	Logger    *slog.Logger
}

// InstallAPK resolves the APK among candidates and installs it,
// replacing any existing install. It returns the installed path.
func (i *Installer) InstallAPK(ctx context.Context, candidates []string) (string, error) {
	apk, err := ResolveArtifact("APK", candidates)
	if err != nil {
		return "", err
	}
	i.logger().Info("installing APK", "path", apk)
	res, err := i.Bridge.Install(ctx, apk)
	if err != nil {
		return apk, fmt.Errorf("installing APK: %w", err)
	}
	if !res.OK() {
		return apk, fmt.Errorf("failed to install APK via adb: exit status %d", res.ExitCode)
	}
	return apk, nil
}

// VerifyIdentity checks that the package's launcher entry point is the
// expected "<pkg>/<activity>" component, so a stale or foreign install
// cannot pass silently.
func (i *Installer) VerifyIdentity(ctx context.Context, pkg, activity string) (string, error) {
	expected := pkg + "/" + activity
	got, ok, err := i.Bridge.ResolveLauncher(ctx, pkg)
	if err != nil {
		return "", fmt.Errorf("resolving launcher activity: %w", err)
	}
	if !ok {
		return "", &IdentityMismatchError{Package: pkg, Expected: expected}
	}
	if got != expected {
		return got, &IdentityMismatchError{Package: pkg, Expected: expected, Got: got}
	}
	return got, nil
}

// WorkerDeployment records which elevation forms worked for each step.
type WorkerDeployment struct {
	HostPath   string `json:"host_path"`
	DevicePath string `json:"device_path"`
	ChmodVia   string `json:"chmod_via"`
	VerifyVia  string `json:"verify_via"`
}

// DeployWorker pushes the worker binary, marks it executable as root and
// checks that it starts (`<path> --help`) as root.
func (i *Installer) DeployWorker(ctx context.Context, hostPath, devicePath string) (*WorkerDeployment, error) {
	if _, err := ResolveArtifact("worker binary", []string{hostPath}); err != nil {
		return nil, err
	}

	i.logger().Info("pushing worker", "from", hostPath, "to", devicePath)
	res, err := i.Bridge.Push(ctx, hostPath, devicePath)
	if err != nil {
		return nil, fmt.Errorf("pushing worker: %w", err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("failed to push privileged worker to device: exit status %d", res.ExitCode)
	}

	chmod, err := i.Elevation.Run(ctx, "mark privileged worker as executable", "chmod +x "+devicePath)
	if err != nil {
		return nil, err
	}
	verify, err := i.Elevation.Run(ctx, "verify privileged worker launch", devicePath+" --help")
	if err != nil {
		return nil, err
	}
	return &WorkerDeployment{
		HostPath:   hostPath,
		DevicePath: devicePath,
		ChmodVia:   chmod.Label,
		VerifyVia:  verify.Label,
	}, nil
}

func (i *Installer) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
