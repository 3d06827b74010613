// Package adb builds device-bridge invocations and runs them through a
// command runner. It knows the argv shape of every adb call droidship
// makes; interpretation of the output lives in parse.go.
package adb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/droidship/internal/runner"
)

// CommandRunner executes commands. Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, cwd string) (*runner.Result, error)
	Start(ctx context.Context, argv []string, cwd string) (*runner.Handle, error)
}

// Process is a spawned, possibly still running, bridge command.
// Implemented by runner.Handle.
type Process interface {
	Exited() bool
	Terminate() error
}

// Bridge issues adb commands against a single device.
type Bridge struct {
	Runner CommandRunner
	Path   string // adb binary; defaults to "adb"
	Serial string // passed as -s when set
}

// ErrNoDevice is returned when no attached device is available.
var ErrNoDevice = errors.New("no connected adb device found")

// MultipleDevicesError is returned when more than one device is attached
// and no serial was configured to pick one.
type MultipleDevicesError struct {
	Serials []string
}

func (e *MultipleDevicesError) Error() string {
	return fmt.Sprintf("%d adb devices attached (%s); select one with --serial or the serial config key",
		len(e.Serials), strings.Join(e.Serials, ", "))
}

// Argv returns the full command line for an adb invocation.
func (b *Bridge) Argv(args ...string) []string {
	path := b.Path
	if path == "" {
		path = "adb"
	}
	argv := []string{path}
	if b.Serial != "" {
		argv = append(argv, "-s", b.Serial)
	}
	return append(argv, args...)
}

// Run executes `adb <args...>` and waits for it.
func (b *Bridge) Run(ctx context.Context, args ...string) (*runner.Result, error) {
	return b.Runner.Run(ctx, b.Argv(args...), "")
}

// Shell executes `adb shell <args...>` and waits for it.
func (b *Bridge) Shell(ctx context.Context, args ...string) (*runner.Result, error) {
	return b.Run(ctx, append([]string{"shell"}, args...)...)
}

// SpawnShell starts `adb shell <args...>` without waiting for it.
func (b *Bridge) SpawnShell(ctx context.Context, args ...string) (Process, error) {
	h, err := b.Runner.Start(ctx, b.Argv(append([]string{"shell"}, args...)...), "")
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Devices lists the devices known to the adb server.
func (b *Bridge) Devices(ctx context.Context) ([]DeviceInfo, error) {
	// Device listing must not be scoped to a serial.
	unscoped := &Bridge{Runner: b.Runner, Path: b.Path}
	res, err := unscoped.Run(ctx, "devices")
	if err != nil {
		return nil, fmt.Errorf("querying adb devices: %w", err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("adb devices exited with status %d", res.ExitCode)
	}
	return ParseDevices(res.Text()), nil
}

// EnsureSingleDevice verifies that exactly one target device is usable
// and returns its serial. With Serial set, that device must be attached.
func (b *Bridge) EnsureSingleDevice(ctx context.Context) (string, error) {
	devices, err := b.Devices(ctx)
	if err != nil {
		return "", err
	}
	serials := AttachedSerials(devices)

	if b.Serial != "" {
		for _, s := range serials {
			if s == b.Serial {
				return s, nil
			}
		}
		return "", fmt.Errorf("device %s is not attached: %w", b.Serial, ErrNoDevice)
	}

	switch len(serials) {
	case 0:
		return "", ErrNoDevice
	case 1:
		return serials[0], nil
	default:
		return "", &MultipleDevicesError{Serials: serials}
	}
}

// Push copies a local file to the device.
func (b *Bridge) Push(ctx context.Context, local, remote string) (*runner.Result, error) {
	return b.Run(ctx, "push", local, remote)
}

// Install installs (or reinstalls) an APK.
func (b *Bridge) Install(ctx context.Context, apk string) (*runner.Result, error) {
	return b.Run(ctx, "install", "-r", apk)
}

// ResolveLauncher asks the package manager which activity handles the
// MAIN/LAUNCHER intent for pkg. Returns false if none resolves.
func (b *Bridge) ResolveLauncher(ctx context.Context, pkg string) (string, bool, error) {
	res, err := b.Shell(ctx,
		"cmd", "package", "resolve-activity", "--brief",
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.LAUNCHER",
		pkg,
	)
	if err != nil {
		return "", false, err
	}
	if !res.OK() {
		return "", false, nil
	}
	component, ok := ParseResolvedComponent(res.Text(), pkg)
	return component, ok, nil
}

// StartActivity launches an explicit component ("<pkg>/<activity>").
func (b *Bridge) StartActivity(ctx context.Context, component string) (*runner.Result, error) {
	return b.Shell(ctx, "am", "start", "-n", component)
}

// ForceStop stops every process of pkg.
func (b *Bridge) ForceStop(ctx context.Context, pkg string) (*runner.Result, error) {
	return b.Shell(ctx, "am", "force-stop", pkg)
}

// Pidof runs `pidof <name>` unprivileged.
func (b *Bridge) Pidof(ctx context.Context, name string) (*runner.Result, error) {
	return b.Shell(ctx, "pidof", name)
}

// ClearLogcat empties the device log buffers.
func (b *Bridge) ClearLogcat(ctx context.Context) (*runner.Result, error) {
	return b.Run(ctx, "logcat", "-c")
}

// DumpLogcat dumps the current log buffer with threadtime formatting,
// restricted by tag filters such as "ActivityManager:I" or "*:S".
func (b *Bridge) DumpLogcat(ctx context.Context, filters []string) (*runner.Result, error) {
	args := append([]string{"logcat", "-d", "-v", "threadtime"}, filters...)
	return b.Run(ctx, args...)
}

// DumpActivities runs `dumpsys activity activities <pkg>`.
func (b *Bridge) DumpActivities(ctx context.Context, pkg string) (*runner.Result, error) {
	return b.Shell(ctx, "dumpsys", "activity", "activities", pkg)
}

// DumpWindows runs `dumpsys window windows`.
func (b *Bridge) DumpWindows(ctx context.Context) (*runner.Result, error) {
	return b.Shell(ctx, "dumpsys", "window", "windows")
}
