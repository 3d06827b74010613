package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/runner"
)

// ErrNoLauncher is returned when the package has no launcher activity,
// typically because it is not installed.
var ErrNoLauncher = errors.New("could not resolve launchable activity")

// ActivityLauncher starts the app's main activity.
type ActivityLauncher struct {
	Bridge *adb.Bridge
	Logger *slog.Logger
}

// Launch starts "<pkg>/<activity>". If that fails it asks the package
// manager for the launcher component and starts that instead. It
// returns the component that was started.
func (a *ActivityLauncher) Launch(ctx context.Context, pkg, activity string) (string, error) {
	explicit := pkg + "/" + activity
	ok, err := a.start(ctx, explicit)
	if err != nil {
		return "", err
	}
	if ok {
		return explicit, nil
	}

	resolved, found, err := a.Bridge.ResolveLauncher(ctx, pkg)
	if err != nil {
		return "", fmt.Errorf("resolving launcher activity: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w for package %s", ErrNoLauncher, pkg)
	}
	a.logger().Info("explicit activity failed to start, using resolved launcher", "component", resolved)
	ok, err = a.start(ctx, resolved)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("failed to launch %s", resolved)
	}
	return resolved, nil
}

func (a *ActivityLauncher) start(ctx context.Context, component string) (bool, error) {
	res, err := a.Bridge.StartActivity(ctx, component)
	if err != nil {
		return false, fmt.Errorf("starting %s: %w", component, err)
	}
	return started(res), nil
}

func started(res *runner.Result) bool {
	return res.OK() && !adb.StartFailed(res.Text())
}

func (a *ActivityLauncher) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
