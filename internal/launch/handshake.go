package launch

import (
	"context"
	"time"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/elevation"
	"github.com/deixis/droidship/internal/liveness"
	"github.com/deixis/droidship/internal/runner"
)

// hasPID accepts a pidof result that names at least one process.
func hasPID(r *runner.Result) bool {
	return r.OK() && len(adb.ParsePIDs(r.Text())) > 0
}

// Handshake checks that the worker's IPC side is up by waiting for its
// process to be visible to root.
type Handshake struct {
	Elevation *elevation.Selector
	Poller    *liveness.Poller
	Binary    string
	Timeout   time.Duration
	Attempts  int // polls before giving up; zero polls until Timeout
}

// Verify polls until the worker is seen, Attempts polls were made or
// the deadline passes. A timeout lists every elevation form that was
// tried.
func (h *Handshake) Verify(ctx context.Context) (*liveness.Result, error) {
	catalog := h.Elevation.Catalog
	if len(catalog) == 0 {
		catalog = elevation.DefaultCatalog
	}
	return h.Poller.Poll(ctx, liveness.Request{
		What:        h.Binary + " IPC handshake",
		Timeout:     h.Timeout,
		MaxAttempts: h.Attempts,
		Probe: func(ctx context.Context) (bool, string, error) {
			out, ok, err := h.Elevation.Probe(ctx, "detect "+h.Binary, "pidof "+h.Binary, hasPID)
			if err != nil || !ok {
				return false, "", err
			}
			return true, out.Label, nil
		},
		Tried: elevation.Labels(catalog),
	})
}
