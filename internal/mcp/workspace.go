package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/droidship/internal/elevation"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type workspaceParams struct{}

func (h *handler) workspaceHandler(ctx context.Context, req *sdkmcp.CallToolRequest, _ workspaceParams) (*sdkmcp.CallToolResult, any, error) {
	e := h.snapshot("")
	cfg := e.Config

	var b strings.Builder
	fmt.Fprintf(&b, "Workspace: %s\n", e.Workspace)
	fmt.Fprintf(&b, "Target: %s\n", cfg.TargetTriple())
	fmt.Fprintf(&b, "App: %s (crate %s)\n", cfg.Component(), cfg.APKCrate())
	fmt.Fprintf(&b, "Worker: %s -> %s %s\n", cfg.WorkerCrate(), cfg.WorkerDevicePath(), strings.Join(cfg.WorkerArgs(), " "))
	fmt.Fprintf(&b, "su forms: %s\n", strings.Join(elevation.Labels(cfg.ElevationCatalog()), ", "))
	fmt.Fprintln(&b)

	// Non-fatal: the configuration is still useful without a device.
	devices, err := e.Bridge().Devices(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "Devices: (failed to list: %v)\n", err)
	case len(devices) == 0:
		fmt.Fprintln(&b, "Devices: none attached")
	default:
		fmt.Fprintf(&b, "Devices (%d):\n", len(devices))
		for _, d := range devices {
			fmt.Fprintf(&b, "  %s\t%s\n", d.Serial, d.State)
		}
	}

	return textResult(b.String())
}
