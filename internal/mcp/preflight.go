package mcp

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/deixis/droidship/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type preflightParams struct {
	CheckDevice *bool  `json:"check_device,omitempty" jsonschema:"Also require exactly one attached adb device. Default: true."`
	Serial      string `json:"serial,omitempty" jsonschema:"adb serial of the device to check when several are attached"`
}

func (h *handler) preflightHandler(ctx context.Context, req *mcp.CallToolRequest, params preflightParams) (*mcp.CallToolResult, any, error) {
	checkDevice := true
	if params.CheckDevice != nil {
		checkDevice = *params.CheckDevice
	}

	rr, _ := h.snapshot(params.Serial).Preflight(ctx, checkDevice)

	// Save results for ds_inspect.
	_ = h.store.Save(rr)

	return textResult(formatRun(rr, false))
}

// formatRun renders a run for a model. detailed adds the per-stage
// records that ds_inspect shows.
func formatRun(rr *report.RunResult, detailed bool) string {
	var b strings.Builder

	if rr.Succeeded {
		fmt.Fprintln(&b, "Status: PASS")
	} else {
		fmt.Fprintln(&b, "Status: FAIL")
	}
	fmt.Fprintf(&b, "Run: %s\n", rr.ID)
	fmt.Fprintf(&b, "Kind: %s\n", rr.Kind)
	if rr.Serial != "" {
		fmt.Fprintf(&b, "Device: %s\n", rr.Serial)
	}
	if rr.Profile != "" {
		fmt.Fprintf(&b, "APK profile: %s\n", rr.Profile)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Stages:")
	for _, s := range rr.Stages {
		line := fmt.Sprintf("  %s: %s", s.Name, s.Status)
		if s.Status != report.StatusFailed && s.Detail != "" {
			line += " (" + s.Detail + ")"
		}
		fmt.Fprintln(&b, line)
	}
	fmt.Fprintln(&b)

	if !rr.Succeeded {
		fmt.Fprintf(&b, "Error (%s, exit %d):\n", rr.ErrorKind, rr.ExitCode)
		for _, line := range strings.Split(strings.TrimRight(rr.Error, "\n"), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		fmt.Fprintln(&b)
	}

	if used := rr.ElevationUsed(); len(used) > 0 {
		fmt.Fprintln(&b, "Elevation:")
		for _, action := range slices.Sorted(maps.Keys(used)) {
			fmt.Fprintf(&b, "  %s: %s\n", action, used[action])
		}
		fmt.Fprintln(&b)
	}

	if detailed {
		writeDetails(&b, rr)
	}

	if rr.Diagnostics != nil {
		fmt.Fprintln(&b, "Diagnostics:")
		for _, line := range rr.Diagnostics.Summary() {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		fmt.Fprintln(&b)
	}

	if !detailed {
		fmt.Fprintf(&b, "Inspect with ds_inspect(run_id=%q).\n", rr.ID)
	}
	return b.String()
}

func writeDetails(b *strings.Builder, rr *report.RunResult) {
	if p := rr.Preflight; p != nil && len(p.Checks) > 0 {
		fmt.Fprintln(b, "Preflight checks passed:")
		for _, c := range p.Checks {
			fmt.Fprintf(b, "  %s: %s\n", c.Name, c.Detail)
		}
		fmt.Fprintln(b)
	}
	if rr.APK != "" {
		fmt.Fprintf(b, "APK: %s\n", rr.APK)
	}
	if rr.Component != "" {
		fmt.Fprintf(b, "Activity: %s\n", rr.Component)
	}
	if w := rr.Worker; w != nil {
		fmt.Fprintf(b, "Worker: %s -> %s\n", w.HostPath, w.DevicePath)
	}
	if l := rr.Launch; l != nil {
		if len(l.Replaced) > 0 {
			fmt.Fprintf(b, "Replaced running worker pids: %v\n", l.Replaced)
		}
		if l.Poll != nil {
			fmt.Fprintf(b, "Worker confirmed after %d polls (%s)\n", l.Poll.Attempts, l.Poll.Elapsed)
		}
	}
	if hs := rr.Handshake; hs != nil {
		fmt.Fprintf(b, "Handshake confirmed after %d polls (%s)\n", hs.Attempts, hs.Elapsed)
	}
	fmt.Fprintf(b, "Started: %s, took %s\n\n", rr.Started.Format("2006-01-02 15:04:05"), rr.Duration)
}
