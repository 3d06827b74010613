package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/droidship/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID string `json:"run_id,omitempty" jsonschema:"the run ID from a ds_deploy, ds_preflight or ds_diagnose result; omit to list recent runs"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of runs to list when run_id is omitted. Default: 10."`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		limit := params.Limit
		if limit <= 0 {
			limit = 10
		}
		runs, err := h.store.List(limit)
		if err != nil {
			return errorResult(fmt.Sprintf("Failed to list runs: %v", err))
		}
		return textResult(formatRunList(runs))
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return textResult(formatRun(result, true))
}

func formatRunList(runs []report.Summary) string {
	if len(runs) == 0 {
		return "No runs recorded yet.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent runs (%d):\n", len(runs))
	for _, r := range runs {
		status := "PASS"
		if !r.Succeeded {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "  %s  %-9s %s  %s", r.ID, r.Kind, r.Started.Format("2006-01-02 15:04:05"), status)
		if r.Error != "" {
			first, _, _ := strings.Cut(r.Error, "\n")
			fmt.Fprintf(&b, "  %s", first)
		}
		fmt.Fprintln(&b)
	}
	return b.String()
}
