package mcp

import (
	"context"

	"github.com/deixis/droidship/internal/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type deployParams struct {
	Release      bool   `json:"release,omitempty" jsonschema:"Prefer a release APK. Falls back to debug when no release keystore is configured. Default: false."`
	CompileCheck bool   `json:"compile_check,omitempty" jsonschema:"Only build the worker and APK; do not touch the device."`
	SkipWorker   bool   `json:"skip_worker,omitempty" jsonschema:"Skip deploying, launching and verifying the privileged worker."`
	LogSeconds   *int   `json:"log_seconds,omitempty" jsonschema:"Seconds to wait after launch before collecting diagnostics. Default: configured value (6)."`
	LogFile      string `json:"log_file,omitempty" jsonschema:"Optional path to save the filtered launch logcat."`
	Serial       string `json:"serial,omitempty" jsonschema:"adb serial of the target device when several are attached"`
}

func (h *handler) deployHandler(ctx context.Context, req *mcp.CallToolRequest, params deployParams) (*mcp.CallToolResult, any, error) {
	rr, _ := h.snapshot(params.Serial).Deploy(ctx, pipeline.DeployOptions{
		Release:      params.Release,
		CompileCheck: params.CompileCheck,
		SkipWorker:   params.SkipWorker,
		LogSeconds:   params.LogSeconds,
		LogFile:      params.LogFile,
	})

	// Save results for ds_inspect.
	_ = h.store.Save(rr)

	return textResult(formatRun(rr, false))
}

type diagnoseParams struct {
	Packages      []string `json:"packages,omitempty" jsonschema:"Package ids to try in order. Defaults to the configured package."`
	IncludeLegacy bool     `json:"include_legacy,omitempty" jsonschema:"Also try the legacy package id rust.squalr_android."`
	LogSeconds    *int     `json:"log_seconds,omitempty" jsonschema:"Seconds to wait after launch before collecting diagnostics."`
	LogFile       string   `json:"log_file,omitempty" jsonschema:"Optional path to save the filtered launch logcat."`
	Serial        string   `json:"serial,omitempty" jsonschema:"adb serial of the target device when several are attached"`
}

func (h *handler) diagnoseHandler(ctx context.Context, req *mcp.CallToolRequest, params diagnoseParams) (*mcp.CallToolResult, any, error) {
	rr, _ := h.snapshot(params.Serial).Diagnose(ctx, pipeline.DiagnoseOptions{
		Packages:      params.Packages,
		IncludeLegacy: params.IncludeLegacy,
		LogSeconds:    params.LogSeconds,
		LogFile:       params.LogFile,
	})

	_ = h.store.Save(rr)

	return textResult(formatRun(rr, false))
}
