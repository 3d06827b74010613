// Package mcp provides the droidship MCP server, registering all tools
// and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/deixis/droidship"
	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/clock"
	"github.com/deixis/droidship/internal/config"
	"github.com/deixis/droidship/internal/pipeline"
	"github.com/deixis/droidship/internal/report"
	"github.com/deixis/droidship/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu     sync.Mutex
	engine *pipeline.Engine
	store  report.Store
}

// NewServer creates an MCP server with all droidship tools registered.
// workspace is the cargo workspace root.
func NewServer(cfg *config.Config, r adb.CommandRunner, store report.Store, workspace string, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}

	h := &handler{
		engine: &pipeline.Engine{
			Config:    cfg,
			Runner:    r,
			Workspace: workspace,
			LockDir:   so.lockDir,
			Clock:     so.clock,
			LookPath:  so.lookPath,
			Getenv:    so.getenv,
			Logger:    so.logger,
		},
		store: store,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "droidship", Version: droidship.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ds_workspace",
		Description: "Summarise the deployment target: cargo workspace, app package, worker binary, su forms, and attached adb devices.",
	}, h.workspaceHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ds_preflight",
		Description: `Check the host toolchain, Android SDK/NDK environment and (optionally) the attached device.

Runs without side effects and stops at the first failing check with a remedy.
Use this before ds_deploy when the environment may have changed.`,
	}, h.preflightHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ds_deploy",
		Description: `Build, install, launch and verify the app and its privileged worker on the device.

Stages run in order (preflight, build, install, worker deploy, worker launch, activity launch,
diagnostics, IPC handshake) and stop at the first hard failure. compile_check=true stops after
building. Results are stored for drill-down via ds_inspect.`,
	}, h.deployHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ds_diagnose",
		Description: `Launch the already installed app and collect launch diagnostics without building.

Reports the app process, activity draw state, splash window and startup breadcrumbs.
Results are stored for drill-down via ds_inspect.`,
	}, h.diagnoseHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ds_inspect",
		Description: `Show the full record of a ds_deploy, ds_preflight or ds_diagnose run.

Without run_id, lists the most recent runs.`,
	}, h.inspectHandler)

	return s
}

// ServerOption configures the droidship MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	clock    clock.Clock
	lookPath func(string) (string, error)
	getenv   func(string) string
	lockDir  string
	logger   *slog.Logger
}

// WithClock replaces the wall clock used by polling loops.
func WithClock(c clock.Clock) ServerOption {
	return func(o *serverOptions) {
		o.clock = c
	}
}

// WithHost replaces PATH lookup and environment access for preflight.
func WithHost(lookPath func(string) (string, error), getenv func(string) string) ServerOption {
	return func(o *serverOptions) {
		o.lookPath = lookPath
		o.getenv = getenv
	}
}

// WithLockDir sets where device lock files are created.
func WithLockDir(dir string) ServerOption {
	return func(o *serverOptions) {
		o.lockDir = dir
	}
}

// WithLogger sets the logger for pipeline runs.
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = l
	}
}

// snapshot returns a copy of the engine for one tool call, optionally
// pinned to serial.
func (h *handler) snapshot(serial string) *pipeline.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := *h.engine
	if serial != "" {
		e.Serial = serial
	}
	return &e
}

// updateWorkspaceFromRoots queries the client for MCP roots and updates the
// handler's engine, runner, and config if a valid root is returned.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.engine.Runner.(*runner.Runner); ok {
		r.Workspace = loaded.RepoRoot
		r.Timeout = loaded.Config.Timeout()
		r.MaxOutput = loaded.Config.MaxOutputBytes()
	}
	h.engine.Config = loaded.Config
	h.engine.Workspace = loaded.RepoRoot
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
