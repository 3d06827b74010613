// Command droidship builds the Squalr Android app and its privileged
// worker, deploys both to an attached device and verifies they started.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/deixis/droidship"
	"github.com/deixis/droidship/internal/config"
	dsmcp "github.com/deixis/droidship/internal/mcp"
	"github.com/deixis/droidship/internal/pipeline"
	"github.com/deixis/droidship/internal/report"
	"github.com/deixis/droidship/internal/runner"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// Failed runs have already been rendered.
		if !errors.As(err, new(*renderedError)) {
			fmt.Fprintln(os.Stderr, "droidship:", err)
		}
		os.Exit(pipeline.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "droidship",
		Short: "Build, deploy and verify the Squalr Android app",
		Long: `droidship builds the Android app and its privileged worker, installs both on
the attached device, launches them through su and checks that they came up.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newDeployCmd(),
		newPreflightCmd(),
		newDiagnoseCmd(),
		newInspectCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), droidship.Version)
		},
	}
}

// --- mcp ---

func newMCPCmd() *cobra.Command {
	var (
		instructions bool
		httpAddr     string
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if instructions {
				fmt.Fprint(cmd.OutOrStdout(), dsmcp.Instructions)
				return nil
			}
			return serve(cmd.Context(), httpAddr, verbose)
		},
	}
	cmd.Flags().BoolVar(&instructions, "instructions", false, "print model instructions and exit")
	cmd.Flags().StringVar(&httpAddr, "http", "", "start HTTP server on address (e.g. :9090)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	return cmd
}

func serve(ctx context.Context, httpAddr string, verbose bool) error {
	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config
	logger := newLogger(verbose).With("command", "mcp")

	// Tool output goes back to the model, never to stdout: stdout is the
	// transport.
	r := &runner.Runner{
		Workspace: loaded.RepoRoot,
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
		Logger:    logger,
	}

	server := dsmcp.NewServer(cfg, r, newStore(cfg), loaded.RepoRoot, dsmcp.WithLogger(logger))

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr, logger)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, logger *slog.Logger) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	logger.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- shared ---

func newStore(cfg *config.Config) report.Store {
	dir := cfg.RunsDir
	if dir == "" {
		dir = report.DefaultDir()
	}
	return report.NewLRUStore(5, report.NewDiskStore(dir))
}
