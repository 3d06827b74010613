package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/deixis/droidship/internal/config"
	"github.com/deixis/droidship/internal/pipeline"
	"github.com/deixis/droidship/internal/report"
	"github.com/deixis/droidship/internal/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runFlags are shared by every command that drives the pipeline.
type runFlags struct {
	Serial  string
	Timeout time.Duration
	Verbose bool
	JSON    bool
}

// AddFlags registers the shared flags on flagSet.
func (f *runFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.Serial, "serial", "", "adb serial of the target device (overrides config)")
	flagSet.DurationVar(&f.Timeout, "timeout", 0, "override the per-command timeout (e.g. 45m)")
	flagSet.BoolVarP(&f.Verbose, "verbose", "v", false, "debug logging on stderr")
	flagSet.BoolVar(&f.JSON, "json", false, "print the run report as JSON")
}

// logFlags select how launch diagnostics are collected.
type logFlags struct {
	Seconds int
	File    string
}

// AddFlags registers the diagnostics flags on flagSet.
func (f *logFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.IntVar(&f.Seconds, "launch-log-seconds", config.DefaultLogSeconds, "seconds to wait after launch before collecting diagnostics")
	flagSet.StringVar(&f.File, "launch-log-file", "", "save the filtered launch logcat to this path")
}

// seconds returns the wait only when it was given on the command line,
// so that the configured value applies otherwise.
func (f *logFlags) seconds(flagSet *pflag.FlagSet) *int {
	if !flagSet.Changed("launch-log-seconds") {
		return nil
	}
	s := f.Seconds
	return &s
}

// --- deploy ---

func newDeployCmd() *cobra.Command {
	var (
		shared       runFlags
		logs         logFlags
		release      bool
		debug        bool
		compileCheck bool
		skipWorker   bool
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build, install, launch and verify the app and worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !release && !debug && !compileCheck && stdinIsTerminal() {
				release = promptRelease(os.Stdin, cmd.ErrOrStderr())
			}
			opts := pipeline.DeployOptions{
				Release:      release,
				CompileCheck: compileCheck,
				SkipWorker:   skipWorker,
				LogSeconds:   logs.seconds(cmd.Flags()),
				LogFile:      logs.File,
			}
			return execute(cmd, shared, func(ctx context.Context, e *pipeline.Engine) (*report.RunResult, error) {
				return e.Deploy(ctx, opts)
			})
		},
	}
	flags := cmd.Flags()
	shared.AddFlags(flags)
	logs.AddFlags(flags)
	flags.BoolVar(&release, "release", false, "build in release mode")
	flags.BoolVar(&debug, "debug", false, "build in debug mode without prompting")
	flags.BoolVar(&compileCheck, "compile-check", false, "only build the worker and APK")
	flags.BoolVar(&skipWorker, "skip-worker", false, "do not deploy, launch or verify the privileged worker")
	cmd.MarkFlagsMutuallyExclusive("release", "debug")
	return cmd
}

// --- preflight ---

func newPreflightCmd() *cobra.Command {
	var (
		shared   runFlags
		noDevice bool
	)
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check the host toolchain, Android environment and device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, shared, func(ctx context.Context, e *pipeline.Engine) (*report.RunResult, error) {
				return e.Preflight(ctx, !noDevice)
			})
		},
	}
	shared.AddFlags(cmd.Flags())
	cmd.Flags().BoolVar(&noDevice, "no-device", false, "skip the attached device check")
	return cmd
}

// --- diagnose ---

func newDiagnoseCmd() *cobra.Command {
	var (
		shared        runFlags
		logs          logFlags
		packages      []string
		includeLegacy bool
	)
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Launch the installed app and collect diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := pipeline.DiagnoseOptions{
				Packages:      packages,
				IncludeLegacy: includeLegacy,
				LogSeconds:    logs.seconds(cmd.Flags()),
				LogFile:       logs.File,
			}
			return execute(cmd, shared, func(ctx context.Context, e *pipeline.Engine) (*report.RunResult, error) {
				return e.Diagnose(ctx, opts)
			})
		},
	}
	flags := cmd.Flags()
	shared.AddFlags(flags)
	logs.AddFlags(flags)
	flags.StringArrayVar(&packages, "package", nil, "package id to launch; repeat to try several in order")
	flags.BoolVar(&includeLegacy, "include-legacy-package", false, "also try "+pipeline.LegacyPackage)
	return cmd
}

// --- inspect ---

func newInspectCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [run-id]",
		Short: "Show a stored run, or list recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig()
			if err != nil {
				return err
			}
			store := newStore(loaded.Config)
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := store.List(limit)
				if err != nil {
					return fmt.Errorf("listing runs: %w", err)
				}
				if asJSON {
					return writeJSON(out, runs)
				}
				fmt.Fprint(out, renderRunList(runs))
				return nil
			}

			rr, err := store.Load(args[0])
			if err != nil {
				return fmt.Errorf("loading run %s: %w", args[0], err)
			}
			if asJSON {
				return writeJSON(out, rr)
			}
			fmt.Fprint(out, renderRun(rr))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// --- shared ---

// renderedError marks a failure whose run report was already printed.
type renderedError struct {
	err error
}

func (e *renderedError) Error() string { return e.err.Error() }
func (e *renderedError) Unwrap() error { return e.err }

// execute builds an engine from the workspace config, runs fn, stores
// and prints the report.
func execute(cmd *cobra.Command, f runFlags, fn func(context.Context, *pipeline.Engine) (*report.RunResult, error)) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := loaded.Config

	timeout := cfg.Timeout()
	if f.Timeout > 0 {
		timeout = f.Timeout
	}
	logger := newLogger(f.Verbose).With("command", cmd.Name())

	// Toolchain output streams to stderr so that --json keeps stdout clean.
	r := &runner.Runner{
		Workspace: loaded.RepoRoot,
		Timeout:   timeout,
		MaxOutput: cfg.MaxOutputBytes(),
		Output:    cmd.ErrOrStderr(),
		Logger:    logger,
	}
	engine := &pipeline.Engine{
		Config:    cfg,
		Runner:    r,
		Workspace: loaded.RepoRoot,
		Serial:    f.Serial,
		Logger:    logger,
	}

	rr, runErr := fn(cmd.Context(), engine)
	if err := newStore(cfg).Save(rr); err != nil {
		logger.Warn("saving run report failed", "run_id", rr.ID, "error", err)
	}

	out := cmd.OutOrStdout()
	if f.JSON {
		if err := writeJSON(out, rr); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, renderRun(rr))
	}
	if runErr != nil {
		return &renderedError{err: runErr}
	}
	return nil
}

func loadConfig() (*config.LoadResult, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}
	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
