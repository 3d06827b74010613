// Package elevation runs device shell commands as root, trying each
// known su invocation form in priority order until one succeeds.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/deixis/droidship/internal/runner"
)

// Attempt is one way of obtaining a root shell on the device. The
// remote command is appended to Prefix as a single argument.
type Attempt struct {
	Label  string
	Prefix []string
}

// Wrap returns the shell arguments that run remote under this attempt.
func (a Attempt) Wrap(remote string) []string {
	return append(append([]string(nil), a.Prefix...), quote(remote))
}

// DefaultCatalog lists the su forms in priority order. Devices differ in
// which su implementation they ship, and no single form works on all of
// them.
var DefaultCatalog = []Attempt{
	{Label: "su -c", Prefix: []string{"su", "-c"}},
	{Label: "su 0 sh -c", Prefix: []string{"su", "0", "sh", "-c"}},
	{Label: "su root sh -c", Prefix: []string{"su", "root", "sh", "-c"}},
}

// Labels returns the labels of catalog in order.
func Labels(catalog []Attempt) []string {
	out := make([]string, len(catalog))
	for i, a := range catalog {
		out[i] = a.Label
	}
	return out
}

// Shell runs `adb shell <args...>`. Implemented by adb.Bridge.
type Shell interface {
	Shell(ctx context.Context, args ...string) (*runner.Result, error)
}

// Accept decides whether the result of one attempt counts as success.
type Accept func(*runner.Result) bool

// ExitZero accepts any attempt that exits with status zero.
func ExitZero(r *runner.Result) bool {
	return r.OK()
}

// ExitZeroWithOutput additionally requires non-blank output. Used for
// probes such as pidof where an empty answer means "not running".
func ExitZeroWithOutput(r *runner.Result) bool {
	return r.OK() && strings.TrimSpace(r.Text()) != ""
}

// Outcome reports which attempt succeeded.
type Outcome struct {
	Label    string
	Attempts int
	Result   *runner.Result
}

// ExhaustedError is returned when every attempt in the catalog failed.
// Reasons, when set, holds one failure description per entry of Tried.
type ExhaustedError struct {
	Action  string
	Tried   []string
	Reasons []string
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("failed to %s with all su invocation attempts: %s", e.Action, strings.Join(e.Tried, ", "))
	if len(e.Reasons) == len(e.Tried) {
		for i, label := range e.Tried {
			msg += fmt.Sprintf("\n  - %s: %s", label, e.Reasons[i])
		}
	}
	return msg
}

// Selector wraps a remote command in each catalog entry in turn.
type Selector struct {
	Shell   Shell
	Catalog []Attempt // DefaultCatalog when empty
	Logger  *slog.Logger
}

// Run executes remote as root and succeeds on the first zero exit.
// action describes the operation for log and error messages.
func (s *Selector) Run(ctx context.Context, action, remote string) (*Outcome, error) {
	return s.RunWith(ctx, action, remote, ExitZero)
}

// RunWith is Run with a custom acceptance test.
func (s *Selector) RunWith(ctx context.Context, action, remote string, accept Accept) (*Outcome, error) {
	catalog := s.catalog()
	for i, attempt := range catalog {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := s.Shell.Shell(ctx, attempt.Wrap(remote)...)
		if err != nil {
			return nil, fmt.Errorf("%s via %s: %w", action, attempt.Label, err)
		}
		if accept(res) {
			s.logger().Info("elevated command succeeded", "action", action, "via", attempt.Label, "attempt", i+1)
			return &Outcome{Label: attempt.Label, Attempts: i + 1, Result: res}, nil
		}
		s.logger().Debug("elevation attempt failed", "action", action, "via", attempt.Label, "exit_code", res.ExitCode)
	}
	return nil, &ExhaustedError{Action: action, Tried: Labels(catalog)}
}

// Probe is RunWith that reports exhaustion as a plain negative answer
// instead of an error. Liveness checks use it: "no form found the
// process" is an expected poll result, not a failure.
func (s *Selector) Probe(ctx context.Context, action, remote string, accept Accept) (*Outcome, bool, error) {
	out, err := s.RunWith(ctx, action, remote, accept)
	if err != nil {
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return out, true, nil
}

func (s *Selector) catalog() []Attempt {
	if len(s.Catalog) > 0 {
		return s.Catalog
	}
	return DefaultCatalog
}

func (s *Selector) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// quote keeps a multi-word remote command together. adb joins its shell
// arguments with spaces before handing them to the device shell, so
// without quoting su would only see the first word.
func quote(cmd string) string {
	if !strings.ContainsAny(cmd, " \t'\"") {
		return cmd
	}
	return "'" + strings.ReplaceAll(cmd, "'", `'\''`) + "'"
}
