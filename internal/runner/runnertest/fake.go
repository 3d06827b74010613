// Package runnertest provides a scripted command runner for tests.
package runnertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/deixis/droidship/internal/runner"
)

// Fake is a test double for runner.Runner. Commands are matched by their
// full command line (argv joined with single spaces). Unscripted
// commands succeed with no output.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]func(n int) (*runner.Result, error)
	spawns   map[string][]string
	calls    [][]string
	counts   map[string]int

	// Local runs the real processes behind scripted spawns.
	Local *runner.Runner
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		handlers: make(map[string]func(int) (*runner.Result, error)),
		spawns:   make(map[string][]string),
		counts:   make(map[string]int),
		Local:    &runner.Runner{Timeout: time.Minute},
	}
}

// Result builds a runner.Result with the given exit code and output.
func Result(code int, output string) *runner.Result {
	return &runner.Result{RunID: "fake", ExitCode: code, Output: []byte(output)}
}

// Script returns results in sequence for cmd; the last one repeats.
func (f *Fake) Script(cmd string, results ...*runner.Result) {
	f.Handle(cmd, func(n int) (*runner.Result, error) {
		if n >= len(results) {
			n = len(results) - 1
		}
		return results[n], nil
	})
}

// Fail makes cmd fail to execute with err.
func (f *Fake) Fail(cmd string, err error) {
	f.Handle(cmd, func(int) (*runner.Result, error) { return nil, err })
}

// Handle installs fn for cmd. n is the zero-based call count for cmd.
func (f *Fake) Handle(cmd string, fn func(n int) (*runner.Result, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[cmd] = fn
}

// Spawn makes Start(cmd) launch the local command line instead.
func (f *Fake) Spawn(cmd string, local ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns[cmd] = local
}

func (f *Fake) Run(_ context.Context, argv []string, _ string) (*runner.Result, error) {
	key := Key(argv)
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	n := f.counts[key]
	f.counts[key] = n + 1
	fn := f.handlers[key]
	f.mu.Unlock()

	if fn == nil {
		return Result(0, ""), nil
	}
	return fn(n)
}

func (f *Fake) Start(ctx context.Context, argv []string, _ string) (*runner.Handle, error) {
	key := Key(argv)
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	f.counts[key]++
	local, ok := f.spawns[key]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("runnertest: no spawn scripted for %q", key)
	}
	return f.Local.Start(ctx, local, "")
}

// Calls returns every command line seen, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = Key(c)
	}
	return out
}

// Count returns how many times cmd was run or started.
func (f *Fake) Count(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[cmd]
}

// Key renders argv the way commands are scripted.
func Key(argv []string) string {
	return strings.Join(argv, " ")
}
