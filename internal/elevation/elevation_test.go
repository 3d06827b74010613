package elevation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/runner/runnertest"
)

func catalogOf(n int) []Attempt {
	out := make([]Attempt, n)
	for i := range out {
		label := fmt.Sprintf("form%d", i)
		out[i] = Attempt{Label: label, Prefix: []string{"su", label}}
	}
	return out
}

func newSelector(fake *runnertest.Fake, catalog []Attempt) *Selector {
	return &Selector{Shell: &adb.Bridge{Runner: fake}, Catalog: catalog}
}

func TestRun_FirstSuccessAtPositionK(t *testing.T) {
	const n = 5
	for k := 0; k < n; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			catalog := catalogOf(n)
			fake := runnertest.New()
			for i, a := range catalog {
				code := 1
				if i == k {
					code = 0
				}
				fake.Script("adb shell su "+a.Label+" id", runnertest.Result(code, ""))
			}

			out, err := newSelector(fake, catalog).Run(context.Background(), "verify root", "id")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Attempts != k+1 {
				t.Errorf("Attempts = %d, want %d", out.Attempts, k+1)
			}
			if out.Label != catalog[k].Label {
				t.Errorf("Label = %q, want %q", out.Label, catalog[k].Label)
			}
			if got := len(fake.Calls()); got != k+1 {
				t.Errorf("remote calls = %d, want %d", got, k+1)
			}
		})
	}
}

func TestRun_AllFail(t *testing.T) {
	const n = 4
	catalog := catalogOf(n)
	fake := runnertest.New()
	for _, a := range catalog {
		fake.Script("adb shell su "+a.Label+" id", runnertest.Result(1, "permission denied"))
	}

	_, err := newSelector(fake, catalog).Run(context.Background(), "verify root", "id")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Tried) != n {
		t.Errorf("Tried = %v, want %d entries", exhausted.Tried, n)
	}
	if got := len(fake.Calls()); got != n {
		t.Errorf("remote calls = %d, want %d", got, n)
	}
	for _, a := range catalog {
		if !strings.Contains(err.Error(), a.Label) {
			t.Errorf("error %q does not mention %q", err, a.Label)
		}
	}
}

func TestRun_ScenarioAFailsBSucceeds(t *testing.T) {
	catalog := []Attempt{
		{Label: "A", Prefix: []string{"su", "-c"}},
		{Label: "B", Prefix: []string{"su", "0", "sh", "-c"}},
	}
	fake := runnertest.New()
	fake.Script("adb shell su -c 'chmod +x /data/local/tmp/squalr-cli'", runnertest.Result(1, ""))
	fake.Script("adb shell su 0 sh -c 'chmod +x /data/local/tmp/squalr-cli'", runnertest.Result(0, ""))

	out, err := newSelector(fake, catalog).Run(context.Background(), "mark worker executable", "chmod +x /data/local/tmp/squalr-cli")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Attempts != 2 || out.Label != "B" {
		t.Errorf("outcome = %+v, want 2 attempts via B", out)
	}
}

func TestRunWith_RequiresOutput(t *testing.T) {
	fake := runnertest.New()
	fake.Script("adb shell su -c 'pidof squalr-cli'", runnertest.Result(0, "\n"))
	fake.Script("adb shell su 0 sh -c 'pidof squalr-cli'", runnertest.Result(0, "4242\n"))

	s := newSelector(fake, nil)
	out, ok, err := s.Probe(context.Background(), "find worker", "pidof squalr-cli", ExitZeroWithOutput)
	if err != nil || !ok {
		t.Fatalf("Probe = (%v, %v, %v), want detection", out, ok, err)
	}
	if out.Label != "su 0 sh -c" {
		t.Errorf("Label = %q, want %q", out.Label, "su 0 sh -c")
	}
}

func TestProbe_ExhaustionIsNotAnError(t *testing.T) {
	fake := runnertest.New()
	for _, a := range DefaultCatalog {
		fake.Script("adb shell "+strings.Join(a.Prefix, " ")+" 'pidof squalr-cli'", runnertest.Result(1, ""))
	}
	_, ok, err := newSelector(fake, nil).Probe(context.Background(), "find worker", "pidof squalr-cli", ExitZeroWithOutput)
	if err != nil || ok {
		t.Errorf("Probe = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRun_ExecErrorStops(t *testing.T) {
	fake := runnertest.New()
	fake.Fail("adb shell su -c id", errors.New("adb: not found"))
	_, err := newSelector(fake, nil).Run(context.Background(), "verify root", "id")
	if err == nil {
		t.Fatal("expected error")
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Errorf("exec failure reported as exhaustion: %v", err)
	}
	if got := len(fake.Calls()); got != 1 {
		t.Errorf("remote calls = %d, want 1", got)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSelector(runnertest.New(), nil).Run(ctx, "verify root", "id")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestQuote(t *testing.T) {
	tests := map[string]string{
		"id":              "id",
		"chmod +x /x":     "'chmod +x /x'",
		"echo 'hi there'": `'echo '\''hi there'\'''`,
	}
	for in, want := range tests {
		if got := quote(in); got != want {
			t.Errorf("quote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAttemptWrap(t *testing.T) {
	a := Attempt{Label: "su 0 sh -c", Prefix: []string{"su", "0", "sh", "-c"}}
	got := a.Wrap("pidof squalr-cli")
	want := []string{"su", "0", "sh", "-c", "'pidof squalr-cli'"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Wrap = %q, want %q", got, want)
	}
	if len(a.Prefix) != 4 {
		t.Errorf("Wrap modified Prefix: %q", a.Prefix)
	}
}

func TestExhaustedError_Reasons(t *testing.T) {
	err := &ExhaustedError{
		Action:  "launch privileged worker",
		Tried:   []string{"su -c", "su 0 sh -c"},
		Reasons: []string{"launcher exited", "no process within 10s"},
	}
	msg := err.Error()
	for _, want := range []string{"su -c: launcher exited", "su 0 sh -c: no process within 10s"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q should contain %q", msg, want)
		}
	}
}
