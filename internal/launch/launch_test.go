package launch

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/deixis/droidship/internal/adb"
	"github.com/deixis/droidship/internal/clock"
	"github.com/deixis/droidship/internal/elevation"
	"github.com/deixis/droidship/internal/liveness"
	"github.com/deixis/droidship/internal/runner"
	"github.com/deixis/droidship/internal/runner/runnertest"
)

const (
	binary     = "squalr-cli"
	devicePath = "/data/local/tmp/squalr-cli"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func spawnKey(a elevation.Attempt) string {
	return "adb shell " + strings.Join(a.Prefix, " ") + " '" + devicePath + " --ipc-mode'"
}

func pidofKey(a elevation.Attempt) string {
	return "adb shell " + strings.Join(a.Prefix, " ") + " 'pidof " + binary + "'"
}

func newLauncher(fake *runnertest.Fake, clk clock.Clock) *Launcher {
	bridge := &adb.Bridge{Runner: fake}
	return &Launcher{
		Bridge:     bridge,
		Elevation:  &elevation.Selector{Shell: bridge},
		Poller:     &liveness.Poller{Clock: clk, Interval: time.Second},
		Binary:     binary,
		DevicePath: devicePath,
		Args:       []string{"--ipc-mode"},
		Timeout:    10 * time.Second,
	}
}

var (
	formA = elevation.DefaultCatalog[0]
	formB = elevation.DefaultCatalog[1]
	formC = elevation.DefaultCatalog[2]
)

func TestLaunch_FallsThroughToSecondForm(t *testing.T) {
	fake := runnertest.New()
	fake.Spawn(spawnKey(formA), "sh", "-c", "exit 1")
	fake.Spawn(spawnKey(formB), "sleep", "30")
	// The worker only appears once form B has started it.
	fake.Handle(pidofKey(formA), func(int) (*runner.Result, error) {
		if fake.Count(spawnKey(formB)) > 0 {
			return runnertest.Result(0, "5151\n"), nil
		}
		return runnertest.Result(1, ""), nil
	})
	fake.Script(pidofKey(formB), runnertest.Result(1, ""))
	fake.Script(pidofKey(formC), runnertest.Result(1, ""))

	l := newLauncher(fake, clock.NewFake(epoch))
	out, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !out.Succeeded || out.ElevationUsed != formB.Label {
		t.Errorf("outcome = %+v, want success via %q", out, formB.Label)
	}
	if out.Poll == nil || out.Poll.DetectedVia != formA.Label {
		t.Errorf("Poll = %+v", out.Poll)
	}
	if l.State() != Confirmed {
		t.Errorf("State = %s, want confirmed", l.State())
	}
	if !out.Process.Exited() {
		t.Error("launch shell should be terminated after confirmation")
	}
	if n := fake.Count(spawnKey(formC)); n != 0 {
		t.Errorf("form C spawned %d times", n)
	}
}

func TestLaunch_AllFormsFail(t *testing.T) {
	fake := runnertest.New()
	for _, a := range elevation.DefaultCatalog {
		fake.Spawn(spawnKey(a), "sh", "-c", "exit 1")
		fake.Script(pidofKey(a), runnertest.Result(1, ""))
	}

	l := newLauncher(fake, clock.NewFake(epoch))
	out, err := l.Launch(context.Background())
	var ex *elevation.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want *elevation.ExhaustedError", err)
	}
	if !slices.Equal(ex.Tried, elevation.Labels(elevation.DefaultCatalog)) {
		t.Errorf("Tried = %v", ex.Tried)
	}
	if len(ex.Reasons) != len(ex.Tried) {
		t.Errorf("Reasons = %v", ex.Reasons)
	}
	if out.Succeeded {
		t.Error("outcome should not succeed")
	}
	if l.State() != Failed {
		t.Errorf("State = %s, want failed", l.State())
	}
	for _, a := range elevation.DefaultCatalog {
		if n := fake.Count(spawnKey(a)); n != 1 {
			t.Errorf("%s spawned %d times, want 1", a.Label, n)
		}
	}
}

func TestLaunch_RestartsExistingInstance(t *testing.T) {
	fake := runnertest.New()
	fake.Script(pidofKey(formA),
		runnertest.Result(0, "4242\n"), // stale instance
		runnertest.Result(0, "5151\n"), // relaunched worker
	)
	fake.Spawn(spawnKey(formA), "sleep", "30")

	l := newLauncher(fake, clock.NewFake(epoch))
	l.Restart = true
	out, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !slices.Equal(out.Replaced, []int{4242}) {
		t.Errorf("Replaced = %v", out.Replaced)
	}
	calls := fake.Calls()
	kill := slices.Index(calls, "adb shell su -c 'kill -9 4242'")
	spawn := slices.Index(calls, spawnKey(formA))
	if kill < 0 || spawn < 0 || kill > spawn {
		t.Errorf("stale instance must be killed before spawning; calls:\n%s", strings.Join(calls, "\n"))
	}
}

func TestLaunch_RestartNothingRunning(t *testing.T) {
	fake := runnertest.New()
	for _, a := range elevation.DefaultCatalog {
		fake.Script(pidofKey(a), runnertest.Result(1, ""), runnertest.Result(0, "5151"))
	}
	fake.Spawn(spawnKey(formA), "sleep", "30")

	l := newLauncher(fake, clock.NewFake(epoch))
	l.Restart = true
	out, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if len(out.Replaced) != 0 {
		t.Errorf("Replaced = %v", out.Replaced)
	}
	for _, c := range fake.Calls() {
		if strings.Contains(c, "kill") {
			t.Errorf("unexpected kill: %s", c)
		}
	}
}

func TestLaunch_SpawnErrorIsFatal(t *testing.T) {
	fake := runnertest.New() // no spawn scripted: Start fails

	l := newLauncher(fake, clock.NewFake(epoch))
	_, err := l.Launch(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var ex *elevation.ExhaustedError
	if errors.As(err, &ex) {
		t.Errorf("spawn errors should not fall through the catalog: %v", err)
	}
	if n := len(fake.Calls()); n != 1 {
		t.Errorf("%d calls, want 1", n)
	}
}

func TestLaunch_OnlyOnce(t *testing.T) {
	fake := runnertest.New()
	fake.Spawn(spawnKey(formA), "sleep", "30")
	fake.Script(pidofKey(formA), runnertest.Result(0, "5151"))

	l := newLauncher(fake, clock.NewFake(epoch))
	if _, err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := l.Launch(context.Background()); err == nil {
		t.Error("second Launch should fail")
	}
}

func TestHandshake_AllFormsFail(t *testing.T) {
	fake := runnertest.New()
	for _, a := range elevation.DefaultCatalog {
		fake.Script(pidofKey(a), runnertest.Result(1, ""))
	}
	bridge := &adb.Bridge{Runner: fake}
	clk := clock.NewFake(epoch)
	h := &Handshake{
		Elevation: &elevation.Selector{Shell: bridge},
		Poller:    &liveness.Poller{Clock: clk, Interval: time.Second},
		Binary:    binary,
		Timeout:   12 * time.Second,
		Attempts:  12,
	}

	_, err := h.Verify(context.Background())
	var te *liveness.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *liveness.TimeoutError", err)
	}
	for _, a := range elevation.DefaultCatalog {
		if !strings.Contains(err.Error(), a.Label) {
			t.Errorf("error should list %q: %v", a.Label, err)
		}
		if n := fake.Count(pidofKey(a)); n != te.Attempts {
			t.Errorf("%s polled %d times, want %d", a.Label, n, te.Attempts)
		}
	}
	if te.Attempts != 12 {
		t.Errorf("Attempts = %d, want 12", te.Attempts)
	}
	if elapsed := clk.Now().Sub(epoch); elapsed != 11*time.Second {
		t.Errorf("elapsed = %s, want 11s", elapsed)
	}
}

func TestHandshake_Detected(t *testing.T) {
	fake := runnertest.New()
	fake.Script(pidofKey(formA), runnertest.Result(1, ""))
	// su 0 sh -c prints a banner but no pid until the third poll.
	fake.Script(pidofKey(formB), runnertest.Result(0, "su: warning\n"), runnertest.Result(0, "su: warning\n"), runnertest.Result(0, "7777\n"))
	h := &Handshake{
		Elevation: &elevation.Selector{Shell: &adb.Bridge{Runner: fake}},
		Poller:    &liveness.Poller{Clock: clock.NewFake(epoch)},
		Binary:    binary,
		Timeout:   12 * time.Second,
	}

	res, err := h.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Attempts != 3 || res.DetectedVia != formB.Label {
		t.Errorf("result = %+v", res)
	}
}

func TestActivityLauncher(t *testing.T) {
	const (
		pkg      = "com.squalr.android"
		explicit = "adb shell am start -n com.squalr.android/android.app.NativeActivity"
		resolve  = "adb shell cmd package resolve-activity --brief -a android.intent.action.MAIN -c android.intent.category.LAUNCHER com.squalr.android"
	)
	tests := []struct {
		name         string
		script       func(f *runnertest.Fake)
		want         string
		wantErr      bool
		wantNotFound bool
	}{
		{
			name: "explicit component",
			want: pkg + "/android.app.NativeActivity",
		},
		{
			name: "falls back to resolved component",
			script: func(f *runnertest.Fake) {
				f.Script(explicit, runnertest.Result(0, "Error type 3\nError: Activity class does not exist.\n"))
				f.Script(resolve, runnertest.Result(0, pkg+"/.MainActivity\n"))
			},
			want: pkg + "/.MainActivity",
		},
		{
			name: "nothing resolves",
			script: func(f *runnertest.Fake) {
				f.Script(explicit, runnertest.Result(1, ""))
				f.Script(resolve, runnertest.Result(0, "No activity found\n"))
			},
			wantErr:      true,
			wantNotFound: true,
		},
		{
			name: "resolved component fails",
			script: func(f *runnertest.Fake) {
				f.Script(explicit, runnertest.Result(1, ""))
				f.Script(resolve, runnertest.Result(0, pkg+"/.MainActivity\n"))
				f.Script("adb shell am start -n "+pkg+"/.MainActivity", runnertest.Result(1, ""))
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := runnertest.New()
			if tt.script != nil {
				tt.script(fake)
			}
			a := &ActivityLauncher{Bridge: &adb.Bridge{Runner: fake}}
			got, err := a.Launch(context.Background(), pkg, "android.app.NativeActivity")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if errors.Is(err, ErrNoLauncher) != tt.wantNotFound {
					t.Errorf("errors.Is(err, ErrNoLauncher) = %v, want %v", !tt.wantNotFound, tt.wantNotFound)
				}
				return
			}
			if err != nil {
				t.Fatalf("Launch: %v", err)
			}
			if got != tt.want {
				t.Errorf("component = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{NotStarted: "not-started", Starting: "starting", Confirmed: "confirmed", Failed: "failed"} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
