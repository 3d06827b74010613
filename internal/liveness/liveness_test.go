package liveness

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/deixis/droidship/internal/clock"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// detectAt returns a probe that succeeds once the fake clock reaches at.
func detectAt(clk *clock.Fake, at time.Duration) Probe {
	return func(context.Context) (bool, string, error) {
		if clk.Now().Sub(epoch) >= at {
			return true, "su 0 sh -c", nil
		}
		return false, "", nil
	}
}

func never(context.Context) (bool, string, error) { return false, "", nil }

func TestPoll_DetectsEarly(t *testing.T) {
	clk := clock.NewFake(epoch)
	p := &Poller{Clock: clk, Interval: time.Second}

	res, err := p.Poll(context.Background(), Request{
		What:    "squalr-cli",
		Timeout: 10 * time.Second,
		Probe:   detectAt(clk, 3*time.Second),
	})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Elapsed != 3*time.Second {
		t.Errorf("Elapsed = %s, want 3s", res.Elapsed)
	}
	if res.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4 (t=0,1,2,3)", res.Attempts)
	}
	if res.DetectedVia != "su 0 sh -c" {
		t.Errorf("DetectedVia = %q", res.DetectedVia)
	}
}

func TestPoll_ImmediateDetectionDoesNotSleep(t *testing.T) {
	clk := clock.NewFake(epoch)
	p := &Poller{Clock: clk}
	res, err := p.Poll(context.Background(), Request{Timeout: 10 * time.Second, Probe: detectAt(clk, 0)})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Attempts != 1 || len(clk.Sleeps()) != 0 {
		t.Errorf("Attempts = %d, sleeps = %v", res.Attempts, clk.Sleeps())
	}
}

func TestPoll_TimeoutBounded(t *testing.T) {
	tests := []struct {
		timeout  time.Duration
		interval time.Duration
		latency  time.Duration
	}{
		{10 * time.Second, time.Second, 0},
		{10 * time.Second, 3 * time.Second, 0},
		{12 * time.Second, time.Second, 400 * time.Millisecond},
		{2500 * time.Millisecond, time.Second, 0},
	}
	for _, tt := range tests {
		clk := clock.NewFake(epoch)
		p := &Poller{Clock: clk, Interval: tt.interval}
		probe := func(context.Context) (bool, string, error) {
			clk.Advance(tt.latency)
			return false, "", nil
		}

		_, err := p.Poll(context.Background(), Request{What: "worker", Timeout: tt.timeout, Probe: probe})
		var te *TimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("%+v: err = %v, want *TimeoutError", tt, err)
		}
		elapsed := clk.Now().Sub(epoch)
		if elapsed < tt.timeout {
			t.Errorf("%+v: gave up at %s, before the deadline", tt, elapsed)
		}
		if elapsed > tt.timeout+tt.interval {
			t.Errorf("%+v: returned at %s, later than deadline+interval", tt, elapsed)
		}
		for _, s := range clk.Sleeps() {
			if s > tt.interval {
				t.Errorf("%+v: slept %s, longer than the interval", tt, s)
			}
		}
	}
}

func TestPoll_MaxAttempts(t *testing.T) {
	clk := clock.NewFake(epoch)
	p := &Poller{Clock: clk, Interval: time.Second}
	calls := 0
	probe := func(context.Context) (bool, string, error) {
		calls++
		return false, "", nil
	}

	_, err := p.Poll(context.Background(), Request{What: "worker", Timeout: 12 * time.Second, MaxAttempts: 12, Probe: probe})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if calls != 12 || te.Attempts != 12 {
		t.Errorf("probes = %d, Attempts = %d, want 12", calls, te.Attempts)
	}
	if got := len(clk.Sleeps()); got != 11 {
		t.Errorf("slept %d times, want 11", got)
	}
}

func TestPoll_DeadlineFixedAtEntry(t *testing.T) {
	clk := clock.NewFake(epoch)
	p := &Poller{Clock: clk, Interval: time.Second}
	// Each probe takes 2s: a counted-iteration loop would run 10 probes
	// and take 30s; a fixed deadline stops after the window closes.
	probe := func(context.Context) (bool, string, error) {
		clk.Advance(2 * time.Second)
		return false, "", nil
	}
	_, err := p.Poll(context.Background(), Request{Timeout: 10 * time.Second, Probe: probe})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v", err)
	}
	if te.Attempts >= 10 {
		t.Errorf("Attempts = %d, deadline was not honoured", te.Attempts)
	}
	if elapsed := clk.Now().Sub(epoch); elapsed > 12*time.Second {
		t.Errorf("elapsed = %s", elapsed)
	}
}

func TestPoll_LauncherExitedStopsImmediately(t *testing.T) {
	clk := clock.NewFake(epoch)
	p := &Poller{Clock: clk, Interval: time.Second}
	probes := 0
	probe := func(context.Context) (bool, string, error) {
		probes++
		return false, "", nil
	}
	exited := func() bool { return probes >= 2 }

	_, err := p.Poll(context.Background(), Request{What: "squalr-cli", Timeout: 10 * time.Second, Probe: probe, Exited: exited})
	var le *LauncherExitedError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LauncherExitedError", err)
	}
	if probes != 2 {
		t.Errorf("probes = %d, want 2", probes)
	}
	if elapsed := clk.Now().Sub(epoch); elapsed != time.Second {
		t.Errorf("elapsed = %s, want 1s", elapsed)
	}
}

func TestPoll_DetectionBeatsLauncherExit(t *testing.T) {
	clk := clock.NewFake(epoch)
	p := &Poller{Clock: clk}
	// The launcher shell exits as soon as the worker daemonizes; seeing
	// the worker on the same poll is still a success.
	res, err := p.Poll(context.Background(), Request{
		Timeout: 10 * time.Second,
		Probe:   detectAt(clk, 2*time.Second),
		Exited:  func() bool { return clk.Now().Sub(epoch) >= 2*time.Second },
	})
	if err != nil || !res.Detected {
		t.Fatalf("Poll = %+v, %v", res, err)
	}
}

func TestPoll_ProbeError(t *testing.T) {
	boom := errors.New("adb: device offline")
	p := &Poller{Clock: clock.NewFake(epoch)}
	_, err := p.Poll(context.Background(), Request{
		Timeout: time.Second,
		Probe:   func(context.Context) (bool, string, error) { return false, "", boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{Interval: time.Hour} // real clock: only cancellation can end the wait
	done := make(chan error, 1)
	go func() {
		_, err := p.Poll(ctx, Request{Timeout: 2 * time.Hour, Probe: never})
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Poll did not return after cancel")
	}
}

func TestTimeoutError_ListsTried(t *testing.T) {
	clk := clock.NewFake(epoch)
	p := &Poller{Clock: clk}
	tried := []string{"su -c", "su 0 sh -c", "su root sh -c"}
	_, err := p.Poll(context.Background(), Request{What: "squalr-cli", Timeout: 12 * time.Second, Probe: never, Tried: tried})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, label := range tried {
		if !strings.Contains(err.Error(), label) {
			t.Errorf("error %q should list %q", err, label)
		}
	}
}
