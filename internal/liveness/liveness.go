// Package liveness polls the device until a launched process shows up.
//
// A zero exit from the command that started a process on the device
// says nothing about whether the process survived, so launches are
// confirmed by polling the process table instead.
package liveness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/deixis/droidship/internal/clock"
)

// DefaultInterval is the poll cadence.
const DefaultInterval = time.Second

// Probe asks the device once whether the target is alive. via names
// the mechanism that observed it, e.g. the elevation form used.
type Probe func(ctx context.Context) (detected bool, via string, err error)

// Request describes one polling run.
type Request struct {
	What    string        // target description for messages
	Timeout time.Duration // deadline is start + Timeout
	Probe   Probe

	// MaxAttempts caps the number of probes; zero leaves only the
	// deadline.
	MaxAttempts int

	// Exited reports whether the launching shell has already exited.
	// Nil when there is no launcher to watch.
	Exited func() bool

	// Tried lists the mechanisms each probe goes through. It is only
	// used to make failure messages complete.
	Tried []string
}

// Result is the outcome of a successful poll.
type Result struct {
	Detected    bool          `json:"detected"`
	DetectedVia string        `json:"detected_via,omitempty"`
	Attempts    int           `json:"attempts"`
	Elapsed     time.Duration `json:"elapsed"`
}

// TimeoutError is returned when the deadline passes with no detection.
type TimeoutError struct {
	What     string
	Timeout  time.Duration
	Attempts int
	Tried    []string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("no running %s was detected within %s (%d polls)", e.What, e.Timeout, e.Attempts)
	if len(e.Tried) > 0 {
		msg += "; tried: " + strings.Join(e.Tried, ", ")
	}
	return msg
}

// LauncherExitedError is returned when the launching shell exits before
// the target was detected.
type LauncherExitedError struct {
	What     string
	Attempts int
	Elapsed  time.Duration
}

func (e *LauncherExitedError) Error() string {
	return fmt.Sprintf("launcher for %s exited after %s before the process was detected (%d polls)",
		e.What, e.Elapsed.Round(time.Millisecond), e.Attempts)
}

// Poller runs bounded polling loops.
type Poller struct {
	Clock    clock.Clock   // defaults to the real clock
	Interval time.Duration // defaults to DefaultInterval
	Logger   *slog.Logger
}

// Poll probes until the target is detected, the launcher exits, the
// deadline passes or ctx is cancelled. The deadline is fixed once on
// entry, so slow probes shorten the remaining window rather than
// extending it. The last probe happens at the deadline, so Poll returns
// no later than deadline plus one probe's latency. MaxAttempts can end
// the loop earlier.
func (p *Poller) Poll(ctx context.Context, req Request) (*Result, error) {
	clk := p.clock()
	interval := p.interval()
	start := clk.Now()
	deadline := start.Add(req.Timeout)

	for attempt := 1; ; attempt++ {
		detected, via, err := req.Probe(ctx)
		if err != nil {
			return nil, err
		}
		now := clk.Now()
		if detected {
			p.logger().Info("process detected", "what", req.What, "via", via, "attempts", attempt)
			return &Result{
				Detected:    true,
				DetectedVia: via,
				Attempts:    attempt,
				Elapsed:     now.Sub(start),
			}, nil
		}
		if req.Exited != nil && req.Exited() {
			return nil, &LauncherExitedError{What: req.What, Attempts: attempt, Elapsed: now.Sub(start)}
		}
		if !now.Before(deadline) || (req.MaxAttempts > 0 && attempt >= req.MaxAttempts) {
			return nil, &TimeoutError{What: req.What, Timeout: req.Timeout, Attempts: attempt, Tried: req.Tried}
		}

		wait := min(interval, deadline.Sub(now))
		p.logger().Debug("process not detected yet", "what", req.What, "attempt", attempt, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clk.After(wait):
		}
	}
}

func (p *Poller) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.Real()
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultInterval
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
