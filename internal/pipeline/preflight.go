package pipeline

import (
	"context"
	"fmt"

	"github.com/deixis/droidship/internal/report"
)

// Preflight validates the host and, with checkDevice, the attached
// device without building or touching anything.
func (e *Engine) Preflight(ctx context.Context, checkDevice bool) (*report.RunResult, error) {
	t := e.newRun(report.Preflight)
	bridge := e.Bridge()
	err := t.stage(ctx, StagePreflight, KindEnvironment, func() (string, error) {
		rep, err := e.validator(bridge).Validate(ctx, checkDevice)
		t.rr.Preflight = rep
		if err != nil {
			return "", err
		}
		e.pin(bridge, t.rr, rep.Serial)
		return fmt.Sprintf("%d checks passed", len(rep.Checks)), nil
	})
	return t.finish(err)
}
