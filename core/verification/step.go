package verification

import (
	"context"

	"github.com/trezcool/presence/core"
)

// Step is one verification factor of an attempt.
// Run owns every resource it acquires and releases it before returning, on every path.
type Step interface {
	Kind() StepKind
	Run(ctx context.Context, sess *Session) (StepResult, error)
}

// ErrStepTimeout fails a step whose input never arrived in time.
var ErrStepTimeout = core.NewVerificationError(
	core.ReasonStepTimeout,
	"this step took too long: try again",
)

func newResult(kind StepKind) StepResult {
	return StepResult{Kind: kind, Timestamp: core.NowFunc().UTC()}
}

// timedOut reports whether ctx ended because its deadline passed, as opposed to being cancelled.
func timedOut(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
