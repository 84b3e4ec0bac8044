package action

import (
	"context"
	"errors"

	"github.com/oasisprotocol/nexus-ledger/log"
)

// Runner applies action lists. It never runs two actions concurrently.
type Runner struct {
	logger *log.Logger
}

func NewRunner(logger *log.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run performs actions strictly in order and stops at the first failure.
// The returned error is an *ActionError.
func (r *Runner) Run(ctx context.Context, actx *Context, actions []Action) error {
	for _, a := range actions {
		if err := Perform(ctx, actx, a); err != nil {
			p := a.Provenance()
			r.logger.Error("action failed",
				"action", a.String(),
				"height", p.BlockHeight,
				"block_hash", p.BlockHash,
				"extrinsic", p.ExtrinsicID,
				"err", err,
			)
			return err
		}
	}
	return nil
}

// Perform performs a single action, recording metrics and attaching
// provenance to a failure.
func Perform(ctx context.Context, actx *Context, a Action) error {
	if actx.Metrics != nil {
		timer := actx.Metrics.ActionLatencies(a.Kind())
		defer timer.ObserveDuration()
	}
	err := a.Perform(ctx, actx)
	if actx.Metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		actx.Metrics.Actions(a.Kind(), status).Inc()
	}
	if err == nil {
		return nil
	}

	// Failures of planned actions already carry their own provenance.
	var ae *ActionError
	if errors.As(err, &ae) {
		return err
	}
	return &ActionError{Action: a, Provenance: a.Provenance(), Err: err}
}
