// Package hook fans finalized proof outcomes out to external collaborators
// after the consensus transaction has committed.
//
// Delivery is best effort. A failing hook is retried a bounded number of
// times, guarded by a per-hook circuit breaker, and finally logged. Nothing
// here can undo or fail the vote that produced the event.
package hook

import (
	"context"
	"fmt"
)

// Outcome of a finalized proof.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeRejected Outcome = "rejected"
)

// Event is published once per finalized proof.
type Event struct {
	ProofID     string
	SubmitterID string
	Outcome     Outcome
}

// Hooks is implemented by collaborators such as session completion, reward
// issuance and notification dispatch. Return values are only used for logging
// and retry.
type Hooks interface {
	OnProofVerified(ctx context.Context, proofID, submitterID string) error
	OnProofRejected(ctx context.Context, proofID, submitterID string) error
}

// Funcs adapts plain functions to Hooks. Nil fields are no-ops.
type Funcs struct {
	Verified func(ctx context.Context, proofID, submitterID string) error
	Rejected func(ctx context.Context, proofID, submitterID string) error
}

func (f Funcs) OnProofVerified(ctx context.Context, proofID, submitterID string) error {
	if f.Verified == nil {
		return nil
	}
	return f.Verified(ctx, proofID, submitterID)
}

func (f Funcs) OnProofRejected(ctx context.Context, proofID, submitterID string) error {
	if f.Rejected == nil {
		return nil
	}
	return f.Rejected(ctx, proofID, submitterID)
}

func deliver(ctx context.Context, h Hooks, ev Event) error {
	switch ev.Outcome {
	case OutcomeVerified:
		return h.OnProofVerified(ctx, ev.ProofID, ev.SubmitterID)
	case OutcomeRejected:
		return h.OnProofRejected(ctx, ev.ProofID, ev.SubmitterID)
	default:
		return fmt.Errorf("hook: unknown outcome %q", ev.Outcome)
	}
}
