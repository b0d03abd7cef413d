package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"proofquorum/dispute"
	"proofquorum/fault"
	"proofquorum/outbox"
	"proofquorum/proof"
)

// Expected reports whether err is an outcome the services are allowed to
// return under contention and chaos.
func Expected(err error) bool {
	return err == nil ||
		errors.Is(err, fault.ErrConflict) ||
		errors.Is(err, fault.ErrInvalidOperation) ||
		errors.Is(err, fault.ErrTransient) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(lo, spread int) {
	time.Sleep(time.Duration(lo+rand.Intn(spread)) * time.Millisecond)
}

// Submitter keeps creating proofs for one user.
func Submitter(ctx context.Context, reg *proof.Registry, userID string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := reg.Submit(ctx, userID); !Expected(err) {
			return fmt.Errorf("submitter %s: %w", userID, err)
		}
		pause(40, 60)
	}
	return nil
}

// Reviewer drains its queue, voting mostly approve. Peers pull from the same
// queue so votes race on the same proofs.
func Reviewer(ctx context.Context, q *proof.Queue, engine *proof.Engine, reviewerID string, approveRatio float64, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		pending, err := q.Pending(ctx, reviewerID, 5)
		if !Expected(err) {
			return fmt.Errorf("reviewer %s queue: %w", reviewerID, err)
		}
		for _, p := range pending {
			decision := proof.DecisionReject
			if rand.Float64() < approveRatio {
				decision = proof.DecisionApprove
			}
			_, err := engine.SubmitReview(ctx, proof.SubmitParams{ProofID: p.ID, ReviewerID: reviewerID, Decision: decision})
			if !Expected(err) {
				return fmt.Errorf("reviewer %s vote on %s: %w", reviewerID, p.ID, err)
			}
		}
		pause(10, 30)
	}
	return nil
}

// DoubleVoter replays the same vote concurrently with itself; at most one may land.
func DoubleVoter(ctx context.Context, q *proof.Queue, engine *proof.Engine, reviewerID string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		pending, err := q.Pending(ctx, reviewerID, 1)
		if !Expected(err) {
			return fmt.Errorf("double voter queue: %w", err)
		}
		for _, p := range pending {
			params := proof.SubmitParams{ProofID: p.ID, ReviewerID: reviewerID, Decision: proof.DecisionReject}
			errs := make(chan error, 2)
			for i := 0; i < 2; i++ {
				go func() {
					_, err := engine.SubmitReview(ctx, params)
					errs <- err
				}()
			}
			for i := 0; i < 2; i++ {
				if err := <-errs; !Expected(err) {
					return fmt.Errorf("double voter on %s: %w", p.ID, err)
				}
			}
		}
		pause(50, 100)
	}
	return nil
}

// Disputer opens disputes on finalized proofs it learns about from ids.
func Disputer(ctx context.Context, svc *dispute.Service, reporterID string, ids <-chan string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case id := <-ids:
			_, err := svc.Submit(ctx, dispute.SubmitParams{
				ProofID:     id,
				ReporterID:  reporterID,
				Reason:      dispute.ReasonOther,
				Description: "stress dispute",
			})
			if !Expected(err) {
				return fmt.Errorf("disputer on %s: %w", id, err)
			}
		}
	}
}

// OutboxWorker drains the outbox concurrently with other workers.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		// publish failures are counted by the relay and retried on the next drain
		_, _ = relay.Drain(ctx)
		pause(50, 100)
	}
	return nil
}
