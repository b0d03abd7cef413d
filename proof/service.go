package proof

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"proofquorum/fault"
	"proofquorum/hook"
	"proofquorum/outbox"
	"proofquorum/trust"
)

// MaxCommentLength bounds a review comment, in runes.
const MaxCommentLength = 2000

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TrustLedger is the part of trust.Ledger the engine drives.
type TrustLedger interface {
	LevelForUpdate(ctx context.Context, tx pgx.Tx, userID string) (int, error)
	OnOutcome(ctx context.Context, tx pgx.Tx, userID string, outcome trust.Outcome) (trust.Transition, error)
	Report(t trust.Transition)
}

// EventWriter stores an outcome event in the consensus transaction.
type EventWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Notifier receives outcomes after commit. Dispatch must not block on delivery.
type Notifier interface {
	Dispatch(ctx context.Context, ev hook.Event)
}

// Metrics counts engine activity.
type Metrics interface {
	ReviewRecorded(decision string)
	ProofFinalized(status string)
	VoteRejected(kind string)
}

type noopMetrics struct{}

func (noopMetrics) ReviewRecorded(string) {}
func (noopMetrics) ProofFinalized(string) {}
func (noopMetrics) VoteRejected(string)   {}

// SubmitParams is one reviewer vote.
type SubmitParams struct {
	ProofID    string
	ReviewerID string
	Decision   Decision
	Comment    *string
}

func (p *SubmitParams) normalize() error {
	p.ProofID = strings.TrimSpace(p.ProofID)
	p.ReviewerID = strings.TrimSpace(p.ReviewerID)
	if p.ProofID == "" {
		return fmt.Errorf("%w: missing proof id", ErrInvalidInput)
	}
	if p.ReviewerID == "" {
		return fmt.Errorf("%w: missing reviewer id", ErrInvalidInput)
	}
	if !p.Decision.Valid() {
		return ErrInvalidDecision
	}
	if p.Comment != nil {
		c := strings.TrimSpace(*p.Comment)
		if c == "" {
			p.Comment = nil
		} else if utf8.RuneCountInString(c) > MaxCommentLength {
			return fmt.Errorf("%w: comment exceeds %d characters", ErrInvalidInput, MaxCommentLength)
		} else {
			p.Comment = &c
		}
	}
	return nil
}

// SubmitResult describes a committed vote. Trust is set only when the vote
// finalized the proof.
type SubmitResult struct {
	Proof     Proof
	Review    Review
	Finalized bool
	Trust     *trust.Transition
}

// Status is the proof status after the vote.
func (r SubmitResult) Status() Status {
	return r.Proof.Status
}

// Engine records reviewer votes and finalizes proofs once a threshold is met.
// A vote, its counter update, the finalization and the submitter's trust
// update commit together or not at all.
type Engine struct {
	pool     TxBeginner
	repo     Repository
	ledger   TrustLedger
	events   EventWriter
	notifier Notifier
	metrics  Metrics
	log      zerolog.Logger
	now      func() time.Time
	idGen    func() string

	retryAttempts uint64
	retryBase     time.Duration
}

func NewEngine(pool TxBeginner, repo Repository, ledger TrustLedger, log zerolog.Logger) *Engine {
	return &Engine{
		pool:          pool,
		repo:          repo,
		ledger:        ledger,
		metrics:       noopMetrics{},
		log:           log.With().Str("component", "consensus").Logger(),
		now:           time.Now,
		idGen:         uuid.NewString,
		retryAttempts: 3,
		retryBase:     25 * time.Millisecond,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.idGen = gen
	return e
}

func (e *Engine) WithMetrics(m Metrics) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) WithOutbox(w EventWriter) *Engine {
	e.events = w
	return e
}

func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithRetry sets how many times a transient failure is retried and the first
// backoff interval. Zero attempts disables retry.
func (e *Engine) WithRetry(attempts uint64, base time.Duration) *Engine {
	e.retryAttempts = attempts
	if base > 0 {
		e.retryBase = base
	}
	return e
}

// SubmitReview records a vote and, when it settles the proof, finalizes it and
// updates the submitter's trust profile in the same transaction.
func (e *Engine) SubmitReview(ctx context.Context, params SubmitParams) (SubmitResult, error) {
	if err := params.normalize(); err != nil {
		e.metrics.VoteRejected(fault.Kind(err))
		return SubmitResult{}, err
	}

	backoff := retry.WithMaxRetries(e.retryAttempts, retry.NewExponential(e.retryBase))

	var res SubmitResult
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := e.submitOnce(ctx, params)
		if err != nil {
			if fault.IsRetryable(err) {
				e.log.Warn().Err(err).Str("proof_id", params.ProofID).Str("reviewer_id", params.ReviewerID).Msg("retrying vote")
				return retry.RetryableError(err)
			}
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		e.metrics.VoteRejected(fault.Kind(err))
		return SubmitResult{}, err
	}

	e.afterCommit(ctx, res)
	return res, nil
}

func (e *Engine) submitOnce(ctx context.Context, params SubmitParams) (SubmitResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return SubmitResult{}, fault.Transient(fmt.Errorf("proof: begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	p, err := e.repo.GetForUpdate(ctx, tx, params.ProofID)
	if err != nil {
		return SubmitResult{}, fault.Transient(err)
	}
	if p.SubmitterID == params.ReviewerID {
		return SubmitResult{}, ErrSelfReview
	}

	voted, err := e.repo.HasReview(ctx, tx, p.ID, params.ReviewerID)
	if err != nil {
		return SubmitResult{}, fault.Transient(err)
	}
	if voted {
		return SubmitResult{}, ErrDuplicateVote
	}
	if p.Status != StatusPending {
		return SubmitResult{}, ErrNotPending
	}

	rev, err := e.repo.InsertReview(ctx, tx, Review{
		ID:         e.idGen(),
		ProofID:    p.ID,
		ReviewerID: params.ReviewerID,
		Decision:   params.Decision,
		Comment:    params.Comment,
		CreatedAt:  e.now().UTC(),
	})
	if err != nil {
		return SubmitResult{}, fault.Transient(err)
	}

	p, err = e.repo.IncrementCount(ctx, tx, p.ID, params.Decision)
	if err != nil {
		return SubmitResult{}, fault.Transient(err)
	}

	level, err := e.ledger.LevelForUpdate(ctx, tx, p.SubmitterID)
	if err != nil {
		return SubmitResult{}, fault.Transient(err)
	}

	res := SubmitResult{Review: rev}
	if status := Evaluate(p.ApprovalCount, p.RejectionCount, level); status.Final() {
		p, err = e.repo.Finalize(ctx, tx, p.ID, status, e.now().UTC())
		if err != nil {
			return SubmitResult{}, fault.Transient(err)
		}

		t, err := e.ledger.OnOutcome(ctx, tx, p.SubmitterID, trustOutcome(status))
		if err != nil {
			return SubmitResult{}, fault.Transient(err)
		}

		if e.events != nil {
			if err := e.events.Enqueue(ctx, tx, topicFor(status), map[string]any{
				"proof_id":        p.ID,
				"submitter_id":    p.SubmitterID,
				"status":          string(p.Status),
				"approval_count":  p.ApprovalCount,
				"rejection_count": p.RejectionCount,
				"trust_level":     t.LevelAfter,
			}); err != nil {
				return SubmitResult{}, fault.Transient(err)
			}
		}

		res.Finalized = true
		res.Trust = &t
	}
	res.Proof = p

	if err := tx.Commit(ctx); err != nil {
		return SubmitResult{}, fault.Transient(fmt.Errorf("proof: commit: %w", err))
	}
	return res, nil
}

func (e *Engine) afterCommit(ctx context.Context, res SubmitResult) {
	e.metrics.ReviewRecorded(string(res.Review.Decision))

	logEvt := e.log.Debug()
	if res.Finalized {
		logEvt = e.log.Info()
	}
	logEvt.Str("proof_id", res.Proof.ID).
		Str("reviewer_id", res.Review.ReviewerID).
		Str("decision", string(res.Review.Decision)).
		Str("status", string(res.Proof.Status)).
		Int("approvals", res.Proof.ApprovalCount).
		Int("rejections", res.Proof.RejectionCount).
		Msg("review recorded")

	if !res.Finalized {
		return
	}
	e.metrics.ProofFinalized(string(res.Proof.Status))
	if res.Trust != nil {
		e.ledger.Report(*res.Trust)
	}
	if e.notifier != nil {
		e.notifier.Dispatch(ctx, hook.Event{
			ProofID:     res.Proof.ID,
			SubmitterID: res.Proof.SubmitterID,
			Outcome:     hookOutcome(res.Proof.Status),
		})
	}
}

func trustOutcome(s Status) trust.Outcome {
	if s == StatusVerified {
		return trust.OutcomeVerified
	}
	return trust.OutcomeRejected
}

func hookOutcome(s Status) hook.Outcome {
	if s == StatusVerified {
		return hook.OutcomeVerified
	}
	return hook.OutcomeRejected
}

func topicFor(s Status) string {
	if s == StatusVerified {
		return outbox.TopicProofVerified
	}
	return outbox.TopicProofRejected
}
