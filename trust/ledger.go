package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"proofquorum/fault"
)

// Metrics receives trust level transitions.
type Metrics interface {
	TrustTransition(kind string)
}

type noopMetrics struct{}

func (noopMetrics) TrustTransition(string) {}

// Ledger applies outcome rules to trust profiles. It is the only writer of
// the trust_profiles table.
type Ledger struct {
	repo    Repository
	log     zerolog.Logger
	metrics Metrics
	now     func() time.Time
}

func NewLedger(repo Repository, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo:    repo,
		log:     log.With().Str("component", "trust_ledger").Logger(),
		metrics: noopMetrics{},
		now:     time.Now,
	}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) WithMetrics(m Metrics) *Ledger {
	l.metrics = m
	return l
}

// LevelForUpdate returns the user's current trust level and holds the profile
// row lock until tx ends. Users without a profile are at MinLevel.
func (l *Ledger) LevelForUpdate(ctx context.Context, tx pgx.Tx, userID string) (int, error) {
	p, found, err := l.repo.LockExisting(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if !found || p.Level < MinLevel {
		return MinLevel, nil
	}
	return p.Level, nil
}

// OnOutcome records a finalized outcome for userID inside tx.
func (l *Ledger) OnOutcome(ctx context.Context, tx pgx.Tx, userID string, outcome Outcome) (Transition, error) {
	if userID == "" {
		return Transition{}, fmt.Errorf("trust: missing user id: %w", ErrInvalid)
	}
	if outcome != OutcomeVerified && outcome != OutcomeRejected {
		return Transition{}, fmt.Errorf("trust: unknown outcome %q: %w", outcome, ErrInvalid)
	}

	current, err := l.repo.LockOrCreate(ctx, tx, userID)
	if err != nil {
		return Transition{}, err
	}

	next, t := Apply(current, outcome, l.now().UTC())
	if _, err := l.repo.Save(ctx, tx, next); err != nil {
		return Transition{}, err
	}
	return t, nil
}

// Report logs and counts a transition whose transaction has committed.
func (l *Ledger) Report(t Transition) {
	if !t.Changed() {
		return
	}
	l.log.Info().
		Str("user_id", t.UserID).
		Str("outcome", string(t.Outcome)).
		Int("level_before", t.LevelBefore).
		Int("level_after", t.LevelAfter).
		Bool("promoted", t.Promoted).
		Bool("demoted", t.Demoted).
		Bool("untrusted", t.FlaggedUntrusted).
		Msg("trust profile transitioned")
	if t.Promoted {
		l.metrics.TrustTransition("promoted")
	}
	if t.Demoted {
		l.metrics.TrustTransition("demoted")
	}
	if t.FlaggedUntrusted {
		l.metrics.TrustTransition("untrusted")
	}
}

// Profile returns the stored profile for userID.
func (l *Ledger) Profile(ctx context.Context, userID string) (Profile, error) {
	p, err := l.repo.Get(ctx, userID)
	if err != nil {
		return Profile{}, fault.Transient(err)
	}
	return p, nil
}
