package trust_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofquorum/fault"
	"proofquorum/memstore"
	"proofquorum/trust"
)

type transitionCounter map[string]int

func (c transitionCounter) TrustTransition(kind string) { c[kind]++ }

func record(t *testing.T, store *memstore.Store, ledger *trust.Ledger, userID string, outcomes ...trust.Outcome) trust.Transition {
	t.Helper()
	var last trust.Transition
	for _, o := range outcomes {
		tx, err := store.Begin(context.Background())
		require.NoError(t, err)
		last, err = ledger.OnOutcome(context.Background(), tx, userID, o)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(context.Background()))
	}
	return last
}

func TestLedger_LevelForUpdateDefaultsToMinimum(t *testing.T) {
	store := memstore.New()
	ledger := trust.NewLedger(store.Trust(), zerolog.Nop())

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	level, err := ledger.LevelForUpdate(context.Background(), tx, "newcomer")
	require.NoError(t, err)
	assert.Equal(t, trust.MinLevel, level)

	_, err = ledger.Profile(context.Background(), "newcomer")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestLedger_CreatesProfileOnFirstOutcome(t *testing.T) {
	store := memstore.New()
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ledger := trust.NewLedger(store.Trust(), zerolog.Nop()).WithClock(func() time.Time { return at })

	tr := record(t, store, ledger, "alice", trust.OutcomeVerified)
	assert.Equal(t, trust.MinLevel, tr.LevelAfter)
	assert.False(t, tr.Changed())

	p, err := ledger.Profile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ApprovedCount)
	assert.Equal(t, at, p.UpdatedAt)
}

func TestLedger_PromotesOnFifthApproval(t *testing.T) {
	store := memstore.New()
	counts := transitionCounter{}
	ledger := trust.NewLedger(store.Trust(), zerolog.Nop()).WithMetrics(counts)

	record(t, store, ledger, "alice", trust.OutcomeVerified, trust.OutcomeVerified, trust.OutcomeVerified, trust.OutcomeVerified)
	tr := record(t, store, ledger, "alice", trust.OutcomeVerified)
	require.True(t, tr.Promoted)
	ledger.Report(tr)

	p, err := ledger.Profile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 1, counts["promoted"])
}

func TestLedger_FlagsUntrustedForGood(t *testing.T) {
	store := memstore.New()
	counts := transitionCounter{}
	ledger := trust.NewLedger(store.Trust(), zerolog.Nop()).WithMetrics(counts)

	var outcomes []trust.Outcome
	for i := 0; i < 4; i++ {
		outcomes = append(outcomes, trust.OutcomeVerified)
	}
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes, trust.OutcomeRejected)
	}
	record(t, store, ledger, "mallory", outcomes...)
	tr := record(t, store, ledger, "mallory", trust.OutcomeRejected)
	require.True(t, tr.FlaggedUntrusted)
	ledger.Report(tr)

	for i := 0; i < 20; i++ {
		record(t, store, ledger, "mallory", trust.OutcomeVerified)
	}
	p, err := ledger.Profile(context.Background(), "mallory")
	require.NoError(t, err)
	assert.True(t, p.IsUntrusted)
	assert.Equal(t, 1, counts["untrusted"])
}

func TestLedger_RollbackDiscardsOutcome(t *testing.T) {
	store := memstore.New()
	ledger := trust.NewLedger(store.Trust(), zerolog.Nop())

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	_, err = ledger.OnOutcome(context.Background(), tx, "alice", trust.OutcomeRejected)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(context.Background()))

	_, err = ledger.Profile(context.Background(), "alice")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestLedger_RejectsBadInput(t *testing.T) {
	store := memstore.New()
	ledger := trust.NewLedger(store.Trust(), zerolog.Nop())
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	_, err = ledger.OnOutcome(context.Background(), tx, "", trust.OutcomeVerified)
	assert.ErrorIs(t, err, fault.ErrInvalidOperation)
	_, err = ledger.OnOutcome(context.Background(), tx, "alice", "pending")
	assert.ErrorIs(t, err, fault.ErrInvalidOperation)
}

func TestLedger_ReportIgnoresUnchanged(t *testing.T) {
	counts := transitionCounter{}
	ledger := trust.NewLedger(memstore.New().Trust(), zerolog.Nop()).WithMetrics(counts)

	ledger.Report(trust.Transition{UserID: "alice", LevelBefore: 1, LevelAfter: 1})
	assert.Empty(t, counts)
}
