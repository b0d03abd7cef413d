package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofquorum/fault"
	"proofquorum/memstore"
	"proofquorum/proof"
	"proofquorum/trust"
)

func begin(t *testing.T, s *memstore.Store) pgx.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func create(t *testing.T, s *memstore.Store, id, submitter string) proof.Proof {
	t.Helper()
	tx := begin(t, s)
	p, err := s.Proofs().Create(context.Background(), tx, proof.Proof{ID: id, SubmitterID: submitter})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
	return p
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	s := memstore.New()
	tx := begin(t, s)
	_, err := s.Proofs().Create(context.Background(), tx, proof.Proof{ID: "p1", SubmitterID: "alice"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(context.Background()))

	_, err = s.Proofs().Get(context.Background(), "p1")
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.ErrorIs(t, tx.Commit(context.Background()), pgx.ErrTxClosed)
	assert.ErrorIs(t, tx.Rollback(context.Background()), pgx.ErrTxClosed)
}

func TestTx_WritesInvisibleUntilCommit(t *testing.T) {
	s := memstore.New()
	create(t, s, "p1", "alice")

	tx := begin(t, s)
	_, err := s.Proofs().GetForUpdate(context.Background(), tx, "p1")
	require.NoError(t, err)
	_, err = s.Proofs().IncrementCount(context.Background(), tx, "p1", proof.DecisionApprove)
	require.NoError(t, err)

	committed, err := s.Proofs().Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Zero(t, committed.ApprovalCount)

	require.NoError(t, tx.Commit(context.Background()))
	committed, err = s.Proofs().Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, committed.ApprovalCount)
}

func TestTx_RowLockBlocksUntilRelease(t *testing.T) {
	s := memstore.New()
	create(t, s, "p1", "alice")

	holder := begin(t, s)
	_, err := s.Proofs().GetForUpdate(context.Background(), holder, "p1")
	require.NoError(t, err)

	waiter := begin(t, s)
	defer waiter.Rollback(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Proofs().GetForUpdate(ctx, waiter, "p1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan error, 1)
	go func() {
		_, err := s.Proofs().GetForUpdate(context.Background(), waiter, "p1")
		acquired <- err
	}()
	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, holder.Rollback(context.Background()))
	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lock not released on rollback")
	}
}

func TestTx_DuplicateReviewRejectedAtCommit(t *testing.T) {
	s := memstore.New()
	create(t, s, "p1", "alice")

	a := begin(t, s)
	b := begin(t, s)
	for _, tx := range []pgx.Tx{a, b} {
		_, err := s.Proofs().InsertReview(context.Background(), tx, proof.Review{ProofID: "p1", ReviewerID: "bob", Decision: proof.DecisionApprove})
		require.NoError(t, err)
	}
	require.NoError(t, a.Commit(context.Background()))
	assert.ErrorIs(t, b.Commit(context.Background()), fault.ErrConflict)

	assert.Len(t, s.Snapshot().Reviews, 1)
}

func TestStore_FaultInjection(t *testing.T) {
	s := memstore.New()
	s.FailCommits(1)

	tx := begin(t, s)
	_, err := s.Proofs().Create(context.Background(), tx, proof.Proof{ID: "p1", SubmitterID: "alice"})
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Commit(context.Background()), memstore.ErrInjected)
	assert.Empty(t, s.Snapshot().Proofs)

	s.FailAfterCommit(1)
	tx = begin(t, s)
	_, err = s.Proofs().Create(context.Background(), tx, proof.Proof{ID: "p1", SubmitterID: "alice"})
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Commit(context.Background()), memstore.ErrInjected)
	assert.Len(t, s.Snapshot().Proofs, 1)

	create(t, s, "p2", "alice")
	assert.Len(t, s.Snapshot().Proofs, 2)
}

func TestTrustRepo_EnforcesRowConstraints(t *testing.T) {
	s := memstore.New()
	repo := s.Trust()

	tx := begin(t, s)
	_, err := repo.Save(context.Background(), tx, trust.NewProfile("alice", time.Now()))
	assert.ErrorIs(t, err, fault.ErrInvalidOperation, "save without lock")

	p, err := repo.LockOrCreate(context.Background(), tx, "alice")
	require.NoError(t, err)
	p.IsUntrusted = true
	_, err = repo.Save(context.Background(), tx, p)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	tx = begin(t, s)
	defer tx.Rollback(context.Background())
	p, err = repo.LockOrCreate(context.Background(), tx, "alice")
	require.NoError(t, err)
	p.IsUntrusted = false
	_, err = repo.Save(context.Background(), tx, p)
	assert.ErrorIs(t, err, trust.ErrInvalid)

	p.IsUntrusted = true
	p.Level = 0
	_, err = repo.Save(context.Background(), tx, p)
	assert.ErrorIs(t, err, trust.ErrInvalid)
}

func TestProofRepo_ListPendingForReviewer(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s := memstore.New()
	for i, id := range []string{"p3", "p1", "p2"} {
		tx := begin(t, s)
		_, err := s.Proofs().Create(context.Background(), tx, proof.Proof{ID: id, SubmitterID: "alice", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(context.Background()))
	}

	got, err := s.Proofs().ListPendingForReviewer(context.Background(), "bob", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p3", got[0].ID)
	assert.Equal(t, "p1", got[1].ID)

	got, err = s.Proofs().ListPendingForReviewer(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Proofs().ListPendingForReviewer(context.Background(), "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_CanceledBegin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := memstore.New().Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
