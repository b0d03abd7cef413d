package dispute_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofquorum/dispute"
	"proofquorum/fault"
	"proofquorum/memstore"
	"proofquorum/proof"
)

type disputeFixture struct {
	store   *memstore.Store
	svc     *dispute.Service
	settled map[string]int
	opened  map[string]int
}

func (f *disputeFixture) DisputeOpened(reason string)  { f.opened[reason]++ }
func (f *disputeFixture) DisputeSettled(status string) { f.settled[status]++ }

func newDisputeFixture(t *testing.T) *disputeFixture {
	t.Helper()
	var tick atomic.Int64
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }

	store := memstore.New().WithClock(clock)
	f := &disputeFixture{store: store, settled: map[string]int{}, opened: map[string]int{}}
	f.svc = dispute.NewService(store, store.Disputes(), zerolog.Nop()).WithClock(clock).WithMetrics(f)

	finalized := base
	store.SeedProof(proof.Proof{ID: "p-verified", SubmitterID: "alice", Status: proof.StatusVerified, ApprovalCount: 2, CreatedAt: base, FinalizedAt: &finalized})
	store.SeedProof(proof.Proof{ID: "p-rejected", SubmitterID: "alice", Status: proof.StatusRejected, RejectionCount: 2, CreatedAt: base, FinalizedAt: &finalized})
	store.SeedProof(proof.Proof{ID: "p-pending", SubmitterID: "alice", Status: proof.StatusPending, CreatedAt: base})
	return f
}

func (f *disputeFixture) open(proofID, reporter string) (dispute.Record, error) {
	return f.svc.Submit(context.Background(), dispute.SubmitParams{
		ProofID:     proofID,
		ReporterID:  reporter,
		Reason:      dispute.ReasonFakeEvidence,
		Description: "photo is from a stock site",
	})
}

func TestSubmit_OpensDisputeOnFinalizedProof(t *testing.T) {
	f := newDisputeFixture(t)

	rec, err := f.open("p-verified", "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, dispute.StatusOpen, rec.Status)
	assert.Equal(t, "bob", rec.ReporterID)
	assert.Nil(t, rec.ResolverID)
	assert.Nil(t, rec.ResolvedAt)
	assert.Equal(t, 1, f.opened[string(dispute.ReasonFakeEvidence)])

	_, err = f.open("p-rejected", "bob")
	require.NoError(t, err)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newDisputeFixture(t)
	long := strings.Repeat("x", dispute.MaxDescriptionLength+1)

	tests := []struct {
		name   string
		params dispute.SubmitParams
		want   error
	}{
		{"pending proof", dispute.SubmitParams{ProofID: "p-pending", ReporterID: "bob", Reason: dispute.ReasonOther, Description: "too early"}, dispute.ErrProofPending},
		{"unknown proof", dispute.SubmitParams{ProofID: "nope", ReporterID: "bob", Reason: dispute.ReasonOther, Description: "?"}, fault.ErrNotFound},
		{"missing reporter", dispute.SubmitParams{ProofID: "p-verified", Reason: dispute.ReasonOther, Description: "?"}, fault.ErrInvalidOperation},
		{"unknown reason", dispute.SubmitParams{ProofID: "p-verified", ReporterID: "bob", Reason: "spite", Description: "?"}, fault.ErrInvalidOperation},
		{"blank description", dispute.SubmitParams{ProofID: "p-verified", ReporterID: "bob", Reason: dispute.ReasonOther, Description: "   "}, fault.ErrInvalidOperation},
		{"long description", dispute.SubmitParams{ProofID: "p-verified", ReporterID: "bob", Reason: dispute.ReasonOther, Description: long}, fault.ErrInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.store.Snapshot().Disputes)
}

func TestSubmit_OneOpenDisputePerReporter(t *testing.T) {
	f := newDisputeFixture(t)

	first, err := f.open("p-verified", "bob")
	require.NoError(t, err)

	_, err = f.open("p-verified", "bob")
	assert.ErrorIs(t, err, dispute.ErrAlreadyOpen)
	assert.ErrorIs(t, err, fault.ErrConflict)

	_, err = f.open("p-verified", "carol")
	require.NoError(t, err)

	_, err = f.svc.Resolve(context.Background(), dispute.ResolveParams{DisputeID: first.ID, ResolverID: "mod", Status: dispute.StatusDismissed})
	require.NoError(t, err)

	_, err = f.open("p-verified", "bob")
	assert.NoError(t, err)
}

func TestSubmit_ConcurrentDuplicatesOpenOnce(t *testing.T) {
	f := newDisputeFixture(t)

	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), dispute.SubmitParams{
				ProofID: "p-verified", ReporterID: "bob", Reason: dispute.ReasonDuplicateSubmission, Description: "same as last week",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, fault.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 9, conflicts.Load())
	assert.Len(t, f.store.Snapshot().Disputes, 1)
}

func TestSubmit_DoesNotTouchProof(t *testing.T) {
	f := newDisputeFixture(t)
	before := f.store.Snapshot().Proofs

	_, err := f.open("p-verified", "bob")
	require.NoError(t, err)

	assert.Equal(t, before, f.store.Snapshot().Proofs)
}

func TestResolve(t *testing.T) {
	f := newDisputeFixture(t)
	rec, err := f.open("p-verified", "bob")
	require.NoError(t, err)

	got, err := f.svc.Resolve(context.Background(), dispute.ResolveParams{DisputeID: rec.ID, ResolverID: " mod ", Status: dispute.StatusResolved})
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusResolved, got.Status)
	require.NotNil(t, got.ResolverID)
	assert.Equal(t, "mod", *got.ResolverID)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.UpdatedAt.After(rec.CreatedAt))
	assert.Equal(t, 1, f.settled["resolved"])

	_, err = f.svc.Resolve(context.Background(), dispute.ResolveParams{DisputeID: rec.ID, ResolverID: "mod", Status: dispute.StatusDismissed})
	assert.ErrorIs(t, err, dispute.ErrBadStatus)
}

func TestResolve_Rejections(t *testing.T) {
	f := newDisputeFixture(t)
	rec, err := f.open("p-verified", "bob")
	require.NoError(t, err)

	_, err = f.svc.Resolve(context.Background(), dispute.ResolveParams{DisputeID: rec.ID, ResolverID: "mod", Status: dispute.StatusOpen})
	assert.ErrorIs(t, err, fault.ErrInvalidOperation)

	_, err = f.svc.Resolve(context.Background(), dispute.ResolveParams{DisputeID: rec.ID, Status: dispute.StatusResolved})
	assert.ErrorIs(t, err, fault.ErrInvalidOperation)

	_, err = f.svc.Resolve(context.Background(), dispute.ResolveParams{DisputeID: "missing", ResolverID: "mod", Status: dispute.StatusResolved})
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	f := newDisputeFixture(t)
	a, err := f.open("p-verified", "bob")
	require.NoError(t, err)
	b, err := f.open("p-rejected", "bob")
	require.NoError(t, err)
	c, err := f.open("p-verified", "carol")
	require.NoError(t, err)

	all, err := f.svc.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	one, err := f.svc.List(context.Background(), " p-verified ")
	require.NoError(t, err)
	require.Len(t, one, 2)
	assert.Equal(t, c.ID, one[0].ID)
}
