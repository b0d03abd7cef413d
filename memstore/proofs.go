package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"proofquorum/fault"
	"proofquorum/proof"
)

// ProofRepo implements proof.Repository and proof.Reader.
type ProofRepo struct {
	s *Store
}

var (
	_ proof.Repository = (*ProofRepo)(nil)
	_ proof.Reader     = (*ProofRepo)(nil)
)

// proof returns the proof as tx sees it.
func (t *Tx) proof(id string) (proof.Proof, bool) {
	if p, ok := t.proofs[id]; ok {
		return p, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.proofs[id]
	return p, ok
}

func (t *Tx) reviewed(proofID, reviewerID string) bool {
	for _, r := range t.reviews[proofID] {
		if r.ReviewerID == reviewerID {
			return true
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, r := range t.s.reviews[proofID] {
		if r.ReviewerID == reviewerID {
			return true
		}
	}
	return false
}

func (r *ProofRepo) Create(ctx context.Context, tx pgx.Tx, p proof.Proof) (proof.Proof, error) {
	t, err := txFrom(tx)
	if err != nil {
		return proof.Proof{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := t.proof(p.ID); exists {
		return proof.Proof{}, fmt.Errorf("proof: create %s: %w", p.ID, fault.ErrConflict)
	}
	if err := t.lock(ctx, "proof:"+p.ID); err != nil {
		return proof.Proof{}, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.s.now().UTC()
	}
	p.Status = proof.StatusPending
	p.ApprovalCount, p.RejectionCount = 0, 0
	p.FinalizedAt = nil
	t.proofs[p.ID] = p
	return p, nil
}

func (r *ProofRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (proof.Proof, error) {
	t, err := txFrom(tx)
	if err != nil {
		return proof.Proof{}, err
	}
	if err := t.lock(ctx, "proof:"+id); err != nil {
		return proof.Proof{}, err
	}
	p, ok := t.proof(id)
	if !ok {
		return proof.Proof{}, proof.ErrNotFound
	}
	return p, nil
}

func (r *ProofRepo) HasReview(_ context.Context, tx pgx.Tx, proofID, reviewerID string) (bool, error) {
	t, err := txFrom(tx)
	if err != nil {
		return false, err
	}
	return t.reviewed(proofID, reviewerID), nil
}

func (r *ProofRepo) InsertReview(_ context.Context, tx pgx.Tx, rev proof.Review) (proof.Review, error) {
	t, err := txFrom(tx)
	if err != nil {
		return proof.Review{}, err
	}
	if _, ok := t.proof(rev.ProofID); !ok {
		return proof.Review{}, fmt.Errorf("proof: insert review: unknown proof %s", rev.ProofID)
	}
	if t.reviewed(rev.ProofID, rev.ReviewerID) {
		return proof.Review{}, proof.ErrDuplicateVote
	}
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = r.s.now().UTC()
	}
	t.reviews[rev.ProofID] = append(t.reviews[rev.ProofID], rev)
	return rev, nil
}

func (r *ProofRepo) IncrementCount(_ context.Context, tx pgx.Tx, id string, d proof.Decision) (proof.Proof, error) {
	t, err := txFrom(tx)
	if err != nil {
		return proof.Proof{}, err
	}
	p, ok := t.proof(id)
	if !ok || p.Status != proof.StatusPending {
		return proof.Proof{}, proof.ErrNotPending
	}
	switch d {
	case proof.DecisionApprove:
		p.ApprovalCount++
	case proof.DecisionReject:
		p.RejectionCount++
	default:
		return proof.Proof{}, proof.ErrInvalidDecision
	}
	t.proofs[id] = p
	return p, nil
}

func (r *ProofRepo) Finalize(_ context.Context, tx pgx.Tx, id string, status proof.Status, at time.Time) (proof.Proof, error) {
	t, err := txFrom(tx)
	if err != nil {
		return proof.Proof{}, err
	}
	if !status.Final() {
		return proof.Proof{}, fmt.Errorf("proof: finalize with non-terminal status %q: %w", status, fault.ErrInvalidOperation)
	}
	p, ok := t.proof(id)
	if !ok || p.Status != proof.StatusPending {
		return proof.Proof{}, proof.ErrNotPending
	}
	p.Status = status
	p.FinalizedAt = &at
	t.proofs[id] = p
	return p, nil
}

func (r *ProofRepo) Get(_ context.Context, id string) (proof.Proof, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.proofs[id]
	if !ok {
		return proof.Proof{}, proof.ErrNotFound
	}
	return p, nil
}

func (r *ProofRepo) ListReviews(_ context.Context, proofID string) ([]proof.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]proof.Review, len(r.s.reviews[proofID]))
	copy(out, r.s.reviews[proofID])
	return out, nil
}

func (r *ProofRepo) ListPendingForReviewer(_ context.Context, reviewerID string, limit int) ([]proof.Proof, error) {
	if limit <= 0 {
		return []proof.Proof{}, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]proof.Proof, 0, limit)
	for _, p := range r.s.proofs {
		if p.Status != proof.StatusPending || p.SubmitterID == reviewerID {
			continue
		}
		voted := false
		for _, rev := range r.s.reviews[p.ID] {
			if rev.ReviewerID == reviewerID {
				voted = true
				break
			}
		}
		if !voted {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return proofBefore(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
