package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"proofquorum/dispute"
)

// DisputeRepo implements dispute.Repository.
type DisputeRepo struct {
	s *Store
}

var _ dispute.Repository = (*DisputeRepo)(nil)

func (t *Tx) dispute(id string) (dispute.Record, bool) {
	if d, ok := t.disputes[id]; ok {
		return d, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	d, ok := t.s.disputes[id]
	return d, ok
}

// ProofState locks the proof row, which also serializes dispute inserts for it.
func (r *DisputeRepo) ProofState(ctx context.Context, tx pgx.Tx, proofID string) (dispute.ProofState, error) {
	t, err := txFrom(tx)
	if err != nil {
		return dispute.ProofState{}, err
	}
	if err := t.lock(ctx, "proof:"+proofID); err != nil {
		return dispute.ProofState{}, err
	}
	p, ok := t.proof(proofID)
	if !ok {
		return dispute.ProofState{}, dispute.ErrProofNotFound
	}
	return dispute.ProofState{SubmitterID: p.SubmitterID, Finalized: p.Status.Final()}, nil
}

func (r *DisputeRepo) Insert(_ context.Context, tx pgx.Tx, rec dispute.Record) (dispute.Record, error) {
	t, err := txFrom(tx)
	if err != nil {
		return dispute.Record{}, err
	}
	if r.hasOpen(t, rec.ProofID, rec.ReporterID) {
		return dispute.Record{}, dispute.ErrAlreadyOpen
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := r.s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.Status = dispute.StatusOpen
	rec.ResolverID, rec.ResolvedAt = nil, nil
	t.disputes[rec.ID] = rec
	return rec, nil
}

func (r *DisputeRepo) hasOpen(t *Tx, proofID, reporterID string) bool {
	match := func(d dispute.Record) bool {
		return d.Status == dispute.StatusOpen && d.ProofID == proofID && d.ReporterID == reporterID
	}
	for _, d := range t.disputes {
		if match(d) {
			return true
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, d := range r.s.disputes {
		if _, shadowed := t.disputes[id]; !shadowed && match(d) {
			return true
		}
	}
	return false
}

func (r *DisputeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (dispute.Record, error) {
	t, err := txFrom(tx)
	if err != nil {
		return dispute.Record{}, err
	}
	if err := t.lock(ctx, "dispute:"+id); err != nil {
		return dispute.Record{}, err
	}
	d, ok := t.dispute(id)
	if !ok {
		return dispute.Record{}, dispute.ErrNotFound
	}
	return d, nil
}

func (r *DisputeRepo) Settle(_ context.Context, tx pgx.Tx, id string, status dispute.Status, resolverID string, at time.Time) (dispute.Record, error) {
	t, err := txFrom(tx)
	if err != nil {
		return dispute.Record{}, err
	}
	d, ok := t.dispute(id)
	if !ok || d.Status != dispute.StatusOpen {
		return dispute.Record{}, dispute.ErrBadStatus
	}
	d.Status = status
	d.ResolverID = &resolverID
	d.ResolvedAt = &at
	d.UpdatedAt = at
	t.disputes[id] = d
	return d, nil
}

func (r *DisputeRepo) List(_ context.Context, proofID string) ([]dispute.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]dispute.Record, 0, 8)
	for _, d := range r.s.disputes {
		if proofID == "" || d.ProofID == proofID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
