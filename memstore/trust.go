package memstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"proofquorum/trust"
)

// TrustRepo implements trust.Repository.
type TrustRepo struct {
	s *Store
}

var _ trust.Repository = (*TrustRepo)(nil)

func (t *Tx) profile(userID string) (trust.Profile, bool) {
	if p, ok := t.profiles[userID]; ok {
		return p, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.profiles[userID]
	return p, ok
}

func (r *TrustRepo) LockExisting(ctx context.Context, tx pgx.Tx, userID string) (trust.Profile, bool, error) {
	t, err := txFrom(tx)
	if err != nil {
		return trust.Profile{}, false, err
	}
	if err := t.lock(ctx, "trust:"+userID); err != nil {
		return trust.Profile{}, false, err
	}
	p, ok := t.profile(userID)
	return p, ok, nil
}

func (r *TrustRepo) LockOrCreate(ctx context.Context, tx pgx.Tx, userID string) (trust.Profile, error) {
	p, found, err := r.LockExisting(ctx, tx, userID)
	if err != nil || found {
		return p, err
	}
	t, _ := txFrom(tx)
	p = trust.NewProfile(userID, r.s.now().UTC())
	t.profiles[userID] = p
	return p, nil
}

// Save enforces the same row constraints as the trust_profiles table.
func (r *TrustRepo) Save(_ context.Context, tx pgx.Tx, p trust.Profile) (trust.Profile, error) {
	t, err := txFrom(tx)
	if err != nil {
		return trust.Profile{}, err
	}
	if _, ok := t.held["trust:"+p.UserID]; !ok {
		return trust.Profile{}, fmt.Errorf("trust: save %s without row lock: %w", p.UserID, trust.ErrInvalid)
	}
	current, ok := t.profile(p.UserID)
	if !ok {
		return trust.Profile{}, trust.ErrNotFound
	}
	if p.Level < trust.MinLevel {
		return trust.Profile{}, fmt.Errorf("trust: level %d below floor: %w", p.Level, trust.ErrInvalid)
	}
	if current.IsUntrusted && !p.IsUntrusted {
		return trust.Profile{}, fmt.Errorf("trust: untrusted flag cannot be cleared: %w", trust.ErrInvalid)
	}
	t.profiles[p.UserID] = p
	return p, nil
}

func (r *TrustRepo) Get(_ context.Context, userID string) (trust.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[userID]
	if !ok {
		return trust.Profile{}, trust.ErrNotFound
	}
	return p, nil
}
