package proof

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"proofquorum/fault"
)

// Registry accepts new proofs and serves read-only lookups.
type Registry struct {
	pool   TxBeginner
	repo   Repository
	reader Reader
	now    func() time.Time
	idGen  func() string
}

func NewRegistry(pool TxBeginner, repo Repository, reader Reader) *Registry {
	return &Registry{pool: pool, repo: repo, reader: reader, now: time.Now, idGen: uuid.NewString}
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) WithIDGenerator(gen func() string) *Registry {
	r.idGen = gen
	return r
}

// Submit creates a PENDING proof with zero counters.
func (r *Registry) Submit(ctx context.Context, submitterID string) (Proof, error) {
	submitterID = strings.TrimSpace(submitterID)
	if submitterID == "" {
		return Proof{}, fmt.Errorf("%w: missing submitter id", ErrInvalidInput)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Proof{}, fault.Transient(fmt.Errorf("proof: begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	p, err := r.repo.Create(ctx, tx, Proof{
		ID:          r.idGen(),
		SubmitterID: submitterID,
		Status:      StatusPending,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		return Proof{}, fault.Transient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Proof{}, fault.Transient(fmt.Errorf("proof: commit: %w", err))
	}
	return p, nil
}

func (r *Registry) Get(ctx context.Context, id string) (Proof, error) {
	p, err := r.reader.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Proof{}, fault.Transient(err)
	}
	return p, nil
}

// Reviews returns the votes cast on a proof in the order they were recorded.
func (r *Registry) Reviews(ctx context.Context, id string) ([]Review, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	reviews, err := r.reader.ListReviews(ctx, p.ID)
	if err != nil {
		return nil, fault.Transient(err)
	}
	return reviews, nil
}
