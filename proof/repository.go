package proof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"proofquorum/fault"
)

var (
	ErrNotFound        = fmt.Errorf("proof: not found: %w", fault.ErrNotFound)
	ErrSelfReview      = fmt.Errorf("proof: reviewer is the submitter: %w", fault.ErrInvalidOperation)
	ErrNotPending      = fmt.Errorf("proof: proof is already finalized: %w", fault.ErrInvalidOperation)
	ErrInvalidDecision = fmt.Errorf("proof: decision must be approve or reject: %w", fault.ErrInvalidOperation)
	ErrInvalidInput    = fmt.Errorf("proof: invalid input: %w", fault.ErrInvalidOperation)
	ErrDuplicateVote   = fmt.Errorf("proof: reviewer already voted: %w", fault.ErrConflict)
)

// Repository is the transactional access the consensus engine needs. Every
// method runs inside the caller's transaction.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, p Proof) (Proof, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Proof, error)
	HasReview(ctx context.Context, tx pgx.Tx, proofID, reviewerID string) (bool, error)
	InsertReview(ctx context.Context, tx pgx.Tx, r Review) (Review, error)
	IncrementCount(ctx context.Context, tx pgx.Tx, id string, d Decision) (Proof, error)
	Finalize(ctx context.Context, tx pgx.Tx, id string, status Status, at time.Time) (Proof, error)
}

// Reader serves non-locking reads.
type Reader interface {
	Get(ctx context.Context, id string) (Proof, error)
	ListReviews(ctx context.Context, proofID string) ([]Review, error)
	ListPendingForReviewer(ctx context.Context, reviewerID string, limit int) ([]Proof, error)
}

// PGRepository implements Repository and Reader backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const proofColumns = `id::text, submitter_id, status::text, approval_count, rejection_count, created_at, finalized_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Proof) (Proof, error) {
	const query = `
		INSERT INTO proofs (id, submitter_id, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, 'pending')
		RETURNING ` + proofColumns

	created, err := scanProof(tx.QueryRow(ctx, query, p.ID, p.SubmitterID))
	if err != nil {
		return Proof{}, fmt.Errorf("proof: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Proof, error) {
	if !validID(id) {
		return Proof{}, ErrNotFound
	}
	const query = `SELECT ` + proofColumns + ` FROM proofs WHERE id = $1 FOR UPDATE`

	p, err := scanProof(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proof{}, ErrNotFound
		}
		return Proof{}, fmt.Errorf("proof: get for update: %w", err)
	}
	return p, nil
}

func (r *PGRepository) HasReview(ctx context.Context, tx pgx.Tx, proofID, reviewerID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reviews WHERE proof_id = $1 AND reviewer_id = $2)`, proofID, reviewerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("proof: check review: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) InsertReview(ctx context.Context, tx pgx.Tx, rev Review) (Review, error) {
	const query = `
		INSERT INTO reviews (id, proof_id, reviewer_id, decision, comment)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4::review_decision, $5)
		RETURNING id::text, proof_id::text, reviewer_id, decision::text, comment, created_at
	`

	var out Review
	err := tx.QueryRow(ctx, query, rev.ID, rev.ProofID, rev.ReviewerID, rev.Decision, rev.Comment).
		Scan(&out.ID, &out.ProofID, &out.ReviewerID, &out.Decision, &out.Comment, &out.CreatedAt)
	if err != nil {
		if fault.IsUniqueViolation(err) {
			return Review{}, ErrDuplicateVote
		}
		return Review{}, fmt.Errorf("proof: insert review: %w", err)
	}
	return out, nil
}

func (r *PGRepository) IncrementCount(ctx context.Context, tx pgx.Tx, id string, d Decision) (Proof, error) {
	var query string
	switch d {
	case DecisionApprove:
		query = `UPDATE proofs SET approval_count = approval_count + 1 WHERE id = $1 AND status = 'pending' RETURNING ` + proofColumns
	case DecisionReject:
		query = `UPDATE proofs SET rejection_count = rejection_count + 1 WHERE id = $1 AND status = 'pending' RETURNING ` + proofColumns
	default:
		return Proof{}, ErrInvalidDecision
	}

	p, err := scanProof(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proof{}, ErrNotPending
		}
		return Proof{}, fmt.Errorf("proof: increment count: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Finalize(ctx context.Context, tx pgx.Tx, id string, status Status, at time.Time) (Proof, error) {
	if !status.Final() {
		return Proof{}, fmt.Errorf("proof: finalize with non-terminal status %q: %w", status, fault.ErrInvalidOperation)
	}

	const query = `
		UPDATE proofs
		SET status = $2::proof_status,
		    finalized_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + proofColumns

	p, err := scanProof(tx.QueryRow(ctx, query, id, status, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proof{}, ErrNotPending
		}
		return Proof{}, fmt.Errorf("proof: finalize: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Proof, error) {
	if !validID(id) {
		return Proof{}, ErrNotFound
	}
	const query = `SELECT ` + proofColumns + ` FROM proofs WHERE id = $1`

	p, err := scanProof(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proof{}, ErrNotFound
		}
		return Proof{}, fmt.Errorf("proof: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) ListReviews(ctx context.Context, proofID string) ([]Review, error) {
	const query = `
		SELECT id::text, proof_id::text, reviewer_id, decision::text, comment, created_at
		FROM reviews
		WHERE proof_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, proofID)
	if err != nil {
		return nil, fmt.Errorf("proof: list reviews: %w", err)
	}
	defer rows.Close()

	out := make([]Review, 0, 4)
	for rows.Next() {
		var rev Review
		if err := rows.Scan(&rev.ID, &rev.ProofID, &rev.ReviewerID, &rev.Decision, &rev.Comment, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("proof: scan review: %w", err)
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proof: iterate reviews: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListPendingForReviewer(ctx context.Context, reviewerID string, limit int) ([]Proof, error) {
	const query = `
		SELECT p.id::text, p.submitter_id, p.status::text, p.approval_count, p.rejection_count, p.created_at, p.finalized_at
		FROM proofs p
		WHERE p.status = 'pending'
		  AND p.submitter_id <> $1
		  AND NOT EXISTS (
		      SELECT 1 FROM reviews r WHERE r.proof_id = p.id AND r.reviewer_id = $1
		  )
		ORDER BY p.created_at ASC, p.id ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, reviewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("proof: list pending: %w", err)
	}
	defer rows.Close()

	out := make([]Proof, 0, limit)
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, fmt.Errorf("proof: scan pending: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proof: iterate pending: %w", err)
	}
	return out, nil
}

// validID keeps malformed ids from reaching a uuid column, where they would
// fail as a storage error instead of a missing row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanProof(row pgx.Row) (Proof, error) {
	var p Proof
	err := row.Scan(
		&p.ID,
		&p.SubmitterID,
		&p.Status,
		&p.ApprovalCount,
		&p.RejectionCount,
		&p.CreatedAt,
		&p.FinalizedAt,
	)
	return p, err
}
