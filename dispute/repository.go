package dispute

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
	ErrNotFound      = fmt.Errorf("dispute: not found: %w", fault.ErrNotFound)
	ErrProofNotFound = fmt.Errorf("dispute: proof not found: %w", fault.ErrNotFound)
	ErrProofPending  = fmt.Errorf("dispute: proof is not finalized: %w", fault.ErrInvalidOperation)
	ErrInvalidInput  = fmt.Errorf("dispute: invalid input: %w", fault.ErrInvalidOperation)
	ErrBadStatus     = fmt.Errorf("dispute: invalid status transition: %w", fault.ErrInvalidOperation)
	ErrAlreadyOpen   = fmt.Errorf("dispute: reporter already has an open dispute on this proof: %w", fault.ErrConflict)
)

// ProofState is what the register needs to know about a disputed proof.
type ProofState struct {
	SubmitterID string
	Finalized   bool
}

// Repository is the dispute storage. Tx-scoped methods run inside the
// caller's transaction.
type Repository interface {
	ProofState(ctx context.Context, tx pgx.Tx, proofID string) (ProofState, error)
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	Settle(ctx context.Context, tx pgx.Tx, id string, status Status, resolverID string, at time.Time) (Record, error)
	List(ctx context.Context, proofID string) ([]Record, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = `id::text, proof_id::text, reporter_id, reason::text, description, status::text, resolver_id, created_at, updated_at, resolved_at`

func (r *PGRepository) ProofState(ctx context.Context, tx pgx.Tx, proofID string) (ProofState, error) {
	if _, err := uuid.Parse(proofID); err != nil {
		return ProofState{}, ErrProofNotFound
	}
	var (
		st     ProofState
		status string
	)
	err := tx.QueryRow(ctx, `SELECT submitter_id, status::text FROM proofs WHERE id = $1 FOR SHARE`, proofID).Scan(&st.SubmitterID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProofState{}, ErrProofNotFound
		}
		return ProofState{}, fmt.Errorf("dispute: proof state: %w", err)
	}
	st.Finalized = status != "pending"
	return st, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const query = `
		INSERT INTO disputes (id, proof_id, reporter_id, reason, description, status, created_at, updated_at)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4::dispute_reason, $5, 'open', $6, $7)
		RETURNING ` + recordColumns

	out, err := scanRecord(tx.QueryRow(ctx, query,
		rec.ID, rec.ProofID, rec.ReporterID, rec.Reason, rec.Description, rec.CreatedAt, rec.UpdatedAt))
	if err != nil {
		if fault.IsUniqueViolation(err) {
			return Record{}, ErrAlreadyOpen
		}
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrNotFound
	}
	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) Settle(ctx context.Context, tx pgx.Tx, id string, status Status, resolverID string, at time.Time) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = $2::dispute_status,
		    resolver_id = $3,
		    resolved_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status = 'open'
		RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, id, status, resolverID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrBadStatus
		}
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) List(ctx context.Context, proofID string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM disputes`
	args := []any{}
	if proofID != "" {
		if _, err := uuid.Parse(proofID); err != nil {
			return []Record{}, nil
		}
		query += " WHERE proof_id = $1"
		args = append(args, proofID)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.ProofID, &rec.ReporterID, &rec.Reason, &rec.Description, &rec.Status, &rec.ResolverID, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt)
	return rec, err
}
