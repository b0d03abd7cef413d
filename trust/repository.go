package trust

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"proofquorum/fault"
)

var (
	ErrNotFound = fmt.Errorf("trust: profile not found: %w", fault.ErrNotFound)
	ErrInvalid  = fmt.Errorf("trust: invalid profile: %w", fault.ErrInvalidOperation)
)

// Repository persists trust profiles. Tx-scoped methods run inside the
// caller's transaction.
type Repository interface {
	// LockExisting locks the profile row if it exists. found is false when the
	// user has no profile yet; nothing is created in that case.
	LockExisting(ctx context.Context, tx pgx.Tx, userID string) (p Profile, found bool, err error)
	// LockOrCreate locks the profile row, creating the default profile first if needed.
	LockOrCreate(ctx context.Context, tx pgx.Tx, userID string) (Profile, error)
	Save(ctx context.Context, tx pgx.Tx, p Profile) (Profile, error)
	Get(ctx context.Context, userID string) (Profile, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const profileColumns = `user_id, trust_level, approved_count, rejected_count, consecutive_rejections,
	is_untrusted, trust_earned_at, last_demotion_at, created_at, updated_at`

func (r *PGRepository) LockExisting(ctx context.Context, tx pgx.Tx, userID string) (Profile, bool, error) {
	p, err := scanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM trust_profiles WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, false, nil
		}
		return Profile{}, false, fmt.Errorf("trust: lock profile: %w", err)
	}
	return p, true, nil
}

func (r *PGRepository) LockOrCreate(ctx context.Context, tx pgx.Tx, userID string) (Profile, error) {
	// A concurrent creator makes this insert wait for its commit; the select
	// below then sees and locks the committed row.
	if _, err := tx.Exec(ctx, `INSERT INTO trust_profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return Profile{}, fmt.Errorf("trust: ensure profile: %w", err)
	}

	p, found, err := r.LockExisting(ctx, tx, userID)
	if err != nil {
		return Profile{}, err
	}
	if !found {
		return Profile{}, fmt.Errorf("trust: profile %s vanished after insert", userID)
	}
	return p, nil
}

func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, p Profile) (Profile, error) {
	if p.Level < MinLevel {
		return Profile{}, ErrInvalid
	}

	const query = `
		UPDATE trust_profiles
		SET trust_level = $2,
		    approved_count = $3,
		    rejected_count = $4,
		    consecutive_rejections = $5,
		    is_untrusted = $6,
		    trust_earned_at = $7,
		    last_demotion_at = $8,
		    updated_at = $9
		WHERE user_id = $1
		RETURNING ` + profileColumns

	saved, err := scanProfile(tx.QueryRow(ctx, query,
		p.UserID,
		p.Level,
		p.ApprovedCount,
		p.RejectedCount,
		p.ConsecutiveRejections,
		p.IsUntrusted,
		p.TrustEarnedAt,
		p.LastDemotionAt,
		p.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("trust: save profile: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) Get(ctx context.Context, userID string) (Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM trust_profiles WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("trust: get profile: %w", err)
	}
	return p, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.UserID,
		&p.Level,
		&p.ApprovedCount,
		&p.RejectedCount,
		&p.ConsecutiveRejections,
		&p.IsUntrusted,
		&p.TrustEarnedAt,
		&p.LastDemotionAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}
