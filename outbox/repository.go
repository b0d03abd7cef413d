package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PGStore implements Store on the outbox table.
type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) Insert(ctx context.Context, tx pgx.Tx, topic string, payload []byte) error {
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, payload); err != nil {
		return fmt.Errorf("outbox: insert: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit pending rows, oldest first, skipping rows
// another relay already holds.
func (s *PGStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const q = `
		SELECT id::text, topic, payload, status, attempts, created_at, last_attempt
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt, &m.LastAttempt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', last_attempt = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, at time.Time, dead bool) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	const q = `UPDATE outbox SET attempts = attempts + 1, last_attempt = $2, status = $3 WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id, at, status); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
