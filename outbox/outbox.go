package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Status of an outbox row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusDead      Status = "dead"
)

const (
	TopicProofVerified = "proof.verified"
	TopicProofRejected = "proof.rejected"
)

// Message is a transactional outbox entry.
type Message struct {
	ID          string
	Topic       string
	Payload     []byte
	Status      Status
	Attempts    int
	CreatedAt   time.Time
	LastAttempt *time.Time
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the outbox table. All methods run inside the caller's transaction.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, topic string, payload []byte) error
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, at time.Time, dead bool) error
}

var errEmptyTopic = errors.New("outbox: empty topic")

// Writer enqueues JSON payloads in the same transaction as the state change
// they describe.
type Writer struct {
	store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return errEmptyTopic
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	return w.store.Insert(ctx, tx, topic, body)
}
