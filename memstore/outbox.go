package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"proofquorum/outbox"
)

// OutboxStore implements outbox.Store.
type OutboxStore struct {
	s *Store
}

var _ outbox.Store = (*OutboxStore)(nil)

func (o *OutboxStore) Insert(_ context.Context, tx pgx.Tx, topic string, payload []byte) error {
	t, err := txFrom(tx)
	if err != nil {
		return err
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	t.outbox = append(t.outbox, outbox.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   body,
		Status:    outbox.StatusPending,
		CreatedAt: o.s.now().UTC(),
	})
	return nil
}

// ClaimPending skips rows locked by other transactions.
func (o *OutboxStore) ClaimPending(_ context.Context, tx pgx.Tx, limit int) ([]outbox.Message, error) {
	t, err := txFrom(tx)
	if err != nil {
		return nil, err
	}
	o.s.mu.Lock()
	candidates := make([]outbox.Message, 0, limit)
	for _, m := range o.s.outbox {
		if m.Status == outbox.StatusPending {
			candidates = append(candidates, m)
		}
	}
	o.s.mu.Unlock()

	out := make([]outbox.Message, 0, limit)
	for _, m := range candidates {
		if len(out) >= limit {
			break
		}
		if !t.tryLock("outbox:" + m.ID) {
			continue
		}
		// another relay may have settled the row before we locked it
		o.s.mu.Lock()
		current := o.s.outbox[o.s.outboxIx[m.ID]]
		o.s.mu.Unlock()
		if current.Status == outbox.StatusPending {
			out = append(out, current)
		}
	}
	return out, nil
}

func (o *OutboxStore) MarkProcessed(_ context.Context, tx pgx.Tx, id string, at time.Time) error {
	return o.update(tx, id, func(m *outbox.Message) {
		m.Status = outbox.StatusProcessed
		m.LastAttempt = &at
	})
}

func (o *OutboxStore) MarkFailed(_ context.Context, tx pgx.Tx, id string, at time.Time, dead bool) error {
	return o.update(tx, id, func(m *outbox.Message) {
		m.Attempts++
		m.LastAttempt = &at
		if dead {
			m.Status = outbox.StatusDead
		}
	})
}

func (o *OutboxStore) update(tx pgx.Tx, id string, fn func(*outbox.Message)) error {
	t, err := txFrom(tx)
	if err != nil {
		return err
	}
	m, ok := t.outboxUp[id]
	if !ok {
		o.s.mu.Lock()
		ix, found := o.s.outboxIx[id]
		if found {
			m = o.s.outbox[ix]
		}
		o.s.mu.Unlock()
		if !found {
			return nil
		}
	}
	fn(&m)
	t.outboxUp[id] = m
	return nil
}
