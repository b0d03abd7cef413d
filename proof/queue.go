package proof

import (
	"context"
	"fmt"
	"strings"

	"proofquorum/fault"
)

const (
	DefaultQueueLimit = 20
	MaxQueueLimit     = 100
)

// Queue lists proofs a reviewer may still vote on. It never writes.
type Queue struct {
	reader       Reader
	defaultLimit int
	maxLimit     int
}

func NewQueue(reader Reader) *Queue {
	return &Queue{reader: reader, defaultLimit: DefaultQueueLimit, maxLimit: MaxQueueLimit}
}

// WithLimits overrides the default and maximum page size. Non-positive values
// keep the current setting.
func (q *Queue) WithLimits(defaultLimit, maxLimit int) *Queue {
	if maxLimit > 0 {
		q.maxLimit = maxLimit
	}
	if defaultLimit > 0 {
		q.defaultLimit = defaultLimit
	}
	if q.defaultLimit > q.maxLimit {
		q.defaultLimit = q.maxLimit
	}
	return q
}

// Pending returns PENDING proofs the reviewer did not submit and has not voted
// on, oldest first.
func (q *Queue) Pending(ctx context.Context, reviewerID string, limit int) ([]Proof, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: missing reviewer id", ErrInvalidInput)
	}
	proofs, err := q.reader.ListPendingForReviewer(ctx, reviewerID, q.clamp(limit))
	if err != nil {
		return nil, fault.Transient(err)
	}
	return proofs, nil
}

func (q *Queue) clamp(limit int) int {
	switch {
	case limit <= 0:
		return q.defaultLimit
	case limit > q.maxLimit:
		return q.maxLimit
	default:
		return limit
	}
}
