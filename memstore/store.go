// Package memstore is an in-memory backend for the consensus packages.
//
// Store hands out transactions that satisfy pgx.Tx so the same services run
// against it and against PostgreSQL. It mirrors the guarantees the services
// depend on: row locks held until commit or rollback, writes invisible to
// other transactions until commit, and the unique constraints on reviews and
// open disputes. Only the transaction control methods of pgx.Tx are
// supported; the query methods panic.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"proofquorum/dispute"
	"proofquorum/outbox"
	"proofquorum/proof"
	"proofquorum/trust"
)

// ErrInjected is returned by commits failed through FailCommits or FailAfterCommit.
var ErrInjected = errors.New("memstore: injected commit failure")

var errForeignTx = errors.New("memstore: transaction does not belong to a memstore")

type Store struct {
	mu       sync.Mutex
	proofs   map[string]proof.Proof
	reviews  map[string][]proof.Review
	profiles map[string]trust.Profile
	disputes map[string]dispute.Record
	outbox   []outbox.Message
	outboxIx map[string]int

	lockMu sync.Mutex
	locks  map[string]chan struct{}

	faultMu         sync.Mutex
	failCommits     int
	failAfterCommit int

	now func() time.Time
}

func New() *Store {
	return &Store{
		proofs:   make(map[string]proof.Proof),
		reviews:  make(map[string][]proof.Review),
		profiles: make(map[string]trust.Profile),
		disputes: make(map[string]dispute.Record),
		outboxIx: make(map[string]int),
		locks:    make(map[string]chan struct{}),
		now:      time.Now,
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// FailCommits makes the next n commits fail without applying anything.
func (s *Store) FailCommits(n int) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.failCommits = n
}

// FailAfterCommit makes the next n commits apply their writes and then report
// ErrInjected, like a connection lost after the server committed.
func (s *Store) FailAfterCommit(n int) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.failAfterCommit = n
}

func (s *Store) takeFault() (before, after bool) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if s.failCommits > 0 {
		s.failCommits--
		return true, false
	}
	if s.failAfterCommit > 0 {
		s.failAfterCommit--
		return false, true
	}
	return false, false
}

func (s *Store) Proofs() *ProofRepo { return &ProofRepo{s: s} }
func (s *Store) Trust() *TrustRepo { return &TrustRepo{s: s} }
func (s *Store) Disputes() *DisputeRepo { return &DisputeRepo{s: s} }
func (s *Store) Outbox() *OutboxStore { return &OutboxStore{s: s} }

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		s:        s,
		held:     make(map[string]chan struct{}),
		proofs:   make(map[string]proof.Proof),
		reviews:  make(map[string][]proof.Review),
		profiles: make(map[string]trust.Profile),
		disputes: make(map[string]dispute.Record),
		outboxUp: make(map[string]outbox.Message),
	}, nil
}

func (s *Store) lockChan(key string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// Tx is a memstore transaction. It is not safe for concurrent use.
type Tx struct {
	s    *Store
	done bool
	held map[string]chan struct{}

	proofs   map[string]proof.Proof
	reviews  map[string][]proof.Review
	profiles map[string]trust.Profile
	disputes map[string]dispute.Record
	outbox   []outbox.Message
	outboxUp map[string]outbox.Message
}

func txFrom(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok {
		return nil, errForeignTx
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// lock blocks until the row lock for key is held by t or ctx ends.
func (t *Tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.s.lockChan(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryLock takes the row lock for key only if it is free.
func (t *Tx) tryLock(key string) bool {
	if _, ok := t.held[key]; ok {
		return true
	}
	ch := t.s.lockChan(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return true
	default:
		return false
	}
}

func (t *Tx) release() {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memstore: nested transactions are not supported")
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.release()

	if err := ctx.Err(); err != nil {
		return err
	}
	before, after := t.s.takeFault()
	if before {
		return ErrInjected
	}
	if err := t.apply(); err != nil {
		return err
	}
	if after {
		return ErrInjected
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.release()
	return nil
}

// apply checks the unique constraints against committed state and publishes
// the transaction's writes atomically.
func (t *Tx) apply() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for proofID, revs := range t.reviews {
		for _, r := range revs {
			for _, existing := range s.reviews[proofID] {
				if existing.ReviewerID == r.ReviewerID {
					return proof.ErrDuplicateVote
				}
			}
		}
	}
	for _, d := range t.disputes {
		if d.Status != dispute.StatusOpen {
			continue
		}
		for id, existing := range s.disputes {
			if id != d.ID && existing.Status == dispute.StatusOpen && existing.ProofID == d.ProofID && existing.ReporterID == d.ReporterID {
				return dispute.ErrAlreadyOpen
			}
		}
	}

	for id, p := range t.proofs {
		s.proofs[id] = p
	}
	for proofID, revs := range t.reviews {
		s.reviews[proofID] = append(s.reviews[proofID], revs...)
	}
	for id, p := range t.profiles {
		s.profiles[id] = p
	}
	for id, d := range t.disputes {
		s.disputes[id] = d
	}
	for _, m := range t.outbox {
		s.outboxIx[m.ID] = len(s.outbox)
		s.outbox = append(s.outbox, m)
	}
	for id, m := range t.outboxUp {
		if ix, ok := s.outboxIx[id]; ok {
			s.outbox[ix] = m
		}
	}
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("memstore: CopyFrom not implemented")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("memstore: SendBatch not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("memstore: LargeObjects not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("memstore: Prepare not implemented")
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("memstore: Exec not implemented")
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("memstore: Query not implemented")
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("memstore: QueryRow not implemented")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

// Snapshot is a consistent copy of the committed state, for assertions.
type Snapshot struct {
	Proofs   []proof.Proof
	Reviews  []proof.Review
	Profiles []trust.Profile
	Disputes []dispute.Record
	Outbox   []outbox.Message
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	for _, p := range s.proofs {
		snap.Proofs = append(snap.Proofs, p)
	}
	sort.Slice(snap.Proofs, func(i, j int) bool { return proofBefore(snap.Proofs[i], snap.Proofs[j]) })
	for _, p := range snap.Proofs {
		snap.Reviews = append(snap.Reviews, s.reviews[p.ID]...)
	}
	for _, p := range s.profiles {
		snap.Profiles = append(snap.Profiles, p)
	}
	sort.Slice(snap.Profiles, func(i, j int) bool { return snap.Profiles[i].UserID < snap.Profiles[j].UserID })
	for _, d := range s.disputes {
		snap.Disputes = append(snap.Disputes, d)
	}
	sort.Slice(snap.Disputes, func(i, j int) bool { return snap.Disputes[i].ID < snap.Disputes[j].ID })
	snap.Outbox = append(snap.Outbox, s.outbox...)
	return snap
}

func proofBefore(a, b proof.Proof) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SeedProfile stores p as committed state, replacing any existing profile.
func (s *Store) SeedProfile(p trust.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// SeedProof stores p as committed state, replacing any existing proof.
func (s *Store) SeedProof(p proof.Proof) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs[p.ID] = p
}
