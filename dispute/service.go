package dispute

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"proofquorum/fault"
)

const MaxDescriptionLength = 2000

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Metrics counts dispute activity.
type Metrics interface {
	DisputeOpened(reason string)
	DisputeSettled(status string)
}

type noopMetrics struct{}

func (noopMetrics) DisputeOpened(string)  {}
func (noopMetrics) DisputeSettled(string) {}

type SubmitParams struct {
	ProofID     string
	ReporterID  string
	Reason      Reason
	Description string
}

type ResolveParams struct {
	DisputeID  string
	ResolverID string
	Status     Status
}

// Service is the dispute register. It records reports against finalized
// proofs and never changes the proof itself.
type Service struct {
	pool    TxBeginner
	repo    Repository
	log     zerolog.Logger
	metrics Metrics
	now     func() time.Time
	idGen   func() string
}

func NewService(pool TxBeginner, repo Repository, log zerolog.Logger) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		log:     log.With().Str("component", "dispute_register").Logger(),
		metrics: noopMetrics{},
		now:     time.Now,
		idGen:   uuid.NewString,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// Submit opens a dispute on a finalized proof.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Record, error) {
	params.ProofID = strings.TrimSpace(params.ProofID)
	params.ReporterID = strings.TrimSpace(params.ReporterID)
	params.Description = strings.TrimSpace(params.Description)
	switch {
	case params.ProofID == "":
		return Record{}, fmt.Errorf("%w: missing proof id", ErrInvalidInput)
	case params.ReporterID == "":
		return Record{}, fmt.Errorf("%w: missing reporter id", ErrInvalidInput)
	case !params.Reason.Valid():
		return Record{}, fmt.Errorf("%w: unknown reason %q", ErrInvalidInput, params.Reason)
	case params.Description == "":
		return Record{}, fmt.Errorf("%w: missing description", ErrInvalidInput)
	case utf8.RuneCountInString(params.Description) > MaxDescriptionLength:
		return Record{}, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidInput, MaxDescriptionLength)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fault.Transient(fmt.Errorf("dispute: begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	st, err := s.repo.ProofState(ctx, tx, params.ProofID)
	if err != nil {
		return Record{}, fault.Transient(err)
	}
	if !st.Finalized {
		return Record{}, ErrProofPending
	}

	now := s.now().UTC()
	rec, err := s.repo.Insert(ctx, tx, Record{
		ID:          s.idGen(),
		ProofID:     params.ProofID,
		ReporterID:  params.ReporterID,
		Reason:      params.Reason,
		Description: params.Description,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Record{}, fault.Transient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fault.Transient(fmt.Errorf("dispute: commit: %w", err))
	}

	s.metrics.DisputeOpened(string(rec.Reason))
	s.log.Info().Str("dispute_id", rec.ID).Str("proof_id", rec.ProofID).Str("reporter_id", rec.ReporterID).Str("reason", string(rec.Reason)).Msg("dispute opened")
	return rec, nil
}

// List returns disputes, newest first. An empty proofID lists all of them.
func (s *Service) List(ctx context.Context, proofID string) ([]Record, error) {
	recs, err := s.repo.List(ctx, strings.TrimSpace(proofID))
	if err != nil {
		return nil, fault.Transient(err)
	}
	return recs, nil
}

// Resolve settles an open dispute as resolved or dismissed.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) (Record, error) {
	params.DisputeID = strings.TrimSpace(params.DisputeID)
	params.ResolverID = strings.TrimSpace(params.ResolverID)
	switch {
	case params.DisputeID == "":
		return Record{}, fmt.Errorf("%w: missing dispute id", ErrInvalidInput)
	case params.ResolverID == "":
		return Record{}, fmt.Errorf("%w: missing resolver id", ErrInvalidInput)
	case !params.Status.Settled():
		return Record{}, fmt.Errorf("%w: cannot settle as %q", ErrBadStatus, params.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fault.Transient(fmt.Errorf("dispute: begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return Record{}, fault.Transient(err)
	}
	if current.Status.Settled() {
		return Record{}, ErrBadStatus
	}

	rec, err := s.repo.Settle(ctx, tx, current.ID, params.Status, params.ResolverID, s.now().UTC())
	if err != nil {
		return Record{}, fault.Transient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fault.Transient(fmt.Errorf("dispute: commit: %w", err))
	}

	s.metrics.DisputeSettled(string(rec.Status))
	s.log.Info().Str("dispute_id", rec.ID).Str("resolver_id", params.ResolverID).Str("status", string(rec.Status)).Msg("dispute settled")
	return rec, nil
}
