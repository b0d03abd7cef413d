package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnavailable means no shared database, Docker or local server is reachable.
var ErrUnavailable = errors.New("infra: no postgres available")

// Harness owns the lifecycle of a migrated test database and its pgx pool.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// Source is where a harness gets its database from.
type Source int

const (
	SourceShared Source = iota
	SourceContainer
	SourceLocal
)

// PickSource prefers a configured shared database, then Docker, then a
// PostgreSQL server on localhost.
func PickSource(shared, docker, local bool) (Source, error) {
	switch {
	case shared:
		return SourceShared, nil
	case docker:
		return SourceContainer, nil
	case local:
		return SourceLocal, nil
	default:
		return 0, ErrUnavailable
	}
}

// NewHarness migrates a database from the first available Source and opens a
// pool on it. A shared database gets an isolated schema.
func NewHarness(ctx context.Context) (*Harness, error) {
	shared := sharedDSN("") != ""
	src, err := PickSource(shared, !shared && DockerAvailable(ctx), !shared && LocalPostgresReady(ctx))
	if err != nil {
		return nil, err
	}

	var (
		container = &PGContainer{}
		dsn       string
	)
	switch src {
	case SourceLocal:
		dsn, err = LocalDatabase(ctx, LocalDatabaseName)
		if err != nil {
			return nil, fmt.Errorf("local postgres: %w", err)
		}
	default:
		container, dsn, err = StartPostgres16(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, src == SourceShared)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &Harness{container: container, pool: pool, dsn: dsn, teardown: teardown}, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates mutable tables to provide a clean slate between tests.
func (h *Harness) Reset(ctx context.Context) error {
	_, err := h.pool.Exec(ctx, "TRUNCATE TABLE outbox, disputes, reviews, trust_profiles, proofs")
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// DockerAvailable reports whether a usable docker daemon is reachable.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
