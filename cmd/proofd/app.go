package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"proofquorum/config"
	"proofquorum/db"
	"proofquorum/dispute"
	"proofquorum/hook"
	"proofquorum/metrics"
	"proofquorum/outbox"
	"proofquorum/proof"
	"proofquorum/trust"
)

// app holds the services wired against one connection pool.
type app struct {
	cfg  config.Config
	log  zerolog.Logger
	pool *pgxpool.Pool

	promRegistry *prometheus.Registry

	proofs     *proof.Registry
	engine     *proof.Engine
	queue      *proof.Queue
	ledger     *trust.Ledger
	disputes   *dispute.Service
	dispatcher *hook.Dispatcher
	relay      *outbox.Relay
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger, instrumented bool) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (set DATABASE_URL or --database-url)")
	}
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewNoopCollector()

	proofRepo := proof.NewRepository(pool)
	ledger := trust.NewLedger(trust.NewRepository(pool), log).WithMetrics(collector)

	dispatcher := hook.NewDispatcher(hook.Config{
		Timeout:         cfg.Hooks.Timeout,
		Retries:         cfg.Hooks.RetryAttempts,
		BreakerFailures: cfg.Hooks.BreakerFailures,
		BreakerCooldown: cfg.Hooks.BreakerCooldown,
	}, log).WithMetrics(collector)
	dispatcher.Register("log", hook.NewLogHooks(log))

	outboxStore := outbox.NewPGStore()
	engine := proof.NewEngine(pool, proofRepo, ledger, log).
		WithMetrics(collector).
		WithOutbox(outbox.NewWriter(outboxStore)).
		WithNotifier(dispatcher).
		WithRetry(cfg.Consensus.RetryAttempts, cfg.Consensus.RetryBase)

	relay := outbox.NewRelay(pool, outboxStore, outbox.NewLogPublisher(log), outbox.RelayConfig{
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	}, log).WithMetrics(relayMetrics(reg, instrumented))
	if cfg.Outbox.SigningKey != "" {
		signer, err := outbox.NewSigner([]byte(cfg.Outbox.SigningKey), "proofd")
		if err != nil {
			pool.Close()
			return nil, err
		}
		relay.WithSigner(signer)
	}

	return &app{
		cfg:          cfg,
		log:          log,
		pool:         pool,
		promRegistry: reg,
		proofs:       proof.NewRegistry(pool, proofRepo, proofRepo),
		engine:       engine,
		queue:        proof.NewQueue(proofRepo).WithLimits(cfg.Queue.DefaultLimit, cfg.Queue.MaxLimit),
		ledger:       ledger,
		disputes:     dispute.NewService(pool, dispute.NewRepository(pool), log).WithMetrics(collector),
		dispatcher:   dispatcher,
		relay:        relay,
	}, nil
}

// relayMetrics registers what serve exports: runtime collectors and the relay
// counters. Votes, trust, hooks and disputes run in one-shot commands that exit
// before any scrape, so their counters are left to embedders of the packages.
func relayMetrics(reg *prometheus.Registry, instrumented bool) outbox.Metrics {
	if !instrumented {
		return metrics.NewNoopCollector()
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.NewOutboxCollector(reg)
}

// Close waits for in-flight hook deliveries and releases the pool.
func (a *app) Close() {
	a.dispatcher.Wait()
	a.pool.Close()
}
