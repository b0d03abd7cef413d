package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
)

// Config tunes delivery. Zero fields fall back to DefaultConfig.
type Config struct {
	// Timeout bounds one Dispatch across all hooks and retries.
	Timeout time.Duration
	// Retries is the number of extra attempts per hook after the first failure.
	Retries uint64
	// RetryBase is the first backoff interval; it doubles per retry.
	RetryBase time.Duration
	// BreakerFailures consecutive failures open a hook's breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long an open breaker rejects calls.
	BreakerCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		Retries:         2,
		RetryBase:       100 * time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = def.BreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	return c
}

// Metrics counts hook deliveries.
type Metrics interface {
	HookDelivered(name string)
	HookFailed(name string)
}

type noopMetrics struct{}

func (noopMetrics) HookDelivered(string) {}
func (noopMetrics) HookFailed(string)    {}

type registration struct {
	name    string
	hooks   Hooks
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher delivers events to every registered hook asynchronously.
type Dispatcher struct {
	cfg     Config
	log     zerolog.Logger
	metrics Metrics

	mu    sync.RWMutex
	hooks []registration

	inflight sync.WaitGroup
}

func NewDispatcher(cfg Config, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "hook_dispatcher").Logger(),
		metrics: noopMetrics{},
	}
}

func (d *Dispatcher) WithMetrics(m Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Register adds a named collaborator. Names only label logs, metrics and breakers.
func (d *Dispatcher) Register(name string, h Hooks) {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: d.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= d.cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.log.Warn().Str("hook", name).Str("from", from.String()).Str("to", to.String()).Msg("hook breaker state changed")
		},
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, registration{name: name, hooks: h, breaker: breaker})
}

// Dispatch schedules delivery of ev and returns immediately. Cancellation of
// ctx does not stop delivery; only the configured timeout does.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.RLock()
	hooks := make([]registration, len(d.hooks))
	copy(hooks, d.hooks)
	d.mu.RUnlock()

	if len(hooks) == 0 {
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
		defer cancel()

		if err := d.deliverAll(ctx, hooks, ev); err != nil {
			d.log.Error().Err(err).
				Str("proof_id", ev.ProofID).
				Str("submitter_id", ev.SubmitterID).
				Str("outcome", string(ev.Outcome)).
				Msg("post-commit hooks failed")
		}
	}()
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) deliverAll(ctx context.Context, hooks []registration, ev Event) error {
	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	for _, reg := range hooks {
		reg := reg
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.deliverOne(ctx, reg, ev); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", reg.name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

func (d *Dispatcher) deliverOne(ctx context.Context, reg registration, ev Event) error {
	backoff := retry.WithMaxRetries(d.cfg.Retries, retry.NewExponential(d.cfg.RetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := reg.breaker.Execute(func() (interface{}, error) {
			return nil, safeDeliver(ctx, reg.hooks, ev)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		d.metrics.HookFailed(reg.name)
		return err
	}
	d.metrics.HookDelivered(reg.name)
	return nil
}

// safeDeliver turns a panicking hook into an ordinary delivery failure.
func safeDeliver(ctx context.Context, h Hooks, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook: panic: %v", r)
		}
	}()
	return deliver(ctx, h, ev)
}
