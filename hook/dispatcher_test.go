package hook_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofquorum/hook"
)

type hookCounts struct {
	mu        sync.Mutex
	delivered map[string]int
	failed    map[string]int
}

func newHookCounts() *hookCounts {
	return &hookCounts{delivered: map[string]int{}, failed: map[string]int{}}
}

func (c *hookCounts) HookDelivered(name string) { c.mu.Lock(); c.delivered[name]++; c.mu.Unlock() }
func (c *hookCounts) HookFailed(name string)    { c.mu.Lock(); c.failed[name]++; c.mu.Unlock() }

func fastConfig() hook.Config {
	return hook.Config{
		Timeout:         time.Second,
		Retries:         2,
		RetryBase:       time.Millisecond,
		BreakerFailures: 10,
		BreakerCooldown: time.Minute,
	}
}

func TestDispatch_DeliversToEveryHook(t *testing.T) {
	counts := newHookCounts()
	d := hook.NewDispatcher(fastConfig(), zerolog.Nop()).WithMetrics(counts)

	var (
		mu       sync.Mutex
		verified []string
		rejected []string
	)
	d.Register("sessions", hook.Funcs{
		Verified: func(_ context.Context, proofID, _ string) error {
			mu.Lock()
			defer mu.Unlock()
			verified = append(verified, proofID)
			return nil
		},
	})
	d.Register("notifications", hook.Funcs{
		Rejected: func(_ context.Context, proofID, _ string) error {
			mu.Lock()
			defer mu.Unlock()
			rejected = append(rejected, proofID)
			return nil
		},
	})

	d.Dispatch(context.Background(), hook.Event{ProofID: "p1", SubmitterID: "alice", Outcome: hook.OutcomeVerified})
	d.Dispatch(context.Background(), hook.Event{ProofID: "p2", SubmitterID: "alice", Outcome: hook.OutcomeRejected})
	d.Wait()

	assert.Equal(t, []string{"p1"}, verified)
	assert.Equal(t, []string{"p2"}, rejected)
	assert.Equal(t, 2, counts.delivered["sessions"])
	assert.Equal(t, 2, counts.delivered["notifications"])
	assert.Empty(t, counts.failed)
}

func TestDispatch_RetriesTransientFailures(t *testing.T) {
	counts := newHookCounts()
	d := hook.NewDispatcher(fastConfig(), zerolog.Nop()).WithMetrics(counts)

	var calls atomic.Int32
	d.Register("rewards", hook.Funcs{
		Verified: func(context.Context, string, string) error {
			if calls.Add(1) < 3 {
				return errors.New("timeout")
			}
			return nil
		},
	})

	d.Dispatch(context.Background(), hook.Event{ProofID: "p1", SubmitterID: "alice", Outcome: hook.OutcomeVerified})
	d.Wait()

	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 1, counts.delivered["rewards"])
	assert.Zero(t, counts.failed["rewards"])
}

func TestDispatch_FailingHookDoesNotAffectOthers(t *testing.T) {
	counts := newHookCounts()
	d := hook.NewDispatcher(fastConfig(), zerolog.Nop()).WithMetrics(counts)

	var good atomic.Int32
	d.Register("broken", hook.Funcs{
		Verified: func(context.Context, string, string) error { return errors.New("boom") },
	})
	d.Register("healthy", hook.Funcs{
		Verified: func(context.Context, string, string) error { good.Add(1); return nil },
	})

	d.Dispatch(context.Background(), hook.Event{ProofID: "p1", SubmitterID: "alice", Outcome: hook.OutcomeVerified})
	d.Wait()

	assert.EqualValues(t, 1, good.Load())
	assert.Equal(t, 1, counts.failed["broken"])
	assert.Equal(t, 1, counts.delivered["healthy"])
}

func TestDispatch_BreakerStopsCallingFailingHook(t *testing.T) {
	cfg := fastConfig()
	cfg.Retries = 0
	cfg.BreakerFailures = 2
	counts := newHookCounts()
	d := hook.NewDispatcher(cfg, zerolog.Nop()).WithMetrics(counts)

	var calls atomic.Int32
	d.Register("rewards", hook.Funcs{
		Rejected: func(context.Context, string, string) error {
			calls.Add(1)
			return errors.New("unavailable")
		},
	})

	for i := 0; i < 5; i++ {
		d.Dispatch(context.Background(), hook.Event{ProofID: "p", SubmitterID: "alice", Outcome: hook.OutcomeRejected})
		d.Wait()
	}

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 5, counts.failed["rewards"])
}

func TestDispatch_SurvivesCallerCancellation(t *testing.T) {
	d := hook.NewDispatcher(fastConfig(), zerolog.Nop())

	release := make(chan struct{})
	var delivered atomic.Bool
	d.Register("slow", hook.Funcs{
		Verified: func(ctx context.Context, _, _ string) error {
			select {
			case <-release:
				delivered.Store(true)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, hook.Event{ProofID: "p1", SubmitterID: "alice", Outcome: hook.OutcomeVerified})
	cancel()
	close(release)
	d.Wait()

	assert.True(t, delivered.Load())
}

func TestDispatch_TimeoutBoundsDelivery(t *testing.T) {
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.Retries = 0
	counts := newHookCounts()
	d := hook.NewDispatcher(cfg, zerolog.Nop()).WithMetrics(counts)

	d.Register("stuck", hook.Funcs{
		Verified: func(ctx context.Context, _, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	start := time.Now()
	d.Dispatch(context.Background(), hook.Event{ProofID: "p1", SubmitterID: "alice", Outcome: hook.OutcomeVerified})
	d.Wait()

	require.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, counts.failed["stuck"])
}

func TestDispatch_NoHooksIsNoop(t *testing.T) {
	d := hook.NewDispatcher(hook.Config{}, zerolog.Nop())
	d.Dispatch(context.Background(), hook.Event{ProofID: "p1", Outcome: hook.OutcomeVerified})
	d.Wait()
}

func TestDispatch_PanickingHookCountsAsFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.Retries = 1
	counts := newHookCounts()
	d := hook.NewDispatcher(cfg, zerolog.Nop()).WithMetrics(counts)

	var calls, healthy atomic.Int32
	d.Register("buggy", hook.Funcs{
		Verified: func(context.Context, string, string) error {
			calls.Add(1)
			panic("collaborator bug")
		},
	})
	d.Register("healthy", hook.Funcs{
		Verified: func(context.Context, string, string) error { healthy.Add(1); return nil },
	})

	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), hook.Event{ProofID: "p1", SubmitterID: "alice", Outcome: hook.OutcomeVerified})
		d.Wait()
	})

	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, healthy.Load())
	assert.Equal(t, 1, counts.failed["buggy"])
	assert.Equal(t, 1, counts.delivered["healthy"])
}
