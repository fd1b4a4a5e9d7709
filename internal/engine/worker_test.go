package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/parser"
	"github.com/raphaelgruber/wikibatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkerFixture(t *testing.T, scripts ...string) (*store.Memory, *fakeAdapter, *Worker, *metrics.Collector) {
	t.Helper()
	st := store.NewMemory()
	for _, script := range scripts {
		cmds, err := parser.Parse(script, models.SyntaxV1)
		require.NoError(t, err)
		_, err = st.CreateBatch(context.Background(), models.Batch{
			Owner: "alice",
			Flags: models.BatchFlags{Authorized: true},
		}, cmds)
		require.NoError(t, err)
	}

	adapter := &fakeAdapter{}
	mc := metrics.NewCollector()
	w := NewWorker(st, func(*models.Batch) (Adapter, error) { return adapter, nil }, Config{
		Metrics:      mc,
		Retry:        RetryPolicy{MaxAttempts: 2, Initial: time.Millisecond},
		PollInterval: 5 * time.Millisecond,
	})
	return st, adapter, w, mc
}

func TestWorkerRunOnce(t *testing.T) {
	st, adapter, w, _ := newWorkerFixture(t, "Q1|P31|Q5", "Q2|P31|Q5")
	ctx := context.Background()

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	// Oldest first.
	b1, err := st.GetBatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BatchDone, b1.Status)
	assert.Empty(t, b1.LeaseOwner, "lease released after the pass")

	b2, err := st.GetBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.BatchInitial, b2.Status)

	processed, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Len(t, adapter.Calls(), 2)
}

func TestWorkerSkipsLeasedBatch(t *testing.T) {
	st, adapter, w, _ := newWorkerFixture(t, "Q1|P31|Q5")
	ctx := context.Background()

	_, err := st.AcquireLease(ctx, 1, "someone-else", time.Minute)
	require.NoError(t, err)

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, adapter.Calls())
}

func TestWorkerCrashRecovery(t *testing.T) {
	st, adapter, w, mc := newWorkerFixture(t, "Q1|P31|Q5\nQ2|P31|Q5")
	ctx := context.Background()

	// A worker that died after marking command 0 RUNNING.
	past := time.Now().UTC().Add(-time.Hour)
	st.SetNow(func() time.Time { return past })
	_, err := st.AcquireLease(ctx, 1, "dead-worker", time.Minute)
	require.NoError(t, err)
	_, err = st.Commit(ctx, store.Update{BatchID: 1, LeaseOwner: "dead-worker", Batch: func(b *models.Batch) { b.Flags.Started = true }})
	require.NoError(t, err)
	_, err = st.Commit(ctx, store.Update{BatchID: 1, LeaseOwner: "dead-worker", Commands: []store.CommandChange{{Index: 0, To: models.CommandRunning}}})
	require.NoError(t, err)
	st.SetNow(func() time.Time { return time.Now().UTC() })

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	b, err := st.GetBatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BatchDone, b.Status)
	assert.Len(t, adapter.Calls(), 2)
	assert.Equal(t, int64(1), mc.Snapshot().Counters[metrics.CounterCrashRecoveries])
}

func TestWorkerRun(t *testing.T) {
	st, _, w, _ := newWorkerFixture(t, "Q1|P31|Q5", "CREATE\nLAST|Len|\"x\"")
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		batches, err := st.ListBatches(context.Background(), store.BatchFilter{Status: models.BatchDone})
		return err == nil && len(batches) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// slowAdapter takes delay per call and records the peak number of
// concurrent calls.
type slowAdapter struct {
	delay   time.Duration
	calls   atomic.Int32
	active  atomic.Int32
	mu      sync.Mutex
	maxSeen int32
}

func (a *slowAdapter) Apply(ctx context.Context, edit Edit) (Result, error) {
	a.calls.Add(1)
	n := a.active.Add(1)
	defer a.active.Add(-1)
	a.mu.Lock()
	a.maxSeen = max(a.maxSeen, n)
	a.mu.Unlock()

	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	return Result{EntityID: string(edit.Subject)}, nil
}

func TestWorkerLeaseOutlivesSlowCommand(t *testing.T) {
	st := store.NewMemory()
	cmds, err := parser.Parse("Q1|P31|Q5", models.SyntaxV1)
	require.NoError(t, err)
	_, err = st.CreateBatch(context.Background(), models.Batch{Owner: "alice", Flags: models.BatchFlags{Authorized: true}}, cmds)
	require.NoError(t, err)

	adapter := &slowAdapter{delay: 150 * time.Millisecond}
	cfg := Config{
		Metrics:  metrics.NewCollector(),
		Retry:    RetryPolicy{MaxAttempts: 2, Initial: time.Millisecond},
		LeaseTTL: 50 * time.Millisecond,
	}
	factory := func(*models.Batch) (Adapter, error) { return adapter, nil }
	first := NewWorker(st, factory, cfg)
	second := NewWorker(st, factory, cfg)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := first.RunOnce(ctx)
		errCh <- err
	}()

	// Well past the TTL while the only command is still in flight.
	time.Sleep(80 * time.Millisecond)
	processed, err := second.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, <-errCh)
	assert.Equal(t, int32(1), adapter.calls.Load())
	assert.Equal(t, int32(1), adapter.maxSeen)

	b, err := st.GetBatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BatchDone, b.Status)
}

func TestRunPassAbortsWhenLeaseLost(t *testing.T) {
	st := store.NewMemory()
	cmds, err := parser.Parse("Q1|P31|Q5\nQ2|P31|Q5", models.SyntaxV1)
	require.NoError(t, err)
	b, err := st.CreateBatch(context.Background(), models.Batch{Owner: "alice", Flags: models.BatchFlags{Authorized: true}}, cmds)
	require.NoError(t, err)
	ctx := context.Background()

	var calls atomic.Int32
	adapter := AdapterFunc(func(ctx context.Context, edit Edit) (Result, error) {
		calls.Add(1)
		// Another owner takes the batch over mid-call.
		require.NoError(t, st.ReleaseLease(context.Background(), b.ID, testOwner))
		_, err := st.AcquireLease(context.Background(), b.ID, "intruder", time.Minute)
		require.NoError(t, err)

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(2 * time.Second):
			return Result{EntityID: string(edit.Subject)}, nil
		}
	})
	exec := NewExecutor(st, func(*models.Batch) (Adapter, error) { return adapter, nil }, Config{
		Metrics:  metrics.NewCollector(),
		Retry:    RetryPolicy{MaxAttempts: 2, Initial: time.Millisecond},
		LeaseTTL: 30 * time.Millisecond,
	}, testOwner)

	_, err = st.AcquireLease(ctx, b.ID, testOwner, 30*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	err = exec.RunPass(ctx, b.ID)
	require.ErrorIs(t, err, store.ErrConflict)
	assert.ErrorContains(t, err, "renew lease")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), calls.Load())

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "intruder", got.LeaseOwner)
}
