package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/raphaelgruber/wikibatch/internal/store"
)

// eligibleScan is how many candidate batches a worker looks at per poll.
const eligibleScan = 10

// Worker drains eligible batches one at a time.
type Worker struct {
	ID    string
	store store.Store
	exec  *Executor
	cfg   Config
}

// NewWorker returns a worker with a fresh lease owner id.
func NewWorker(st store.Store, adapters AdapterFactory, cfg Config) *Worker {
	id := "worker-" + uuid.NewString()
	cfg = cfg.withDefaults()
	return &Worker{
		ID:    id,
		store: st,
		exec:  NewExecutor(st, adapters, cfg, id),
		cfg:   cfg,
	}
}

// Run processes batches until ctx is cancelled. Errors are logged and never
// stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "worker_id", w.ID, "poll_interval", w.cfg.PollInterval)
	defer slog.Info("worker stopped", "worker_id", w.ID)

	for {
		processed, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Error("worker pass failed", "worker_id", w.ID, "error", err)
		}
		if processed && err == nil {
			continue
		}

		timer := time.NewTimer(w.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce claims at most one eligible batch and runs a pass over it. It
// reports whether a batch was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	eligible, err := w.store.ListEligible(ctx, time.Now().UTC(), eligibleScan)
	if err != nil {
		return false, fmt.Errorf("list eligible: %w", err)
	}

	for _, candidate := range eligible {
		b, err := w.store.AcquireLease(ctx, candidate.ID, w.ID, w.cfg.LeaseTTL)
		if errors.Is(err, store.ErrConflict) {
			// Another worker got there first.
			continue
		}
		if err != nil {
			return false, fmt.Errorf("acquire lease: %w", err)
		}
		return true, w.process(ctx, b.ID)
	}
	return false, nil
}

func (w *Worker) process(ctx context.Context, batchID int64) (err error) {
	log := slog.With("worker_id", w.ID, "batch_id", batchID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during batch pass", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic during batch %d: %v", batchID, r)
		}
		if rerr := w.store.ReleaseLease(context.WithoutCancel(ctx), batchID, w.ID); rerr != nil {
			log.Warn("release lease failed", "error", rerr)
		}
	}()

	if err := w.recoverInterrupted(ctx, batchID); err != nil {
		return err
	}
	return w.exec.RunPass(ctx, batchID)
}

// recoverInterrupted resets commands left RUNNING by a worker that died mid-call.
func (w *Worker) recoverInterrupted(ctx context.Context, batchID int64) error {
	counts, err := w.store.CountCommands(ctx, batchID)
	if err != nil {
		return fmt.Errorf("count commands: %w", err)
	}
	if counts.Running == 0 {
		return nil
	}

	slog.Warn("recovering interrupted commands", "worker_id", w.ID, "batch_id", batchID, "running", counts.Running)
	if _, err := w.store.Commit(ctx, store.Update{BatchID: batchID, LeaseOwner: w.ID, ResetRunning: true}); err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	w.cfg.Metrics.Add(metrics.CounterCrashRecoveries, int64(counts.Running))
	return nil
}
