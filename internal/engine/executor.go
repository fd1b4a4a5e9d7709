// Package engine executes stored batches: it plans commands into API calls,
// resolves LAST, calls the knowledge-base adapter with bounded retries and
// records every result through the store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/store"
)

// FailurePolicy decides how a permanent failure of a combined call is
// recorded when the adapter does not report per-element results.
type FailurePolicy string

const (
	// PolicyShared marks every constituent of the failed call ERROR.
	PolicyShared FailurePolicy = "shared"
	// PolicyIsolate re-issues the constituents one by one so only the
	// offending command ends in ERROR.
	PolicyIsolate FailurePolicy = "isolate"
)

// ParseFailurePolicy validates a policy name. Empty means PolicyShared.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", PolicyShared:
		return PolicyShared, nil
	case PolicyIsolate:
		return PolicyIsolate, nil
	}
	return "", fmt.Errorf("unknown combined failure policy %q", s)
}

// errStopRequested aborts a unit whose RUNNING commit found a stop request.
var errStopRequested = errors.New("stop requested")

// Config tunes executors and workers.
type Config struct {
	Throttle     *Throttle
	Metrics      *metrics.Collector
	Retry        RetryPolicy
	Policy       FailurePolicy
	LeaseTTL     time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyShared
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Executor runs passes over batches leased by its owner.
type Executor struct {
	store    store.Store
	adapters AdapterFactory
	cfg      Config
	owner    string
}

// NewExecutor returns an executor writing under the given lease owner.
func NewExecutor(st store.Store, adapters AdapterFactory, cfg Config, owner string) *Executor {
	return &Executor{store: st, adapters: adapters, cfg: cfg.withDefaults(), owner: owner}
}

// pass is the state of one execution pass over a batch.
type pass struct {
	batch    *models.Batch
	adapter  Adapter
	resolver *Resolver
	log      *slog.Logger
}

// RunPass executes every non-terminal command of a batch the executor
// holds the lease on, in index order, until the batch is finished, blocked
// or stopped. It returns an error only when the pass could not record its
// progress (lease lost, store failure, context done); command failures are
// recorded on the commands themselves.
func (e *Executor) RunPass(ctx context.Context, batchID int64) error {
	start := time.Now()
	defer func() { e.cfg.Metrics.RecordTiming(metrics.OpBatchPass, time.Since(start)) }()

	log := slog.With("batch_id", batchID, "owner", e.owner)

	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("get batch: %w", err)
	}
	if b.LeaseOwner != e.owner {
		return fmt.Errorf("%w: batch %d is not leased by %s", store.ErrConflict, batchID, e.owner)
	}

	if !b.Flags.Started {
		b, err = e.commit(ctx, store.Update{BatchID: batchID, Batch: func(b *models.Batch) {
			b.Flags.Started = true
			b.Message = "Batch started processing at " + start.UTC().Format(time.RFC3339)
		}})
		if err != nil {
			return err
		}
	}

	adapter, err := e.adapters(b)
	if err != nil {
		log.Error("batch cannot start", "wikibase", b.Wikibase, "error", err)
		_, cerr := e.commit(ctx, store.Update{BatchID: batchID, Batch: func(b *models.Batch) {
			b.Flags.Failed = true
			b.Message = err.Error()
		}})
		return cerr
	}

	cmds, err := e.store.ListCommands(ctx, batchID, store.CommandFilter{Pending: true})
	if err != nil {
		return fmt.Errorf("list commands: %w", err)
	}
	units := Plan(cmds, b.Options.CombineCommands)
	log.Info("batch pass started", "pending", len(cmds), "units", len(units), "combine", b.Options.CombineCommands)

	// The lease is renewed in the background so one slow unit cannot
	// outlive it. Losing it cancels the pass.
	ctx, cancel := context.WithCancelCause(ctx)
	heartbeat := make(chan struct{})
	go func() {
		defer close(heartbeat)
		e.keepLease(ctx, cancel, batchID, log)
	}()
	defer func() {
		cancel(nil)
		<-heartbeat
	}()

	p := &pass{batch: b, adapter: adapter, resolver: NewResolver(), log: log}
	var stopped, blocked bool
	for _, u := range units {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		blocked, err = e.runUnit(ctx, p, u)
		if errors.Is(err, errStopRequested) {
			log.Info("stop requested, ending pass", "next_index", u.Commands[0].Index)
			stopped = true
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return err
		}
		if blocked {
			break
		}
	}

	final, err := e.commit(ctx, store.Update{BatchID: batchID, Batch: func(b *models.Batch) {
		now := time.Now().UTC().Format(time.RFC3339)
		switch {
		case blocked:
		case stopped:
			b.Message = "Batch stopped at " + now
		default:
			b.Message = "Batch finished processing at " + now
		}
	}})
	if err != nil {
		return err
	}
	if final.Status == models.BatchDone {
		e.cfg.Metrics.Add(metrics.CounterBatchesFinished, 1)
	}
	log.Info("batch pass finished", "status", final.Status, "duration", time.Since(start))
	return nil
}

// runUnit executes one unit and reports whether the block policy fired.
func (e *Executor) runUnit(ctx context.Context, p *pass, u Unit) (bool, error) {
	running := make([]store.CommandChange, len(u.Commands))
	for i, c := range u.Commands {
		running[i] = store.CommandChange{Index: c.Index, To: models.CommandRunning}
	}
	cur, err := e.commit(ctx, store.Update{
		BatchID:  p.batch.ID,
		Commands: running,
		Require: func(b *models.Batch, _ models.Counts) error {
			if b.Flags.StopRequested {
				return errStopRequested
			}
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	p.batch = cur

	changes, err := e.execute(ctx, p, u.Commands)
	if err != nil {
		// Commands stay RUNNING; crash recovery resets them.
		return false, err
	}

	update := store.Update{BatchID: p.batch.ID, Commands: changes}
	var done, failed int64
	blockedBy := -1
	for _, ch := range changes {
		if ch.To == models.CommandDone {
			done++
			continue
		}
		failed++
		p.log.Warn("command failed", "index", ch.Index, "code", ch.Error, "message", ch.Message)
		if blockedBy < 0 {
			blockedBy = ch.Index
		}
	}
	blocked := blockedBy >= 0 && p.batch.Options.BlockOnErrors
	if blocked {
		update.Batch = func(b *models.Batch) {
			b.Flags.Blocked = true
			b.Message = fmt.Sprintf("Blocked by error in command #%d", blockedBy)
		}
	}

	b, err := e.commit(context.WithoutCancel(ctx), update)
	if err != nil {
		return false, err
	}
	p.batch = b
	e.cfg.Metrics.Add(metrics.CounterCommandsDone, done)
	e.cfg.Metrics.Add(metrics.CounterCommandsError, failed)
	if blocked {
		p.log.Warn("batch blocked", "index", blockedBy)
	}
	return blocked, nil
}

// keepLease renews the batch lease every third of its TTL until ctx ends,
// and cancels the pass with the renewal error if the lease is lost.
func (e *Executor) keepLease(ctx context.Context, cancel context.CancelCauseFunc, batchID int64, log *slog.Logger) {
	ticker := time.NewTicker(e.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := e.store.RenewLease(ctx, batchID, e.owner, e.cfg.LeaseTTL); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("lease renewal failed, aborting pass", "error", err)
			cancel(fmt.Errorf("renew lease on batch %d: %w", batchID, err))
			return
		}
	}
}

// execute resolves and applies cmds as one call and returns the terminal
// change for each of them. An error means ctx ended mid-call.
func (e *Executor) execute(ctx context.Context, p *pass, cmds []models.Command) ([]store.CommandChange, error) {
	creates := Unit{Commands: cmds}.Creates()

	var out []store.CommandChange
	var members []models.Command
	var ops []models.Operation
	for i, c := range cmds {
		op := c.Op
		// Followers of a creation target the entity being created.
		if !creates || i == 0 {
			resolved, err := p.resolver.Resolve(c.Op)
			if err != nil {
				out = append(out, store.CommandChange{
					Index:   c.Index,
					To:      models.CommandError,
					Error:   models.ErrCodeLastNotEvaluated,
					Message: err.Error(),
				})
				continue
			}
			op = resolved
		}
		members = append(members, c)
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return out, nil
	}

	edit := Edit{BatchID: p.batch.ID, Ops: ops, Summary: Unit{Commands: members}.Summary()}
	if !creates {
		edit.Subject = models.SubjectOf(ops[0])
	}

	start := time.Now()
	at, err := e.cfg.Retry.call(ctx, e.cfg.Throttle, func(ctx context.Context) (Result, error) {
		return p.adapter.Apply(ctx, edit)
	})
	if err != nil {
		return nil, err
	}
	e.cfg.Metrics.RecordAPICall(string(ops[0].Kind()), time.Since(start))
	e.cfg.Metrics.Add(metrics.CounterRetries, int64(at.attempts-1))

	switch {
	case at.err == nil:
		if creates {
			p.resolver.Register(at.result.EntityID)
		}
		for i, c := range members {
			if elemErr, ok := at.result.ElementErrors[i]; ok {
				out = append(out, failure(c, elemErr.Code, elemErr.Message, at.attempts))
				continue
			}
			entity := at.result.EntityID
			if entity == "" {
				entity = string(models.SubjectOf(ops[i]))
			}
			out = append(out, store.CommandChange{
				Index:    c.Index,
				To:       models.CommandDone,
				ResultID: entity,
				Attempts: at.attempts,
			})
		}

	case at.exhausted:
		msg := fmt.Sprintf("gave up after %d attempts: %s", at.attempts, at.err.Message)
		for _, c := range members {
			out = append(out, failure(c, models.ErrCodeRetriesExhausted, msg, at.attempts))
		}

	case len(members) > 1 && e.cfg.Policy == PolicyIsolate:
		p.log.Info("combined edit failed, retrying commands one by one",
			"first_index", members[0].Index, "commands", len(members), "error", at.err.Message)
		for _, c := range members {
			part, err := e.execute(ctx, p, []models.Command{c})
			if err != nil {
				return nil, err
			}
			out = append(out, part...)
		}

	default:
		code, msg := at.err.Code, at.err.Message
		if code == models.ErrCodeNone {
			code = models.ErrCodeAPIUserError
		}
		if len(members) > 1 {
			code = models.ErrCodeCombiningFailed
			msg = "combined edit failed: " + msg
		}
		for _, c := range members {
			out = append(out, failure(c, code, msg, at.attempts))
		}
	}

	slices.SortFunc(out, func(a, b store.CommandChange) int { return a.Index - b.Index })
	return out, nil
}

func failure(c models.Command, code models.ErrorCode, msg string, attempts int) store.CommandChange {
	return store.CommandChange{
		Index:    c.Index,
		To:       models.CommandError,
		Error:    code,
		Message:  msg,
		Attempts: attempts,
	}
}

// commit writes u under the executor's lease.
func (e *Executor) commit(ctx context.Context, u store.Update) (*models.Batch, error) {
	u.LeaseOwner = e.owner
	b, err := e.store.Commit(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("commit batch %d: %w", u.BatchID, err)
	}
	return b, nil
}
