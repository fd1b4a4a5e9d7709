package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/store"
)

// commitAttempts bounds optimistic retries of one Commit.
const commitAttempts = 8

// batchRow is the stored shape of a batch.
type batchRow struct {
	ID              surrealmodels.RecordID `json:"id"`
	Num             int64                  `json:"num"`
	Owner           string                 `json:"owner"`
	Wikibase        string                 `json:"wikibase"`
	Name            string                 `json:"name"`
	Syntax          string                 `json:"syntax"`
	Status          string                 `json:"status"`
	Message         string                 `json:"message"`
	BlockOnErrors   bool                   `json:"block_on_errors"`
	CombineCommands bool                   `json:"combine_commands"`
	Authorized      bool                   `json:"authorized"`
	Started         bool                   `json:"started"`
	StopRequested   bool                   `json:"stop_requested"`
	Blocked         bool                   `json:"blocked"`
	Failed          bool                   `json:"failed"`
	Created         time.Time              `json:"created"`
	Modified        time.Time              `json:"modified"`
	Version         int64                  `json:"version"`
	LeaseOwner      string                 `json:"lease_owner"`
	LeaseExpires    *time.Time             `json:"lease_expires,omitempty"`
}

func (r batchRow) model() models.Batch {
	b := models.Batch{
		ID:       r.Num,
		Owner:    r.Owner,
		Wikibase: r.Wikibase,
		Name:     r.Name,
		Syntax:   models.Syntax(r.Syntax),
		Status:   models.BatchStatus(r.Status),
		Message:  r.Message,
		Options: models.BatchOptions{
			BlockOnErrors:   r.BlockOnErrors,
			CombineCommands: r.CombineCommands,
		},
		Flags: models.BatchFlags{
			Authorized:    r.Authorized,
			Started:       r.Started,
			StopRequested: r.StopRequested,
			Blocked:       r.Blocked,
			Failed:        r.Failed,
		},
		Created:    r.Created.UTC(),
		Modified:   r.Modified.UTC(),
		Version:    r.Version,
		LeaseOwner: r.LeaseOwner,
	}
	if r.LeaseExpires != nil {
		b.LeaseExpires = r.LeaseExpires.UTC()
	}
	return b
}

// batchFields are the columns written on create and commit. Lease columns
// are owned by the lease queries.
func batchFields(b *models.Batch) map[string]any {
	return map[string]any{
		"num":              b.ID,
		"owner":            b.Owner,
		"wikibase":         b.Wikibase,
		"name":             b.Name,
		"syntax":           string(b.Syntax),
		"status":           string(b.Status),
		"message":          b.Message,
		"block_on_errors":  b.Options.BlockOnErrors,
		"combine_commands": b.Options.CombineCommands,
		"authorized":       b.Flags.Authorized,
		"started":          b.Flags.Started,
		"stop_requested":   b.Flags.StopRequested,
		"blocked":          b.Flags.Blocked,
		"failed":           b.Flags.Failed,
		"created":          b.Created,
		"modified":         b.Modified,
		"version":          b.Version,
	}
}

// commandRow is the stored shape of a command.
type commandRow struct {
	ID       surrealmodels.RecordID `json:"id"`
	BatchID  int64                  `json:"batch_id"`
	Idx      int                    `json:"idx"`
	Op       string                 `json:"op"`
	Raw      string                 `json:"raw"`
	Summary  string                 `json:"summary"`
	Status   string                 `json:"status"`
	ResultID string                 `json:"result_id"`
	Error    string                 `json:"error"`
	Message  string                 `json:"message"`
	Attempts int                    `json:"attempts"`
	Modified time.Time              `json:"modified"`
}

func (r commandRow) model() (models.Command, error) {
	op, err := models.UnmarshalOperation([]byte(r.Op))
	if err != nil {
		return models.Command{}, fmt.Errorf("decode command %d of batch %d: %w", r.Idx, r.BatchID, err)
	}
	return models.Command{
		BatchID:  r.BatchID,
		Index:    r.Idx,
		Op:       op,
		Raw:      r.Raw,
		Summary:  r.Summary,
		Status:   models.CommandStatus(r.Status),
		ResultID: r.ResultID,
		Error:    models.ErrorCode(r.Error),
		Message:  r.Message,
		Attempts: r.Attempts,
		Modified: r.Modified.UTC(),
	}, nil
}

func commandKey(batchID int64, idx int) string {
	return fmt.Sprintf("%d_%d", batchID, idx)
}

// resultFields are the columns a status change writes.
func resultFields(c *models.Command) map[string]any {
	return map[string]any{
		"status":    string(c.Status),
		"result_id": c.ResultID,
		"error":     string(c.Error),
		"message":   c.Message,
		"attempts":  c.Attempts,
		"modified":  c.Modified,
	}
}

// Store implements store.Store on SurrealDB.
type Store struct {
	client  *Client
	metrics *metrics.Collector
	nowFn   func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore returns a Store using client. mc may be nil.
func NewStore(client *Client, mc *metrics.Collector) *Store {
	return &Store{client: client, metrics: mc, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) timed(start time.Time) {
	s.metrics.RecordTiming(metrics.OpDBQuery, time.Since(start))
}

// first returns the rows of the first statement result, or nil.
func first[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

func (s *Store) CreateBatch(ctx context.Context, b models.Batch, cmds []models.Command) (*models.Batch, error) {
	defer s.timed(time.Now())

	seq, err := surrealdb.Query[[]int64](ctx, s.client.DB(),
		`UPSERT counter:batch SET value = (value ?? 0) + 1 RETURN VALUE value`, nil)
	if err != nil {
		return nil, fmt.Errorf("next batch id: %w", wrapQueryError(err))
	}
	ids := first(seq)
	if len(ids) == 0 {
		return nil, errors.New("next batch id: empty result")
	}

	now := s.nowFn()
	b.ID = ids[0]
	b.Created = now
	b.Modified = now
	b.Version = 1
	b.LeaseOwner = ""
	b.LeaseExpires = time.Time{}
	b.Status = models.DeriveBatchStatus(models.CountCommands(cmds), b.Flags)

	rows := make([]map[string]any, len(cmds))
	for i, c := range cmds {
		op, err := models.MarshalOperation(c.Op)
		if err != nil {
			return nil, fmt.Errorf("encode command %d: %w", i, err)
		}
		status := c.Status
		if status == "" {
			status = models.CommandInitial
		}
		rows[i] = map[string]any{
			"key": commandKey(b.ID, i),
			"row": map[string]any{
				"batch_id":  b.ID,
				"idx":       i,
				"op":        string(op),
				"raw":       c.Raw,
				"summary":   c.Summary,
				"status":    string(status),
				"result_id": c.ResultID,
				"error":     string(c.Error),
				"message":   c.Message,
				"attempts":  c.Attempts,
				"modified":  now,
			},
		}
	}

	_, err = surrealdb.Query[any](ctx, s.client.DB(), `
		BEGIN TRANSACTION;
		CREATE type::record("batch", $id) CONTENT $batch;
		FOR $c IN $commands {
			CREATE type::record("command", $c.key) CONTENT $c.row;
		};
		COMMIT TRANSACTION;
	`, map[string]any{
		"id":       b.ID,
		"batch":    batchFields(&b),
		"commands": rows,
	})
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", wrapQueryError(err))
	}
	return &b, nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	defer s.timed(time.Now())

	results, err := surrealdb.Query[[]batchRow](ctx, s.client.DB(),
		`SELECT * FROM type::record("batch", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", wrapQueryError(err))
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: batch %d", store.ErrNotFound, id)
	}
	b := rows[0].model()
	return &b, nil
}

// pageClause renders LIMIT/START; zero limit means unbounded.
func pageClause(offset, limit int, vars map[string]any) string {
	var b strings.Builder
	if limit > 0 {
		b.WriteString(" LIMIT $limit")
		vars["limit"] = limit
	}
	if offset > 0 {
		b.WriteString(" START $offset")
		vars["offset"] = offset
	}
	return b.String()
}

func (s *Store) ListBatches(ctx context.Context, f store.BatchFilter) ([]models.Batch, error) {
	defer s.timed(time.Now())

	var where []string
	vars := map[string]any{}
	if f.Owner != "" {
		where = append(where, "owner = $owner")
		vars["owner"] = f.Owner
	}
	if f.Status != "" {
		where = append(where, "status = $status")
		vars["status"] = string(f.Status)
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	sql := fmt.Sprintf(`SELECT * FROM batch %s ORDER BY num DESC%s`, whereClause, pageClause(f.Offset, f.Limit, vars))
	results, err := surrealdb.Query[[]batchRow](ctx, s.client.DB(), sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", wrapQueryError(err))
	}

	rows := first(results)
	out := make([]models.Batch, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *Store) ListCommands(ctx context.Context, batchID int64, f store.CommandFilter) ([]models.Command, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	defer s.timed(time.Now())

	vars := map[string]any{"batch": batchID}
	statusClause := ""
	switch {
	case f.OnlyErrors:
		statusClause = "AND status = $status"
		vars["status"] = string(models.CommandError)
	case f.Pending:
		statusClause = "AND status IN $statuses"
		vars["statuses"] = []string{string(models.CommandInitial), string(models.CommandRunning)}
	}

	sql := fmt.Sprintf(`SELECT * FROM command WHERE batch_id = $batch %s ORDER BY idx%s`,
		statusClause, pageClause(f.Offset, f.Limit, vars))
	results, err := surrealdb.Query[[]commandRow](ctx, s.client.DB(), sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", wrapQueryError(err))
	}
	return toCommands(first(results))
}

func toCommands(rows []commandRow) ([]models.Command, error) {
	out := make([]models.Command, len(rows))
	for i, r := range rows {
		c, err := r.model()
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

type statusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (s *Store) CountCommands(ctx context.Context, batchID int64) (models.Counts, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return models.Counts{}, err
	}
	return s.countCommands(ctx, batchID)
}

func (s *Store) countCommands(ctx context.Context, batchID int64) (models.Counts, error) {
	defer s.timed(time.Now())

	results, err := surrealdb.Query[[]statusCount](ctx, s.client.DB(),
		`SELECT status, count() AS count FROM command WHERE batch_id = $batch GROUP BY status`,
		map[string]any{"batch": batchID})
	if err != nil {
		return models.Counts{}, fmt.Errorf("count commands: %w", wrapQueryError(err))
	}

	var counts models.Counts
	for _, sc := range first(results) {
		switch models.CommandStatus(sc.Status) {
		case models.CommandInitial:
			counts.Initial = sc.Count
		case models.CommandRunning:
			counts.Running = sc.Count
		case models.CommandDone:
			counts.Done = sc.Count
		case models.CommandError:
			counts.Error = sc.Count
		}
		counts.Total += sc.Count
	}
	return counts, nil
}

var activeStatuses = []string{string(models.BatchInitial), string(models.BatchRunning)}

func (s *Store) ListEligible(ctx context.Context, now time.Time, limit int) ([]models.Batch, error) {
	defer s.timed(time.Now())

	vars := map[string]any{"active": activeStatuses, "now": now}
	sql := `SELECT * FROM batch
		WHERE status IN $active AND (lease_owner = "" OR lease_expires <= $now)
		ORDER BY num` + pageClause(0, limit, vars)
	results, err := surrealdb.Query[[]batchRow](ctx, s.client.DB(), sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list eligible: %w", wrapQueryError(err))
	}

	rows := first(results)
	out := make([]models.Batch, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// leaseMiss explains why a conditional lease update matched nothing.
func (s *Store) leaseMiss(ctx context.Context, batchID int64) error {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !b.Status.IsActive() {
		return fmt.Errorf("%w: batch %d is %s", store.ErrConflict, batchID, b.Status)
	}
	return fmt.Errorf("%w: batch %d lease held by %q", store.ErrConflict, batchID, b.LeaseOwner)
}

func (s *Store) AcquireLease(ctx context.Context, batchID int64, owner string, ttl time.Duration) (*models.Batch, error) {
	start := time.Now()
	now := s.nowFn()

	results, err := surrealdb.Query[[]batchRow](ctx, s.client.DB(), `
		UPDATE type::record("batch", $id)
		SET lease_owner = $owner, lease_expires = $expires
		WHERE status IN $active
			AND (lease_owner = "" OR lease_owner = $owner OR lease_expires <= $now)
		RETURN AFTER
	`, map[string]any{
		"id":      batchID,
		"owner":   owner,
		"expires": now.Add(ttl),
		"now":     now,
		"active":  activeStatuses,
	})
	s.timed(start)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", wrapQueryError(err))
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, s.leaseMiss(ctx, batchID)
	}
	b := rows[0].model()
	return &b, nil
}

func (s *Store) RenewLease(ctx context.Context, batchID int64, owner string, ttl time.Duration) error {
	start := time.Now()
	results, err := surrealdb.Query[[]batchRow](ctx, s.client.DB(), `
		UPDATE type::record("batch", $id) SET lease_expires = $expires
		WHERE lease_owner = $owner
		RETURN AFTER
	`, map[string]any{"id": batchID, "owner": owner, "expires": s.nowFn().Add(ttl)})
	s.timed(start)
	if err != nil {
		return fmt.Errorf("renew lease: %w", wrapQueryError(err))
	}
	if len(first(results)) == 0 {
		return s.leaseMiss(ctx, batchID)
	}
	return nil
}

func (s *Store) ReleaseLease(ctx context.Context, batchID int64, owner string) error {
	start := time.Now()
	results, err := surrealdb.Query[[]batchRow](ctx, s.client.DB(), `
		UPDATE type::record("batch", $id) SET lease_owner = "", lease_expires = NONE
		WHERE lease_owner = $owner
		RETURN AFTER
	`, map[string]any{"id": batchID, "owner": owner})
	s.timed(start)
	if err != nil {
		return fmt.Errorf("release lease: %w", wrapQueryError(err))
	}
	if len(first(results)) == 0 {
		b, err := s.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: batch %d lease held by %q", store.ErrConflict, batchID, b.LeaseOwner)
	}
	return nil
}

// Commit reads the batch, applies u in memory and writes the result in one
// transaction guarded by the batch version. A concurrent writer makes the
// transaction throw, and the whole read-apply-write cycle is retried.
func (s *Store) Commit(ctx context.Context, u store.Update) (*models.Batch, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 20 * time.Millisecond
	exp.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, commitAttempts-1), ctx)

	return backoff.RetryNotifyWithData(func() (*models.Batch, error) {
		b, err := s.commitOnce(ctx, u)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return b, err
	}, policy, func(err error, wait time.Duration) {
		slog.Debug("retrying commit", "batch_id", u.BatchID, "error", err, "wait", wait)
	})
}

func (s *Store) commitOnce(ctx context.Context, u store.Update) (*models.Batch, error) {
	b, err := s.GetBatch(ctx, u.BatchID)
	if err != nil {
		return nil, err
	}
	counts, err := s.countCommands(ctx, u.BatchID)
	if err != nil {
		return nil, err
	}

	cmds := make(map[int]*models.Command, len(u.Commands))
	if len(u.Commands) > 0 {
		indices := make([]int, len(u.Commands))
		for i, ch := range u.Commands {
			indices[i] = ch.Index
		}
		results, err := surrealdb.Query[[]commandRow](ctx, s.client.DB(),
			`SELECT * FROM command WHERE batch_id = $batch AND idx IN $indices`,
			map[string]any{"batch": u.BatchID, "indices": indices})
		if err != nil {
			return nil, fmt.Errorf("load commands: %w", wrapQueryError(err))
		}
		loaded, err := toCommands(first(results))
		if err != nil {
			return nil, err
		}
		for i := range loaded {
			cmds[loaded[i].Index] = &loaded[i]
		}
	}

	now := s.nowFn()
	for _, c := range cmds {
		if u.ResetRunning && c.Status == models.CommandRunning {
			store.ResetCommand(c, store.RecoveredMessage, now)
		}
		if u.ResetErrors && c.Status == models.CommandError {
			store.ResetCommand(c, "", now)
		}
	}

	version := b.Version
	if err := store.Apply(b, &counts, cmds, u, now); err != nil {
		return nil, err
	}

	changes := make([]map[string]any, 0, len(u.Commands))
	for _, ch := range u.Commands {
		changes = append(changes, map[string]any{
			"key": commandKey(u.BatchID, ch.Index),
			"set": resultFields(cmds[ch.Index]),
		})
	}

	var resets strings.Builder
	if u.ResetRunning {
		resets.WriteString(`UPDATE command SET status = "initial", result_id = "", error = "", message = $recovered, attempts = 0, modified = $now
			WHERE batch_id = $id AND status = "running";`)
	}
	if u.ResetErrors {
		resets.WriteString(`UPDATE command SET status = "initial", result_id = "", error = "", message = "", attempts = 0, modified = $now
			WHERE batch_id = $id AND status = "error";`)
	}

	start := time.Now()
	sql := fmt.Sprintf(`
		BEGIN TRANSACTION;
		LET $current = (SELECT VALUE version FROM ONLY type::record("batch", $id));
		IF $current != $version {
			THROW "%s";
		};
		UPDATE type::record("batch", $id) MERGE $batch;
		%s
		FOR $c IN $changes {
			UPDATE type::record("command", $c.key) MERGE $c.set;
		};
		COMMIT TRANSACTION;
	`, versionConflictMsg, resets.String())
	_, err = surrealdb.Query[any](ctx, s.client.DB(), sql, map[string]any{
		"id":        u.BatchID,
		"version":   version,
		"batch":     batchFields(b),
		"changes":   changes,
		"recovered": store.RecoveredMessage,
		"now":       now,
	})
	s.timed(start)
	if err != nil {
		return nil, fmt.Errorf("commit batch %d: %w", u.BatchID, wrapQueryError(err))
	}
	return b, nil
}
