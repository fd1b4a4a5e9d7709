package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

type memoryBatch struct {
	batch    models.Batch
	commands []models.Command
}

func (m *memoryBatch) clone() *memoryBatch {
	return &memoryBatch{batch: m.batch, commands: slices.Clone(m.commands)}
}

// Memory is a Store kept entirely in process memory. Every method holds a
// single mutex, so Commit is trivially atomic.
type Memory struct {
	mu      sync.RWMutex
	batches map[int64]*memoryBatch
	nextID  int64
	nowFn   func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		batches: make(map[int64]*memoryBatch),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Intended for tests.
func (s *Memory) SetNow(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

func (s *Memory) CreateBatch(_ context.Context, b models.Batch, cmds []models.Command) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.nowFn()
	b.ID = s.nextID
	b.Created = now
	b.Modified = now
	b.Version = 1
	b.Status = models.DeriveBatchStatus(models.CountCommands(cmds), b.Flags)

	stored := make([]models.Command, len(cmds))
	for i, c := range cmds {
		c.BatchID = b.ID
		c.Index = i
		if c.Status == "" {
			c.Status = models.CommandInitial
		}
		c.Modified = now
		stored[i] = c
	}
	s.batches[b.ID] = &memoryBatch{batch: b, commands: stored}
	return &b, nil
}

func (s *Memory) get(id int64) (*memoryBatch, error) {
	m, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %d", ErrNotFound, id)
	}
	return m, nil
}

func (s *Memory) GetBatch(_ context.Context, id int64) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.get(id)
	if err != nil {
		return nil, err
	}
	b := m.batch
	return &b, nil
}

func (s *Memory) ListBatches(_ context.Context, f BatchFilter) ([]models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Batch
	for _, m := range s.batches {
		if f.Owner != "" && m.batch.Owner != f.Owner {
			continue
		}
		if f.Status != "" && m.batch.Status != f.Status {
			continue
		}
		out = append(out, m.batch)
	}
	// Newest first.
	slices.SortFunc(out, func(a, b models.Batch) int { return int(b.ID - a.ID) })
	return paginate(out, f.Offset, f.Limit), nil
}

func (s *Memory) ListCommands(_ context.Context, batchID int64, f CommandFilter) ([]models.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.get(batchID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Command, 0, len(m.commands))
	for _, c := range m.commands {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	return paginate(out, f.Offset, f.Limit), nil
}

func (s *Memory) CountCommands(_ context.Context, batchID int64) (models.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.get(batchID)
	if err != nil {
		return models.Counts{}, err
	}
	return models.CountCommands(m.commands), nil
}

func (s *Memory) ListEligible(_ context.Context, now time.Time, limit int) ([]models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Batch
	for _, m := range s.batches {
		if m.batch.Status.IsActive() && LeaseFree(&m.batch, "", now) {
			out = append(out, m.batch)
		}
	}
	slices.SortFunc(out, func(a, b models.Batch) int { return int(a.ID - b.ID) })
	return paginate(out, 0, limit), nil
}

func (s *Memory) AcquireLease(_ context.Context, batchID int64, owner string, ttl time.Duration) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.get(batchID)
	if err != nil {
		return nil, err
	}
	now := s.nowFn()
	if !m.batch.Status.IsActive() {
		return nil, fmt.Errorf("%w: batch %d is %s", ErrConflict, batchID, m.batch.Status)
	}
	if !LeaseFree(&m.batch, owner, now) {
		return nil, fmt.Errorf("%w: batch %d lease held by %q", ErrConflict, batchID, m.batch.LeaseOwner)
	}
	m.batch.LeaseOwner = owner
	m.batch.LeaseExpires = now.Add(ttl)
	b := m.batch
	return &b, nil
}

func (s *Memory) RenewLease(_ context.Context, batchID int64, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.get(batchID)
	if err != nil {
		return err
	}
	if m.batch.LeaseOwner != owner {
		return fmt.Errorf("%w: batch %d lease held by %q", ErrConflict, batchID, m.batch.LeaseOwner)
	}
	m.batch.LeaseExpires = s.nowFn().Add(ttl)
	return nil
}

func (s *Memory) ReleaseLease(_ context.Context, batchID int64, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.get(batchID)
	if err != nil {
		return err
	}
	if m.batch.LeaseOwner != owner {
		return fmt.Errorf("%w: batch %d lease held by %q", ErrConflict, batchID, m.batch.LeaseOwner)
	}
	m.batch.LeaseOwner = ""
	m.batch.LeaseExpires = time.Time{}
	return nil
}

func (s *Memory) Commit(_ context.Context, u Update) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.get(u.BatchID)
	if err != nil {
		return nil, err
	}

	// Work on a copy so a rejected update leaves no trace.
	next := cur.clone()
	now := s.nowFn()
	counts := models.CountCommands(next.commands)

	cmds := make(map[int]*models.Command, len(u.Commands))
	for _, ch := range u.Commands {
		if ch.Index < 0 || ch.Index >= len(next.commands) {
			return nil, fmt.Errorf("%w: command %d of batch %d", ErrNotFound, ch.Index, u.BatchID)
		}
		cmds[ch.Index] = &next.commands[ch.Index]
	}

	for i := range next.commands {
		c := &next.commands[i]
		if u.ResetRunning && c.Status == models.CommandRunning {
			ResetCommand(c, RecoveredMessage, now)
		}
		if u.ResetErrors && c.Status == models.CommandError {
			ResetCommand(c, "", now)
		}
	}
	if err := Apply(&next.batch, &counts, cmds, u, now); err != nil {
		return nil, err
	}

	s.batches[u.BatchID] = next
	b := next.batch
	return &b, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
