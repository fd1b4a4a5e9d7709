// Package store defines persistence for batches and their commands, plus an
// in-memory implementation used by tests and single-process deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

// Sentinel errors shared by every Store implementation.
var (
	// ErrNotFound indicates the batch or command does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a lease held by someone else, or a batch that is
	// not in a status the request can act on.
	ErrConflict = errors.New("conflict")
)

// RecoveredMessage is written to commands reset by crash recovery.
const RecoveredMessage = "restarted after interruption"

// BatchFilter selects batches for listing. Zero values match everything.
type BatchFilter struct {
	Owner  string
	Status models.BatchStatus
	Offset int
	Limit  int
}

// CommandFilter selects commands of one batch, in index order.
type CommandFilter struct {
	OnlyErrors bool
	// Pending restricts the result to INITIAL and RUNNING commands.
	Pending bool
	Offset  int
	Limit   int
}

// Matches reports whether a command passes the filter's status criteria.
func (f CommandFilter) Matches(c models.Command) bool {
	if f.OnlyErrors && c.Status != models.CommandError {
		return false
	}
	if f.Pending && c.Status.IsTerminal() {
		return false
	}
	return true
}

// CommandChange moves one command to a new status.
type CommandChange struct {
	Index    int
	To       models.CommandStatus
	ResultID string
	Error    models.ErrorCode
	Message  string
	Attempts int
}

// Update is one atomic change to a batch and some of its commands. The
// batch status is never set directly: it is re-derived from the resulting
// counts and flags and validated against the batch state machine.
type Update struct {
	BatchID int64

	// LeaseOwner, when set, makes the update fail with ErrConflict unless
	// that owner still holds the batch lease.
	LeaseOwner string

	// Require, when set, checks the batch and its counts as read inside the
	// commit, before anything is changed. An error aborts the update and is
	// returned unwrapped.
	Require func(b *models.Batch, counts models.Counts) error

	Commands []CommandChange

	// ResetErrors moves every ERROR command back to INITIAL.
	ResetErrors bool
	// ResetRunning moves every RUNNING command back to INITIAL with
	// RecoveredMessage.
	ResetRunning bool

	// Batch mutates flags, options or message. It must not touch status.
	Batch func(*models.Batch)
}

// Store persists batches and commands.
type Store interface {
	// CreateBatch stores b and its commands atomically and assigns the id.
	CreateBatch(ctx context.Context, b models.Batch, cmds []models.Command) (*models.Batch, error)
	GetBatch(ctx context.Context, id int64) (*models.Batch, error)
	ListBatches(ctx context.Context, f BatchFilter) ([]models.Batch, error)
	ListCommands(ctx context.Context, batchID int64, f CommandFilter) ([]models.Command, error)
	CountCommands(ctx context.Context, batchID int64) (models.Counts, error)

	// ListEligible returns INITIAL and RUNNING batches whose lease is free
	// or expired at now, oldest first.
	ListEligible(ctx context.Context, now time.Time, limit int) ([]models.Batch, error)

	// AcquireLease claims an eligible batch for owner until now+ttl.
	AcquireLease(ctx context.Context, batchID int64, owner string, ttl time.Duration) (*models.Batch, error)
	RenewLease(ctx context.Context, batchID int64, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, batchID int64, owner string) error

	// Commit applies u atomically and returns the updated batch.
	Commit(ctx context.Context, u Update) (*models.Batch, error)
}

// Apply validates u against the current state and applies it in place.
// counts must describe the batch's commands before the update. cmds must
// hold every command named in u.Commands, with the bulk resets already
// applied to them; Apply itself only moves the reset rows in counts.
func Apply(b *models.Batch, counts *models.Counts, cmds map[int]*models.Command, u Update, now time.Time) error {
	if u.LeaseOwner != "" && b.LeaseOwner != u.LeaseOwner {
		return fmt.Errorf("%w: batch %d lease held by %q", ErrConflict, b.ID, b.LeaseOwner)
	}
	if u.Require != nil {
		if err := u.Require(b, *counts); err != nil {
			return err
		}
	}

	if u.ResetRunning {
		counts.Initial += counts.Running
		counts.Running = 0
	}
	if u.ResetErrors {
		counts.Initial += counts.Error
		counts.Error = 0
	}

	for _, ch := range u.Commands {
		cmd, ok := cmds[ch.Index]
		if !ok {
			return fmt.Errorf("%w: command %d of batch %d", ErrNotFound, ch.Index, b.ID)
		}
		if err := models.ValidateCommandTransition(cmd.Status, ch.To); err != nil {
			return fmt.Errorf("command %d: %w", ch.Index, err)
		}
		counts.Move(cmd.Status, ch.To)

		cmd.Status = ch.To
		cmd.ResultID = ch.ResultID
		cmd.Error = ch.Error
		cmd.Message = ch.Message
		cmd.Attempts = ch.Attempts
		cmd.Modified = now
	}

	if u.Batch != nil {
		status := b.Status
		u.Batch(b)
		b.Status = status
	}

	next := models.DeriveBatchStatus(*counts, b.Flags)
	if next != b.Status {
		if err := models.ValidateBatchTransition(b.Status, next); err != nil {
			return fmt.Errorf("batch %d: %w", b.ID, err)
		}
		b.Status = next
	}
	// A stop that arrives during the last command is moot.
	if b.Status == models.BatchDone {
		b.Flags.StopRequested = false
	}
	b.Modified = now
	b.Version++
	return nil
}

// ResetCommand clears a command's result for a new attempt.
func ResetCommand(c *models.Command, message string, now time.Time) {
	c.Status = models.CommandInitial
	c.ResultID = ""
	c.Error = models.ErrCodeNone
	c.Message = message
	c.Attempts = 0
	c.Modified = now
}

// LeaseFree reports whether b can be claimed by owner at now.
func LeaseFree(b *models.Batch, owner string, now time.Time) bool {
	return b.LeaseOwner == "" || b.LeaseOwner == owner || !now.Before(b.LeaseExpires)
}
