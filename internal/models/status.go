package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not permitted.
var ErrInvalidTransition = errors.New("invalid status transition")

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPreview BatchStatus = "preview"
	BatchInitial BatchStatus = "initial"
	BatchRunning BatchStatus = "running"
	BatchDone    BatchStatus = "done"
	BatchBlocked BatchStatus = "blocked"
	BatchStopped BatchStatus = "stopped"
	BatchError   BatchStatus = "error"
)

// CommandStatus is the lifecycle state of a single command.
type CommandStatus string

const (
	CommandInitial CommandStatus = "initial"
	CommandRunning CommandStatus = "running"
	CommandDone    CommandStatus = "done"
	CommandError   CommandStatus = "error"
)

var validBatchStatuses = map[BatchStatus]bool{
	BatchPreview: true, BatchInitial: true, BatchRunning: true, BatchDone: true,
	BatchBlocked: true, BatchStopped: true, BatchError: true,
}

var validCommandStatuses = map[CommandStatus]bool{
	CommandInitial: true, CommandRunning: true, CommandDone: true, CommandError: true,
}

// batchTransitions is the single authoritative batch state machine.
var batchTransitions = map[BatchStatus]map[BatchStatus]bool{
	BatchPreview: {BatchInitial: true},
	BatchInitial: {BatchRunning: true, BatchStopped: true},
	BatchRunning: {BatchDone: true, BatchBlocked: true, BatchStopped: true, BatchError: true},
	BatchStopped: {BatchRunning: true},
	BatchBlocked: {BatchRunning: true},
	BatchDone:    {BatchRunning: true},
	BatchError:   {},
}

// commandTransitions covers one execution attempt plus the two resets:
// crash recovery (running→initial) and rerun (error→initial).
var commandTransitions = map[CommandStatus]map[CommandStatus]bool{
	CommandInitial: {CommandRunning: true},
	CommandRunning: {CommandDone: true, CommandError: true, CommandInitial: true},
	CommandError:   {CommandInitial: true},
	CommandDone:    {},
}

// IsValid reports whether s is a known batch status.
func (s BatchStatus) IsValid() bool { return validBatchStatuses[s] }

// IsActive reports whether a worker may pick up a batch in this status.
func (s BatchStatus) IsActive() bool {
	return s == BatchInitial || s == BatchRunning
}

// IsTerminal reports whether no further transition is possible without an
// explicit request (restart, rerun).
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchDone, BatchBlocked, BatchStopped, BatchError:
		return true
	}
	return false
}

// IsValid reports whether s is a known command status.
func (s CommandStatus) IsValid() bool { return validCommandStatuses[s] }

// IsTerminal reports whether the command has a final result for this pass.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandDone || s == CommandError
}

// ValidateBatchTransition returns ErrInvalidTransition unless from→to is
// listed in the batch state machine.
func ValidateBatchTransition(from, to BatchStatus) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: unknown batch status %q", ErrInvalidTransition, from)
	}
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown batch status %q", ErrInvalidTransition, to)
	}
	if !batchTransitions[from][to] {
		return fmt.Errorf("%w: batch %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidateCommandTransition returns ErrInvalidTransition unless from→to is
// listed in the command state machine.
func ValidateCommandTransition(from, to CommandStatus) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: unknown command status %q -> %q", ErrInvalidTransition, from, to)
	}
	if !commandTransitions[from][to] {
		return fmt.Errorf("%w: command %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// BatchFlags are the explicit, non-derived facts about a batch.
type BatchFlags struct {
	Authorized    bool `json:"authorized"` // false while awaiting authorization (PREVIEW)
	Started       bool `json:"started"`    // a pass has begun at least once
	StopRequested bool `json:"stop_requested"`
	Blocked       bool `json:"blocked"` // block_on_errors fired in the last pass
	Failed        bool `json:"failed"`  // execution could not start at all
}

// DeriveBatchStatus computes the batch status from its command counts and
// flags. Every status the engine writes goes through this function.
func DeriveBatchStatus(c Counts, f BatchFlags) BatchStatus {
	switch {
	case !f.Authorized:
		return BatchPreview
	case f.Failed:
		return BatchError
	case f.Blocked:
		return BatchBlocked
	case !f.Started && f.StopRequested:
		return BatchStopped
	case !f.Started:
		return BatchInitial
	case c.Pending() == 0:
		return BatchDone
	case f.StopRequested && c.Running == 0:
		return BatchStopped
	default:
		return BatchRunning
	}
}
