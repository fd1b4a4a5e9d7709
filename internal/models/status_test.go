package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBatchTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    BatchStatus
		to      BatchStatus
		wantErr bool
	}{
		{"authorize", BatchPreview, BatchInitial, false},
		{"start", BatchInitial, BatchRunning, false},
		{"stop before start", BatchInitial, BatchStopped, false},
		{"finish", BatchRunning, BatchDone, false},
		{"block", BatchRunning, BatchBlocked, false},
		{"stop", BatchRunning, BatchStopped, false},
		{"restart stopped", BatchStopped, BatchRunning, false},
		{"restart blocked", BatchBlocked, BatchRunning, false},
		{"rerun", BatchDone, BatchRunning, false},
		{"preview cannot start", BatchPreview, BatchRunning, true},
		{"done cannot stop", BatchDone, BatchStopped, true},
		{"stopped cannot finish", BatchStopped, BatchDone, true},
		{"error is final", BatchError, BatchRunning, true},
		{"unknown status", BatchStatus("paused"), BatchRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchTransition(tt.from, tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateCommandTransition(t *testing.T) {
	assert.NoError(t, ValidateCommandTransition(CommandInitial, CommandRunning))
	assert.NoError(t, ValidateCommandTransition(CommandRunning, CommandDone))
	assert.NoError(t, ValidateCommandTransition(CommandRunning, CommandError))
	assert.NoError(t, ValidateCommandTransition(CommandRunning, CommandInitial))
	assert.NoError(t, ValidateCommandTransition(CommandError, CommandInitial))

	assert.ErrorIs(t, ValidateCommandTransition(CommandDone, CommandInitial), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateCommandTransition(CommandInitial, CommandDone), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateCommandTransition(CommandDone, CommandRunning), ErrInvalidTransition)
}

func TestDeriveBatchStatus(t *testing.T) {
	running := BatchFlags{Authorized: true, Started: true}

	tests := []struct {
		name   string
		counts Counts
		flags  BatchFlags
		want   BatchStatus
	}{
		{"not authorized", Counts{Initial: 3, Total: 3}, BatchFlags{}, BatchPreview},
		{"authorized not started", Counts{Initial: 3, Total: 3}, BatchFlags{Authorized: true}, BatchInitial},
		{"stopped before start", Counts{Initial: 3, Total: 3}, BatchFlags{Authorized: true, StopRequested: true}, BatchStopped},
		{"in progress", Counts{Initial: 1, Running: 1, Done: 1, Total: 3}, running, BatchRunning},
		{"all terminal", Counts{Done: 2, Error: 1, Total: 3}, running, BatchDone},
		{"stop waits for in-flight", Counts{Initial: 1, Running: 1, Total: 2}, BatchFlags{Authorized: true, Started: true, StopRequested: true}, BatchRunning},
		{"stopped between commands", Counts{Initial: 3, Done: 2, Total: 5}, BatchFlags{Authorized: true, Started: true, StopRequested: true}, BatchStopped},
		{"stop after last command", Counts{Done: 2, Total: 2}, BatchFlags{Authorized: true, Started: true, StopRequested: true}, BatchDone},
		{"blocked", Counts{Initial: 1, Done: 1, Error: 1, Total: 3}, BatchFlags{Authorized: true, Started: true, Blocked: true}, BatchBlocked},
		{"failed", Counts{Initial: 1, Total: 1}, BatchFlags{Authorized: true, Started: true, Failed: true}, BatchError},
		{"empty batch", Counts{}, running, BatchDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveBatchStatus(tt.counts, tt.flags))
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, BatchInitial.IsActive())
	assert.True(t, BatchRunning.IsActive())
	assert.False(t, BatchStopped.IsActive())
	assert.True(t, BatchBlocked.IsTerminal())
	assert.False(t, BatchPreview.IsTerminal())
	assert.True(t, CommandError.IsTerminal())
	assert.False(t, CommandRunning.IsTerminal())
}

func TestCountCommands(t *testing.T) {
	c := CountCommands([]Command{
		{Status: CommandDone},
		{Status: CommandDone},
		{Status: CommandError},
		{Status: CommandInitial},
	})
	assert.Equal(t, Counts{Initial: 1, Done: 2, Error: 1, Total: 4}, c)
	assert.Equal(t, 1, c.Pending())
}
