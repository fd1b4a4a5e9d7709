// Package models defines the batch, command and edit-operation types shared
// by the parser, engine, store and API layers.
package models

import "time"

// Syntax identifies the script format a batch was submitted in.
type Syntax string

const (
	SyntaxV1  Syntax = "v1"
	SyntaxCSV Syntax = "csv"
)

// BatchOptions are the per-batch execution switches chosen at submission.
type BatchOptions struct {
	BlockOnErrors   bool `json:"block_on_errors"`
	CombineCommands bool `json:"combine_commands"`
}

// Batch is one submitted script and its execution state.
type Batch struct {
	ID       int64        `json:"id"`
	Owner    string       `json:"owner"`
	Wikibase string       `json:"wikibase"`
	Name     string       `json:"name,omitempty"`
	Syntax   Syntax       `json:"syntax"`
	Status   BatchStatus  `json:"status"`
	Message  string       `json:"message,omitempty"`
	Options  BatchOptions `json:"options"`
	Flags    BatchFlags   `json:"flags"`
	Created  time.Time    `json:"created"`
	Modified time.Time    `json:"modified"`
	Version  int64        `json:"version"`

	// Lease held by the worker currently executing the batch.
	LeaseOwner   string    `json:"lease_owner,omitempty"`
	LeaseExpires time.Time `json:"lease_expires,omitzero"`
}

// Counts tallies the commands of a batch by status.
type Counts struct {
	Initial int `json:"initial"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Error   int `json:"error"`
	Total   int `json:"total"`
}

// Add records one command with status s.
func (c *Counts) Add(s CommandStatus) {
	switch s {
	case CommandInitial:
		c.Initial++
	case CommandRunning:
		c.Running++
	case CommandDone:
		c.Done++
	case CommandError:
		c.Error++
	}
	c.Total++
}

// Move re-files one command from status from to status to.
func (c *Counts) Move(from, to CommandStatus) {
	switch from {
	case CommandInitial:
		c.Initial--
	case CommandRunning:
		c.Running--
	case CommandDone:
		c.Done--
	case CommandError:
		c.Error--
	}
	c.Total--
	c.Add(to)
}

// Pending is the number of commands without a terminal result.
func (c Counts) Pending() int { return c.Initial + c.Running }

// CountCommands tallies cmds by status.
func CountCommands(cmds []Command) Counts {
	var c Counts
	for _, cmd := range cmds {
		c.Add(cmd.Status)
	}
	return c
}

// Summary is a batch together with its command counts.
type Summary struct {
	Batch  Batch  `json:"batch"`
	Counts Counts `json:"counts"`
}

// Derive recomputes the batch status from counts and the batch's flags.
func (b *Batch) Derive(c Counts) BatchStatus {
	return DeriveBatchStatus(c, b.Flags)
}

// ReportRow is one line of a batch report.
type ReportRow struct {
	Index     int           `json:"index"`
	Operation OpKind        `json:"operation"`
	Status    CommandStatus `json:"status"`
	Error     ErrorCode     `json:"error,omitempty"`
	Message   string        `json:"message,omitempty"`
	EntityID  string        `json:"entity_id,omitempty"`
	Raw       string        `json:"raw"`
}

// ReportRowOf flattens c into a report row.
func ReportRowOf(c Command) ReportRow {
	return ReportRow{
		Index:     c.Index,
		Operation: c.Kind(),
		Status:    c.Status,
		Error:     c.Error,
		Message:   c.Message,
		EntityID:  c.EntityID(),
		Raw:       c.Raw,
	}
}

// BatchEvent is one message of a live batch status stream.
type BatchEvent struct {
	// Type is "status" for progress updates, "done" once the batch has
	// settled, or "error".
	Type    string   `json:"type"`
	Summary *Summary `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`
}
