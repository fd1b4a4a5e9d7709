package models

import (
	"encoding/json"
	"time"
)

// ErrorCode is the machine-readable reason a command ended in ERROR.
type ErrorCode string

const (
	ErrCodeNone              ErrorCode = ""
	ErrCodeNotImplemented    ErrorCode = "op_not_implemented"
	ErrCodeNoStatementsProp  ErrorCode = "no_statements_property"
	ErrCodeNoStatementsValue ErrorCode = "no_statements_value"
	ErrCodeNoQualifiers      ErrorCode = "no_qualifiers"
	ErrCodeNoReferenceParts  ErrorCode = "no_reference_parts"
	ErrCodeSitelinkInvalid   ErrorCode = "sitelink_invalid"
	ErrCodeCombiningFailed   ErrorCode = "combining_failed"
	ErrCodeAPIUserError      ErrorCode = "api_user_error"
	ErrCodeAPIServerError    ErrorCode = "api_server_error"
	ErrCodeLastNotEvaluated  ErrorCode = "last_not_evaluated"
	ErrCodeRetriesExhausted  ErrorCode = "retries_exhausted"
	ErrCodeUnauthorized      ErrorCode = "unauthorized"
	ErrCodeInvalidValueType  ErrorCode = "invalid_value_type"
	ErrCodeUnknownWikibase   ErrorCode = "unknown_wikibase"
	ErrCodeInternal          ErrorCode = "internal_error"
)

// Command is one structured edit derived from one script line.
type Command struct {
	BatchID  int64         `json:"batch_id"`
	Index    int           `json:"index"`
	Op       Operation     `json:"-"`
	Raw      string        `json:"raw"`
	Summary  string        `json:"summary,omitempty"`
	Status   CommandStatus `json:"status"`
	ResultID string        `json:"result_id,omitempty"`
	Error    ErrorCode     `json:"error,omitempty"`
	Message  string        `json:"message,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Modified time.Time     `json:"modified,omitzero"`
}

// Kind returns the operation kind, or "" when Op is unset.
func (c Command) Kind() OpKind {
	if c.Op == nil {
		return ""
	}
	return c.Op.Kind()
}

// EntityID is the entity the command created or touched, falling back to
// the subject as written in the script.
func (c Command) EntityID() string {
	if c.ResultID != "" {
		return c.ResultID
	}
	if c.Op == nil {
		return ""
	}
	return string(SubjectOf(c.Op))
}

type commandJSON struct {
	commandAlias
	Kind OpKind          `json:"kind"`
	Op   json.RawMessage `json:"op"`
}

type commandAlias Command

// MarshalJSON encodes the command with its operation in a kind envelope.
func (c Command) MarshalJSON() ([]byte, error) {
	var op json.RawMessage
	if c.Op != nil {
		b, err := MarshalOperation(c.Op)
		if err != nil {
			return nil, err
		}
		op = b
	}
	return json.Marshal(commandJSON{commandAlias: commandAlias(c), Kind: c.Kind(), Op: op})
}

// UnmarshalJSON decodes a command written by MarshalJSON.
func (c *Command) UnmarshalJSON(b []byte) error {
	var raw commandJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Command(raw.commandAlias)
	if len(raw.Op) > 0 && string(raw.Op) != "null" {
		op, err := UnmarshalOperation(raw.Op)
		if err != nil {
			return err
		}
		c.Op = op
	}
	return nil
}
