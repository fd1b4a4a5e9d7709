package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

// ErrorKind classifies an adapter failure.
type ErrorKind string

const (
	// Transient failures (network, timeout, rate limit, 5xx) are retried.
	Transient ErrorKind = "transient"
	// Permanent failures end the command in ERROR immediately.
	Permanent ErrorKind = "permanent"
)

// APIError is a classified failure reported by an Adapter.
type APIError struct {
	Kind       ErrorKind
	Code       models.ErrorCode
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api error (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api error: %s", e.Kind, e.Message)
}

// NewTransientError returns a retryable APIError.
func NewTransientError(status int, msg string) *APIError {
	return &APIError{Kind: Transient, Code: models.ErrCodeAPIServerError, Message: msg, StatusCode: status}
}

// NewPermanentError returns a non-retryable APIError.
func NewPermanentError(code models.ErrorCode, status int, msg string) *APIError {
	return &APIError{Kind: Permanent, Code: code, Message: msg, StatusCode: status}
}

// classify turns any adapter error into an APIError. Unclassified errors
// are network-level failures and therefore transient.
func classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Kind: Transient, Code: models.ErrCodeAPIServerError, Message: err.Error()}
}

// Edit is one API call: a single command or a combined unit.
type Edit struct {
	BatchID int64
	// Subject is the resolved target entity, or "" when Ops[0] creates it.
	Subject models.EntityRef
	Ops     []models.Operation
	// Summary is the user-provided edit summary, already joined.
	Summary string
}

// Result is a successful (possibly partially successful) API call.
type Result struct {
	// EntityID is the created or edited entity.
	EntityID string
	// ElementErrors holds per-op failures keyed by position in Edit.Ops,
	// for adapters able to report them.
	ElementErrors map[int]*APIError
}

// Adapter performs edits against a knowledge base. It is the only place
// with external side effects.
type Adapter interface {
	Apply(ctx context.Context, edit Edit) (Result, error)
}

// AdapterFactory returns the adapter for a batch's target knowledge base.
type AdapterFactory func(b *models.Batch) (Adapter, error)

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, edit Edit) (Result, error)

func (f AdapterFunc) Apply(ctx context.Context, edit Edit) (Result, error) { return f(ctx, edit) }
