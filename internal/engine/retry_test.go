package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyCall(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, Initial: time.Millisecond, Max: time.Millisecond}

	tests := []struct {
		name      string
		errs      []error
		attempts  int
		kind      ErrorKind
		exhausted bool
	}{
		{"success", nil, 1, "", false},
		{"transient then success", []error{NewTransientError(429, "slow down")}, 2, "", false},
		{"permanent stops at once", []error{NewPermanentError(models.ErrCodeAPIUserError, 400, "bad")}, 1, Permanent, false},
		{"exhausted", []error{errors.New("eof"), errors.New("eof"), errors.New("eof"), errors.New("eof")}, 4, Transient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			at, err := policy.call(context.Background(), nil, func(context.Context) (Result, error) {
				calls++
				if calls <= len(tt.errs) {
					return Result{}, tt.errs[calls-1]
				}
				return Result{EntityID: "Q1"}, nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.attempts, at.attempts)
			assert.Equal(t, tt.exhausted, at.exhausted)
			if tt.kind == "" {
				assert.Nil(t, at.err)
				assert.Equal(t, "Q1", at.result.EntityID)
			} else {
				require.NotNil(t, at.err)
				assert.Equal(t, tt.kind, at.err.Kind)
			}
		})
	}
}

func TestRetryPolicyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, Initial: time.Hour}

	_, err := policy.call(ctx, nil, func(context.Context) (Result, error) {
		cancel()
		return Result{}, NewTransientError(503, "down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestThrottleSpacesCalls(t *testing.T) {
	th := NewThrottle(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		require.NoError(t, th.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, th.Wait(ctx), context.Canceled)
}
