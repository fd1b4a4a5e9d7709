package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/wikibatch/internal/store"
)

func TestClientInitSchemaIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, testDB.InitSchema(ctx), "schema can be applied twice")

	result, err := testDB.Query(ctx, "INFO FOR DB", nil)
	require.NoError(t, err, "should query database info")
	assert.NotNil(t, result)
}

func TestClientPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, testDB.Ping(ctx))
	assert.NotNil(t, testDB.DB())
}

func TestClientWipeData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestBatch(t, s, 2)

	require.NoError(t, testDB.WipeData(ctx))

	batches, err := s.ListBatches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, batches)
}
