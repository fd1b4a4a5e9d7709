package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatchID(t *testing.T) {
	id, err := parseBatchID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseBatchID(bad)
		assert.Error(t, err, bad)
	}
}

func TestReadScriptStdin(t *testing.T) {
	script, err := readScript("-", strings.NewReader("Q1\tLen\t\"x\""))
	require.NoError(t, err)
	assert.Equal(t, "Q1\tLen\t\"x\"", script)

	_, err = readScript("/nonexistent/edits.txt", nil)
	assert.ErrorContains(t, err, "read script")
}

func TestProgressHelpers(t *testing.T) {
	c := models.Counts{Initial: 1, Done: 2, Error: 1, Total: 4}
	assert.InDelta(t, 0.75, completion(c), 0.001)
	assert.Equal(t, 0.0, completion(models.Counts{}))
	assert.Equal(t, "3/4 commands (1 failed)", countsLine(c))
	assert.Equal(t, "2/2 commands", countsLine(models.Counts{Done: 2, Total: 2}))

	s := models.Summary{Batch: models.Batch{ID: 7, Status: models.BatchRunning}, Counts: c}
	now := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
	assert.Equal(t, "13:04:05 batch 7 [running] 3/4 commands (1 failed)", statusLine(s, now))
}

func TestFinalSummary(t *testing.T) {
	s := models.Summary{
		Batch:  models.Batch{ID: 3, Status: models.BatchBlocked, Message: "blocked on error"},
		Counts: models.Counts{Initial: 2, Done: 1, Error: 1, Total: 4},
	}
	out := finalSummary(defaultTheme, s)
	assert.Contains(t, out, "Batch 3 blocked")
	assert.Contains(t, out, "Errors:  1")
	assert.Contains(t, out, "Pending: 2")
	assert.Contains(t, out, "blocked on error")
}

func TestProgressModelEvents(t *testing.T) {
	m := newProgressModel(5, nil, nil)

	running := &models.Summary{Batch: models.Batch{ID: 5, Status: models.BatchRunning}, Counts: models.Counts{Initial: 1, Total: 2, Done: 1}}
	next, cmd := m.Update(eventMsg{Type: "status", Summary: running})
	m = next.(progressModel)
	assert.NotNil(t, cmd)
	assert.False(t, m.done)
	assert.Contains(t, m.renderContent(), "[running]")

	done := &models.Summary{Batch: models.Batch{ID: 5, Status: models.BatchDone}, Counts: models.Counts{Done: 2, Total: 2}}
	next, _ = m.Update(eventMsg{Type: "done", Summary: done})
	m = next.(progressModel)
	assert.True(t, m.done)
	assert.NoError(t, m.err)
	assert.Contains(t, m.renderContent(), "Batch 5 done")

	next, _ = newProgressModel(5, nil, nil).Update(eventMsg{Type: "error", Error: "boom"})
	assert.EqualError(t, next.(progressModel).err, "boom")
}

func TestPrintServerStats(t *testing.T) {
	mc := metrics.NewCollector()
	mc.RecordAPICall("add_statement", 20*time.Millisecond)
	mc.Add(metrics.CounterCommandsDone, 3)
	snap := mc.Snapshot()

	var sb strings.Builder
	printServerStats(&sb, &snap, true)
	out := sb.String()
	assert.Contains(t, out, "API Calls:")
	assert.Contains(t, out, "Calls: 1")
	assert.Contains(t, out, "add_statement")
	assert.Contains(t, out, "commands_done")
	assert.NotContains(t, out, "DB Query:")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
