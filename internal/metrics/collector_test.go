package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordAPICall("add_statement", 10*time.Millisecond)
	c.RecordAPICall("add_statement", 30*time.Millisecond)
	c.RecordAPICall("create_entity", 20*time.Millisecond)
	c.Add(CounterRetries, 2)
	c.Add(CounterRetries, 1)

	snap := c.Snapshot()
	require.NotNil(t, snap.APICall)
	assert.Equal(t, int64(3), snap.APICall.Count)
	assert.Equal(t, int64(10), snap.APICall.MinTimeMs)
	assert.Equal(t, int64(30), snap.APICall.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.APICall.AvgTimeMs, 0.001)

	require.Contains(t, snap.Operations, "add_statement")
	assert.Equal(t, int64(2), snap.Operations["add_statement"].Count)
	assert.Equal(t, int64(3), snap.Counters[CounterRetries])
	assert.Nil(t, snap.DBQuery)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTiming(OpDBQuery, time.Second)
		c.RecordAPICall("x", time.Second)
		c.Add(CounterRetries, 1)
	})
}
