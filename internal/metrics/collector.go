// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"strings"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the full runtime statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	APICall       *OperationSnapshot `json:"api_call,omitempty"`
	BatchPass     *OperationSnapshot `json:"batch_pass,omitempty"`
	DBQuery       *OperationSnapshot `json:"db_query,omitempty"`

	// Operations breaks API calls down by the kind of the unit's first op.
	Operations map[string]*OperationSnapshot `json:"operations,omitempty"`
	Counters   map[string]int64              `json:"counters,omitempty"`
}

// Operation names for the collector.
const (
	OpAPICall   = "api_call"
	OpBatchPass = "batch_pass"
	OpDBQuery   = "db_query"

	// opKindPrefix namespaces per-operation-kind API timings.
	opKindPrefix = "api:"
)

// Counter names.
const (
	CounterRetries         = "api_retries"
	CounterCommandsDone    = "commands_done"
	CounterCommandsError   = "commands_error"
	CounterBatchesFinished = "batches_finished"
	CounterCrashRecoveries = "crash_recoveries"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and safe to call on a nil Collector.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		counters:  make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordAPICall records an adapter call both overall and for its op kind.
func (c *Collector) RecordAPICall(kind string, duration time.Duration) {
	c.RecordTiming(OpAPICall, duration)
	c.RecordTiming(opKindPrefix+kind, duration)
}

// Add increments a named counter by n.
func (c *Collector) Add(counter string, n int64) {
	if c == nil || n == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[counter] += n
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		APICall:       snapshotOp(c.ops[OpAPICall]),
		BatchPass:     snapshotOp(c.ops[OpBatchPass]),
		DBQuery:       snapshotOp(c.ops[OpDBQuery]),
		Operations:    make(map[string]*OperationSnapshot),
		Counters:      make(map[string]int64, len(c.counters)),
	}
	for name, m := range c.ops {
		if kind, ok := strings.CutPrefix(name, opKindPrefix); ok {
			snap.Operations[kind] = snapshotOp(m)
		}
	}
	for name, v := range c.counters {
		snap.Counters[name] = v
	}
	return snap
}
