// Package stats tracks capture and classification counters for display in
// the dashboard and periodic console output.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker accumulates capture statistics.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-capture increments
	// don't fight over a mutex
	outcomeCounts sync.Map // string -> *atomic.Uint64
	failureCounts sync.Map // string -> *atomic.Uint64
	labelCounts   sync.Map // string -> *atomic.Uint64
	start         atomic.Int64
	frameBytes    atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
}

// NewTracker creates a new stats tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// RecordCapture folds one finished capture attempt into the counters.
// classified reports whether the inference service produced a label for this
// frame; cache accounting only applies to classified frames.
func (t *Tracker) RecordCapture(outcome, failure, label string, frameBytes int, cacheHit, classified bool) {
	incrementCounter(&t.outcomeCounts, outcome)
	incrementCounter(&t.failureCounts, failure)
	incrementCounter(&t.labelCounts, label)
	if frameBytes > 0 {
		t.frameBytes.Add(uint64(frameBytes))
	}
	if classified {
		if cacheHit {
			t.cacheHits.Add(1)
		} else {
			t.cacheMisses.Add(1)
		}
	}
}

// GetOutcomeCounts returns a copy of counts keyed by outcome.
func (t *Tracker) GetOutcomeCounts() map[string]uint64 {
	return copyCounts(&t.outcomeCounts)
}

// GetFailureCounts returns a copy of counts keyed by failure kind.
func (t *Tracker) GetFailureCounts() map[string]uint64 {
	return copyCounts(&t.failureCounts)
}

// GetLabelCounts returns a copy of counts keyed by classified label.
func (t *Tracker) GetLabelCounts() map[string]uint64 {
	return copyCounts(&t.labelCounts)
}

// GetTotal returns the total number of capture attempts (sum of outcomes).
func (t *Tracker) GetTotal() uint64 {
	var total uint64
	t.outcomeCounts.Range(func(_, value any) bool {
		total += value.(*atomic.Uint64).Load()
		return true
	})
	return total
}

// FrameBytes returns the cumulative payload bytes received.
func (t *Tracker) FrameBytes() uint64 {
	return t.frameBytes.Load()
}

// CacheHits returns the number of classifications served from the cache.
func (t *Tracker) CacheHits() uint64 {
	return t.cacheHits.Load()
}

// CacheMisses returns the number of classifications that went to the service.
func (t *Tracker) CacheMisses() uint64 {
	return t.cacheMisses.Load()
}

// GetUptime returns how long the tracker has been running.
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// Reset resets all counters.
func (t *Tracker) Reset() {
	clearCounts(&t.outcomeCounts)
	clearCounts(&t.failureCounts)
	clearCounts(&t.labelCounts)
	t.frameBytes.Store(0)
	t.cacheHits.Store(0)
	t.cacheMisses.Store(0)
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	lines := make([]string, 0, 3)
	lines = append(lines, formatMapCounts("Captures by outcome", &t.outcomeCounts))
	lines = append(lines, formatMapCounts("Failures by kind", &t.failureCounts))
	lines = append(lines, formatMapCounts("Labels", &t.labelCounts))
	return lines
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func clearCounts(m *sync.Map) {
	m.Range(func(key, _ any) bool {
		m.Delete(key)
		return true
	})
}

func formatMapCounts(label string, counts *sync.Map) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	first := true
	counts.Range(func(key, value any) bool {
		if !first {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", key.(string), value.(*atomic.Uint64).Load())
		first = false
		return true
	})
	if first {
		builder.WriteString("(none)")
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
