// Package buffer provides a lock-free ring buffer holding recent capture
// records for the dashboard and admin API without blocking the capture
// pipeline. Each slot stores an atomic pointer so readers either see a
// complete record or the previous one, never a partially written structure.
package buffer

import (
	"sync/atomic"
	"unsafe"

	"camgate/capture"
)

// entry pairs a record with the ring's own monotonic sequence number so
// readers can detect slots overwritten after wraparound.
type entry struct {
	seq uint64
	rec *capture.Record
}

// RingBuffer is a thread-safe circular buffer of recent capture records.
// Writers atomically publish completed records, and readers walk backwards
// from the newest index to gather a snapshot.
type RingBuffer struct {
	slots    []atomic.Pointer[entry]
	capacity int
	total    atomic.Uint64 // Total records added (may exceed capacity)
}

// NewRingBuffer allocates a ring buffer with the specified capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		slots:    make([]atomic.Pointer[entry], capacity),
		capacity: capacity,
	}
}

// Add appends a record to the ring under a fresh sequence number.
func (rb *RingBuffer) Add(rec *capture.Record) {
	if rec == nil {
		return
	}
	seq := rb.total.Add(1)
	idx := (seq - 1) % uint64(rb.capacity)
	// Publishing via atomic.Store ensures readers either see the previous
	// record or this one, never partial state.
	rb.slots[idx].Store(&entry{seq: seq, rec: rec})
}

// GetRecent returns the N most recent records (up to capacity), newest
// first. Readers walk the sequence-ordered ring backward to avoid taking
// locks or disturbing writers.
func (rb *RingBuffer) GetRecent(n int) []*capture.Record {
	if n <= 0 {
		return []*capture.Record{}
	}

	total := rb.total.Load()
	available := int(total)
	if available > rb.capacity {
		available = rb.capacity
	}
	if n > available {
		n = available
	}

	result := make([]*capture.Record, 0, n)
	if total == 0 {
		return result
	}
	minIndex := total - uint64(available)
	for idx := total; idx > minIndex && len(result) < n; {
		idx--
		slot := idx % uint64(rb.capacity)
		// Sequence check skips slots overwritten after wraparound.
		if e := rb.slots[slot].Load(); e != nil && e.seq == idx+1 {
			result = append(result, e.rec)
		}
	}

	return result
}

// GetPosition returns the current write position in the ring buffer.
func (rb *RingBuffer) GetPosition() int {
	total := rb.total.Load()
	return int(total % uint64(rb.capacity))
}

// GetCount returns the total number of records added (may be > capacity).
func (rb *RingBuffer) GetCount() int {
	return int(rb.total.Load())
}

// GetSizeKB returns an approximate size of the ring buffer in kilobytes,
// covering the backing slice plus a conservative per-record estimate.
func (rb *RingBuffer) GetSizeKB() int {
	ptrSize := int(unsafe.Sizeof(uintptr(0)))
	backingBytes := rb.capacity * ptrSize

	estimatePerRecord := 400 // bytes per record (approx, strings vary)
	stored := int(rb.total.Load())
	if stored > rb.capacity {
		stored = rb.capacity
	}
	return (backingBytes + stored*estimatePerRecord) / 1024
}
