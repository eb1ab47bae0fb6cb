package main

import (
	"runtime"
	"sort"
	"time"
)

// gcPauseWindow tracks GC pauses between stats refresh ticks.
// Ownership: displayGatewayStats owns the instance and calls snapshot serially.
// Invariant: snapshot is called at most once per stats interval.
type gcPauseWindow struct {
	lastNumGC   uint32
	initialized bool
}

// snapshot returns the worst and p99 pause for GCs that occurred since the
// last snapshot, plus the number of pauses considered. When more GCs ran than
// the runtime's pause ring holds, the window is truncated to the most recent
// pauses and truncated is true.
func (w *gcPauseWindow) snapshot(mem *runtime.MemStats) (p99, max time.Duration, count int, truncated bool) {
	if mem == nil {
		return 0, 0, 0, false
	}
	if !w.initialized {
		w.lastNumGC = mem.NumGC
		w.initialized = true
		return 0, 0, 0, false
	}
	if mem.NumGC <= w.lastNumGC {
		return 0, 0, 0, false
	}
	delta := mem.NumGC - w.lastNumGC
	w.lastNumGC = mem.NumGC

	ringLen := len(mem.PauseNs)
	if ringLen == 0 {
		return 0, 0, 0, false
	}

	needed := int(delta)
	if needed > ringLen {
		needed = ringLen
		truncated = true
	}

	pauses := make([]uint64, 0, needed)
	idx := int((mem.NumGC - 1) % uint32(ringLen))
	for i := 0; i < needed; i++ {
		if v := mem.PauseNs[idx]; v > 0 {
			pauses = append(pauses, v)
		}
		idx--
		if idx < 0 {
			idx = ringLen - 1
		}
	}
	if len(pauses) == 0 {
		return 0, 0, 0, truncated
	}
	sort.Slice(pauses, func(i, j int) bool { return pauses[i] < pauses[j] })
	p99idx := int(float64(len(pauses)-1) * 0.99)
	return time.Duration(pauses[p99idx]), time.Duration(pauses[len(pauses)-1]), len(pauses), truncated
}
