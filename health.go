package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"camgate/archive"
	"camgate/capture"
	"camgate/device"
	"camgate/events"
)

const (
	healthInterval      = 30 * time.Second
	healthLogPrefix     = "Health: "
	defaultFailStreak   = 3
	defaultIdleExpected = 10 * time.Minute
)

// healthSnapshot is one component's view of itself at a point in time. Zero
// values mean "not applicable"; the formatter skips them.
type healthSnapshot struct {
	Connected  bool
	LastOKAt   time.Time
	LastFailAt time.Time
	QueueDrops uint64
	Rejects    uint64
	Detail     string
}

type healthSource struct {
	name     string
	snapshot func() healthSnapshot
}

type healthState struct {
	connected   bool
	idle        bool
	initialized bool
}

// Purpose: Periodically log component health transitions with low noise.
// Key aspects: Reports only when connected/idle state changes.
// Upstream: main startup after the pipeline is wired.
// Downstream: log.Printf.
func startHealthMonitor(ctx context.Context, idleAfter time.Duration, sources []healthSource) {
	if len(sources) == 0 {
		return
	}
	if idleAfter <= 0 {
		idleAfter = defaultIdleExpected
	}
	ticker := time.NewTicker(healthInterval)
	go func() {
		defer ticker.Stop()
		states := make(map[string]healthState, len(sources))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				for _, source := range sources {
					if source.snapshot == nil {
						continue
					}
					snap := source.snapshot()
					idle := healthIsIdle(snap, now, idleAfter)
					state := states[source.name]
					if !state.initialized || state.connected != snap.Connected || state.idle != idle {
						log.Printf("%s%s", healthLogPrefix, formatHealthLine(source.name, snap, idle, now))
						states[source.name] = healthState{
							connected:   snap.Connected,
							idle:        idle,
							initialized: true,
						}
					}
				}
			}
		}
	}()
}

// healthIsIdle flags sources whose last activity is older than idleAfter.
// Sources that never report timestamps are not idle-capable.
func healthIsIdle(snap healthSnapshot, now time.Time, idleAfter time.Duration) bool {
	last := snap.LastOKAt
	if snap.LastFailAt.After(last) {
		last = snap.LastFailAt
	}
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > idleAfter
}

func formatHealthLine(name string, snap healthSnapshot, idle bool, now time.Time) string {
	status := "up"
	if !snap.Connected {
		status = "down"
	}
	state := "active"
	if idle {
		state = "idle"
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(status)
	b.WriteString(" ")
	b.WriteString(state)
	if !snap.LastOKAt.IsZero() {
		b.WriteString(" last_ok=")
		b.WriteString(ageString(now, snap.LastOKAt))
	}
	if !snap.LastFailAt.IsZero() {
		b.WriteString(" last_fail=")
		b.WriteString(ageString(now, snap.LastFailAt))
	}
	if snap.QueueDrops > 0 {
		b.WriteString(fmt.Sprintf(" drops=%d", snap.QueueDrops))
	}
	if snap.Rejects > 0 {
		b.WriteString(fmt.Sprintf(" rejects=%d", snap.Rejects))
	}
	if snap.Detail != "" {
		b.WriteString(" ")
		b.WriteString(snap.Detail)
	}
	return b.String()
}

func ageString(now time.Time, at time.Time) string {
	if at.IsZero() {
		return "never"
	}
	age := now.Sub(at)
	if age < 0 {
		age = 0
	}
	if age < time.Second {
		return "0s"
	}
	return age.Truncate(time.Second).String()
}

// captureHealth tracks the outcome streak across capture attempts and logs
// transitions between ok and failing. Consecutive failures past the threshold
// flip the state; any completed capture flips it back.
type captureHealth struct {
	mu         sync.Mutex
	threshold  int
	logger     *log.Logger
	state      string
	failStreak int
	lastOK     time.Time
	lastFail   time.Time
	lastError  string
}

// Purpose: Build the capture outcome streak tracker.
// Key aspects: Threshold below 1 falls back to the default; nil logger uses
// the process logger.
// Upstream: main startup wiring.
// Downstream: log.Default.
func newCaptureHealth(threshold int, logger *log.Logger) *captureHealth {
	if threshold <= 0 {
		threshold = defaultFailStreak
	}
	if logger == nil {
		logger = log.Default()
	}
	return &captureHealth{threshold: threshold, logger: logger, state: "ok"}
}

// Purpose: Fold one finished capture into the streak state.
// Key aspects: Logs only on ok<->failing transitions; rejected attempts
// (nil record) never reach here.
// Upstream: finalizeCapture.
// Downstream: logger.Printf.
func (h *captureHealth) RecordOutcome(rec *capture.Record) {
	if h == nil || rec == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now().UTC()
	if rec.Complete() {
		h.lastOK = now
		if h.state == "failing" {
			h.logger.Printf("%scapture recovered after %d consecutive failures", healthLogPrefix, h.failStreak)
		}
		h.state = "ok"
		h.failStreak = 0
		return
	}
	h.lastFail = now
	h.lastError = rec.Error
	h.failStreak++
	if h.state == "ok" && h.failStreak >= h.threshold {
		h.state = "failing"
		h.logger.Printf("%scapture failing (%d consecutive, last: %s %s)", healthLogPrefix, h.failStreak, rec.Failure, rec.Error)
	}
}

// StatusLine renders the streak state for the stats pane.
func (h *captureHealth) StatusLine() string {
	if h == nil {
		return "Health: (not tracked)"
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == "failing" {
		return fmt.Sprintf("Health: failing (%d consecutive, last: %s)", h.failStreak, h.lastError)
	}
	if h.failStreak > 0 {
		return fmt.Sprintf("Health: ok (%d recent failures)", h.failStreak)
	}
	return "Health: ok"
}

func (h *captureHealth) snapshot() healthSnapshot {
	if h == nil {
		return healthSnapshot{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return healthSnapshot{
		Connected:  h.state == "ok",
		LastOKAt:   h.lastOK,
		LastFailAt: h.lastFail,
		Detail:     fmt.Sprintf("streak=%d", h.failStreak),
	}
}

func deviceHealthSource(name string, listener *device.Listener) healthSource {
	return healthSource{
		name: name,
		snapshot: func() healthSnapshot {
			if listener == nil {
				return healthSnapshot{}
			}
			snap := healthSnapshot{
				Connected: listener.Current() != nil,
				Rejects:   listener.Rejects(),
				Detail:    fmt.Sprintf("connects=%d", listener.Connects()),
			}
			return snap
		},
	}
}

func captureHealthSource(name string, health *captureHealth) healthSource {
	return healthSource{name: name, snapshot: health.snapshot}
}

func archiveHealthSource(name string, w *archive.Writer) healthSource {
	return healthSource{
		name: name,
		snapshot: func() healthSnapshot {
			if w == nil {
				return healthSnapshot{}
			}
			return healthSnapshot{Connected: true, QueueDrops: w.Drops()}
		},
	}
}

func publisherHealthSource(name string, p *events.Publisher) healthSource {
	return healthSource{
		name: name,
		snapshot: func() healthSnapshot {
			if p == nil {
				return healthSnapshot{}
			}
			return healthSnapshot{
				Connected:  p.IsConnected(),
				QueueDrops: p.Drops(),
				Detail:     fmt.Sprintf("published=%d", p.Published()),
			}
		},
	}
}
