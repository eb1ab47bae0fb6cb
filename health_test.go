package main

import (
	"bytes"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"camgate/capture"
)

func testDiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestCaptureHealthFailureStreak(t *testing.T) {
	var buf bytes.Buffer
	h := newCaptureHealth(2, log.New(&buf, "", 0))

	h.RecordOutcome(testFailedRecord(capture.FailureTimeout))
	if got := buf.String(); got != "" {
		t.Fatalf("expected no log below threshold, got %q", got)
	}
	if got := h.StatusLine(); got != "Health: ok (1 recent failures)" {
		t.Fatalf("unexpected status line %q", got)
	}

	h.RecordOutcome(testFailedRecord(capture.FailureTimeout))
	if got := buf.String(); !strings.Contains(got, "capture failing (2 consecutive, last: timeout boom") {
		t.Fatalf("expected failing transition log, got %q", got)
	}
	if got := h.StatusLine(); got != "Health: failing (2 consecutive, last: boom)" {
		t.Fatalf("unexpected status line %q", got)
	}

	// Further failures extend the streak without another transition log.
	buf.Reset()
	h.RecordOutcome(testFailedRecord(capture.FailureCorrupt))
	if got := buf.String(); got != "" {
		t.Fatalf("expected no repeat log while already failing, got %q", got)
	}

	h.RecordOutcome(testCompleteRecord("Healthy"))
	if got := buf.String(); !strings.Contains(got, "capture recovered after 3 consecutive failures") {
		t.Fatalf("expected recovery log, got %q", got)
	}
	if got := h.StatusLine(); got != "Health: ok" {
		t.Fatalf("unexpected status line after recovery %q", got)
	}
}

func TestCaptureHealthDefaults(t *testing.T) {
	h := newCaptureHealth(0, nil)
	if h.threshold != defaultFailStreak {
		t.Fatalf("expected default threshold %d, got %d", defaultFailStreak, h.threshold)
	}
	if h.logger == nil {
		t.Fatal("expected a fallback logger")
	}
	if got := h.StatusLine(); got != "Health: ok" {
		t.Fatalf("unexpected initial status %q", got)
	}

	var nilHealth *captureHealth
	nilHealth.RecordOutcome(testCompleteRecord("Healthy"))
	if got := nilHealth.StatusLine(); got != "Health: (not tracked)" {
		t.Fatalf("unexpected nil status %q", got)
	}
}

func TestCaptureHealthSnapshot(t *testing.T) {
	h := newCaptureHealth(2, testDiscardLogger())
	h.RecordOutcome(testFailedRecord(capture.FailureWrite))

	snap := h.snapshot()
	if !snap.Connected {
		t.Fatal("one failure below threshold should still report connected")
	}
	if snap.Detail != "streak=1" {
		t.Fatalf("unexpected detail %q", snap.Detail)
	}
	if snap.LastFailAt.IsZero() {
		t.Fatal("expected last failure timestamp to be set")
	}

	h.RecordOutcome(testFailedRecord(capture.FailureWrite))
	if snap = h.snapshot(); snap.Connected {
		t.Fatal("streak past threshold should report disconnected")
	}
}

func TestHealthIsIdle(t *testing.T) {
	now := time.Now().UTC()
	idleAfter := time.Minute

	if healthIsIdle(healthSnapshot{}, now, idleAfter) {
		t.Fatal("sources without timestamps are never idle")
	}
	if healthIsIdle(healthSnapshot{LastOKAt: now.Add(-10 * time.Second)}, now, idleAfter) {
		t.Fatal("recent activity should not be idle")
	}
	if !healthIsIdle(healthSnapshot{LastOKAt: now.Add(-5 * time.Minute)}, now, idleAfter) {
		t.Fatal("stale activity should be idle")
	}
	snap := healthSnapshot{
		LastOKAt:   now.Add(-5 * time.Minute),
		LastFailAt: now.Add(-10 * time.Second),
	}
	if healthIsIdle(snap, now, idleAfter) {
		t.Fatal("a recent failure still counts as activity")
	}
}

func TestFormatHealthLine(t *testing.T) {
	now := time.Now().UTC()
	snap := healthSnapshot{
		Connected:  true,
		LastOKAt:   now.Add(-30 * time.Second),
		LastFailAt: now.Add(-90 * time.Second),
		QueueDrops: 4,
		Rejects:    2,
		Detail:     "connects=7",
	}

	line := formatHealthLine("device", snap, false, now)
	for _, want := range []string{"device up active", "last_ok=30s", "last_fail=1m30s", "drops=4", "rejects=2", "connects=7"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}

	line = formatHealthLine("mqtt", healthSnapshot{}, true, now)
	if line != "mqtt down idle" {
		t.Fatalf("unexpected minimal line %q", line)
	}
}

func TestAgeString(t *testing.T) {
	now := time.Now().UTC()
	if got := ageString(now, time.Time{}); got != "never" {
		t.Fatalf("expected never, got %q", got)
	}
	if got := ageString(now, now.Add(-500*time.Millisecond)); got != "0s" {
		t.Fatalf("expected 0s, got %q", got)
	}
	if got := ageString(now, now.Add(-90*time.Second)); got != "1m30s" {
		t.Fatalf("expected 1m30s, got %q", got)
	}
}

func TestHealthSourcesNilSafe(t *testing.T) {
	sources := []healthSource{
		deviceHealthSource("device", nil),
		captureHealthSource("capture", nil),
		archiveHealthSource("archive", nil),
		publisherHealthSource("mqtt", nil),
	}
	for _, source := range sources {
		snap := source.snapshot()
		if snap.Connected || !snap.LastOKAt.IsZero() || snap.QueueDrops != 0 {
			t.Fatalf("%s: expected zero snapshot, got %+v", source.name, snap)
		}
	}
}
