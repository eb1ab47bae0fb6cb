package archive

import (
	"path/filepath"
	"testing"
	"time"

	"camgate/capture"
	"camgate/config"
)

func testConfig(dir string) config.ArchiveConfig {
	return config.ArchiveConfig{
		Enabled:                true,
		DBPath:                 filepath.Join(dir, "captures.db"),
		QueueSize:              10,
		BatchSize:              10,
		BatchIntervalMS:        10,
		BusyTimeoutMS:          1000,
		CleanupIntervalSeconds: 60,
		RetentionDays:          30,
		RetentionFailedDays:    7,
	}
}

func completeRecord(startedAt time.Time) *capture.Record {
	return &capture.Record{
		ID:          capture.NewID(),
		StartedAt:   startedAt,
		Duration:    1200 * time.Millisecond,
		Outcome:     capture.OutcomeComplete,
		Device:      "10.0.0.7:51344",
		FrameBytes:  15,
		PayloadHash: 0xFFEE00112233DEAD,
		Label:       "Healthy",
		RawLabel:    "healthy",
		ClassID:     3,
		Confidence:  0.93,
		CacheHit:    true,
		InferTime:   250 * time.Millisecond,
	}
}

func failedRecord(startedAt time.Time, kind capture.FailureKind) *capture.Record {
	return &capture.Record{
		ID:        capture.NewID(),
		StartedAt: startedAt,
		Duration:  300 * time.Millisecond,
		Outcome:   capture.OutcomeFailed,
		Failure:   kind,
		Error:     "device: read: connection reset",
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	writer, err := NewWriter(testConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}
	defer writer.Stop()

	now := time.Now().UTC().Truncate(time.Second)
	older := completeRecord(now.Add(-time.Minute))
	newer := completeRecord(now)
	writer.flush([]*capture.Record{older, newer})

	got, err := writer.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Fatalf("expected newest-first order, got %s then %s", got[0].ID, got[1].ID)
	}

	rec := got[0]
	if rec.Outcome != capture.OutcomeComplete || rec.FrameBytes != 15 {
		t.Fatalf("fields lost: %+v", rec)
	}
	if rec.PayloadHash != newer.PayloadHash {
		t.Fatalf("payload hash round trip: got %016x, want %016x", rec.PayloadHash, newer.PayloadHash)
	}
	if rec.Label != "Healthy" || rec.RawLabel != "healthy" || rec.ClassID != 3 {
		t.Fatalf("classification lost: %+v", rec)
	}
	if !rec.CacheHit || rec.Confidence != 0.93 {
		t.Fatalf("cache/confidence lost: %+v", rec)
	}
	if rec.InferTime != 250*time.Millisecond || rec.Duration != 1200*time.Millisecond {
		t.Fatalf("timings lost: %+v", rec)
	}
	if !rec.StartedAt.Equal(now) {
		t.Fatalf("StartedAt = %s, want %s", rec.StartedAt, now)
	}
}

func TestArchiveRecentFiltered(t *testing.T) {
	writer, err := NewWriter(testConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}
	defer writer.Stop()

	now := time.Now().UTC()
	batch := make([]*capture.Record, 0, 12)
	for i := 0; i < 10; i++ {
		batch = append(batch, completeRecord(now.Add(-time.Duration(i)*time.Minute)))
	}
	wantKind := capture.FailureTimeout
	batch = append(batch, failedRecord(now.Add(-30*time.Minute), wantKind))
	batch = append(batch, failedRecord(now.Add(-40*time.Minute), capture.FailureCorrupt))
	writer.flush(batch)

	got, err := writer.RecentFiltered(5, func(r *capture.Record) bool {
		return r.Failure == wantKind
	})
	if err != nil {
		t.Fatalf("RecentFiltered: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 timeout record, got %d", len(got))
	}
	if got[0].Failure != wantKind || got[0].Outcome != capture.OutcomeFailed {
		t.Fatalf("wrong record: %+v", got[0])
	}
}

func TestArchiveEnqueueDropsWhenFull(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.QueueSize = 1
	writer, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}
	defer writer.Stop()

	// No Start(): nothing consumes the queue.
	now := time.Now().UTC()
	if !writer.Enqueue(completeRecord(now)) {
		t.Fatalf("first enqueue must be accepted")
	}
	if writer.Enqueue(completeRecord(now)) || writer.Enqueue(completeRecord(now)) {
		t.Fatalf("enqueues past the queue bound must report the drop")
	}

	if got := writer.Drops(); got != 2 {
		t.Fatalf("drops = %d, want 2", got)
	}
}

func TestArchiveStopFlushesPending(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(testConfig(dir))
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}
	writer.Start()

	now := time.Now().UTC()
	writer.Enqueue(completeRecord(now))
	writer.Enqueue(failedRecord(now, capture.FailureConnection))
	writer.Stop()

	reopened, err := NewWriter(testConfig(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Stop()

	count, err := reopened.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 archived records after stop, got %d", count)
	}
}

func TestHashTextRoundTrip(t *testing.T) {
	cases := []uint64{1, 0xDEADBEEF, 0xFFFFFFFFFFFFFFFF}
	for _, h := range cases {
		if got := hashFromText(hashText(h)); got != h {
			t.Errorf("round trip %016x -> %016x", h, got)
		}
	}
	if hashText(0) != "" {
		t.Errorf("zero hash should store empty")
	}
	if hashFromText("") != 0 {
		t.Errorf("empty text should parse to zero")
	}
	if hashFromText("not-hex") != 0 {
		t.Errorf("garbage text should parse to zero")
	}
}
