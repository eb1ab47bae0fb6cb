package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"camgate/capture"
)

// Purpose: Ensure a corrupt database file is quarantined, not fatal.
// Key aspects: Writes invalid bytes, expects preflight to rename them aside
// and NewWriter to continue with a fresh file.
// Upstream: go test.
// Downstream: NewWriter, sqliteutil.Preflight.
func TestCorruptDBQuarantinedOnOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	if err := os.WriteFile(cfg.DBPath, []byte("not a sqlite db"), 0o644); err != nil {
		t.Fatalf("write corrupt db: %v", err)
	}

	writer, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}
	defer writer.Stop()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	quarantined := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".bad-") {
			quarantined = true
		}
	}
	if !quarantined {
		t.Fatalf("expected quarantined copy alongside %s, entries: %v", filepath.Base(cfg.DBPath), entries)
	}

	// The fresh database is fully usable.
	writer.flush([]*capture.Record{completeRecord(time.Now().UTC())})
	got, err := writer.Recent(1)
	if err != nil {
		t.Fatalf("Recent after quarantine: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record in fresh db, got %d", len(got))
	}
}
