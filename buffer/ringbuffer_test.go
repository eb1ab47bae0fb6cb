package buffer

import (
	"fmt"
	"sync"
	"testing"

	"camgate/capture"
)

func recordN(n int) *capture.Record {
	return &capture.Record{
		ID:      fmt.Sprintf("rec-%04d", n),
		Outcome: capture.OutcomeComplete,
	}
}

func TestRingBufferRecentOrder(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 1; i <= 5; i++ {
		rb.Add(recordN(i))
	}

	got := rb.GetRecent(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	want := []string{"rec-0005", "rec-0004", "rec-0003"}
	for i, rec := range got {
		if rec.ID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, rec.ID, want[i])
		}
	}
}

func TestRingBufferWraparound(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 1; i <= 10; i++ {
		rb.Add(recordN(i))
	}

	if rb.GetCount() != 10 {
		t.Fatalf("count = %d, want 10", rb.GetCount())
	}
	got := rb.GetRecent(10)
	if len(got) != 4 {
		t.Fatalf("expected capacity-bounded snapshot of 4, got %d", len(got))
	}
	if got[0].ID != "rec-0010" || got[3].ID != "rec-0007" {
		t.Fatalf("unexpected window: %s .. %s", got[0].ID, got[3].ID)
	}
}

func TestRingBufferEmptyAndZeroRequest(t *testing.T) {
	rb := NewRingBuffer(4)
	if got := rb.GetRecent(5); len(got) != 0 {
		t.Fatalf("empty ring returned %d records", len(got))
	}
	rb.Add(recordN(1))
	if got := rb.GetRecent(0); len(got) != 0 {
		t.Fatalf("zero request returned %d records", len(got))
	}
	rb.Add(nil)
	if rb.GetCount() != 1 {
		t.Fatalf("nil record must not be stored, count = %d", rb.GetCount())
	}
}

func TestRingBufferConcurrentAdds(t *testing.T) {
	rb := NewRingBuffer(64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rb.Add(recordN(w*1000 + i))
			}
		}(w)
	}
	wg.Wait()

	if rb.GetCount() != 800 {
		t.Fatalf("count = %d, want 800", rb.GetCount())
	}
	got := rb.GetRecent(64)
	if len(got) != 64 {
		t.Fatalf("expected full window, got %d", len(got))
	}
	seen := make(map[string]bool, len(got))
	for _, rec := range got {
		if rec == nil {
			t.Fatalf("snapshot contains nil record")
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate record %s in snapshot", rec.ID)
		}
		seen[rec.ID] = true
	}
}
