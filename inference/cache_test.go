package inference

import (
	"testing"
	"time"

	"camgate/capture"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	cache, err := OpenCache(t.TempDir(), ttl)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(cache.Close)
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t, time.Hour)

	stored := capture.Prediction{
		Label:      "Early Blight",
		RawLabel:   "early_blight",
		ClassID:    7,
		Confidence: 0.8125,
	}
	cache.Put("plants/3", 0xDEADBEEF, stored)

	got, ok := cache.Get("plants/3", 0xDEADBEEF)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.Label != stored.Label || got.RawLabel != stored.RawLabel {
		t.Fatalf("labels differ: got %+v, want %+v", got, stored)
	}
	if got.ClassID != stored.ClassID || got.Confidence != stored.Confidence {
		t.Fatalf("fields differ: got %+v, want %+v", got, stored)
	}
	if cache.Hits() != 1 || cache.Misses() != 0 {
		t.Fatalf("counters = %d hits, %d misses", cache.Hits(), cache.Misses())
	}
}

func TestCacheMiss(t *testing.T) {
	cache := openTestCache(t, time.Hour)

	if _, ok := cache.Get("plants/3", 42); ok {
		t.Fatalf("empty cache should miss")
	}
	if cache.Misses() != 1 {
		t.Fatalf("misses = %d, want 1", cache.Misses())
	}
}

func TestCacheSeparatesModels(t *testing.T) {
	cache := openTestCache(t, time.Hour)

	cache.Put("plants/3", 42, capture.Prediction{RawLabel: "healthy", Confidence: 0.9})
	if _, ok := cache.Get("plants/4", 42); ok {
		t.Fatalf("different model must not share entries")
	}
	if got, ok := cache.Get("plants/3", 42); !ok || got.RawLabel != "healthy" {
		t.Fatalf("original entry lost: %+v, %v", got, ok)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := openTestCache(t, time.Hour)

	base := time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }
	cache.Put("plants/3", 1, capture.Prediction{RawLabel: "healthy", Confidence: 0.9})

	cache.now = func() time.Time { return base.Add(59 * time.Minute) }
	if _, ok := cache.Get("plants/3", 1); !ok {
		t.Fatalf("entry inside TTL should hit")
	}

	cache.now = func() time.Time { return base.Add(61 * time.Minute) }
	if _, ok := cache.Get("plants/3", 1); ok {
		t.Fatalf("entry past TTL should miss")
	}
}

func TestCacheOverwrite(t *testing.T) {
	cache := openTestCache(t, 0)

	cache.Put("plants/3", 9, capture.Prediction{RawLabel: "healthy", Confidence: 0.5})
	cache.Put("plants/3", 9, capture.Prediction{RawLabel: "late_blight", Confidence: 0.7})

	got, ok := cache.Get("plants/3", 9)
	if !ok || got.RawLabel != "late_blight" || got.Confidence != 0.7 {
		t.Fatalf("expected overwritten entry, got %+v, %v", got, ok)
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir, 0)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	cache.Put("plants/3", 5, capture.Prediction{RawLabel: "healthy", ClassID: 3, Confidence: 0.93})
	cache.Close()

	reopened, err := OpenCache(dir, 0)
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	t.Cleanup(reopened.Close)

	got, ok := reopened.Get("plants/3", 5)
	if !ok || got.RawLabel != "healthy" || got.ClassID != 3 {
		t.Fatalf("entry lost across reopen: %+v, %v", got, ok)
	}
}

func TestCacheNilSafe(t *testing.T) {
	var cache *Cache
	if _, ok := cache.Get("m", 1); ok {
		t.Fatalf("nil cache must miss")
	}
	cache.Put("m", 1, capture.Prediction{})
	cache.Close()
}
