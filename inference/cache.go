package inference

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"

	"camgate/capture"
)

const (
	cacheVersion = 1

	cacheKeyPrefix   = byte('p')
	cacheMetaVersion = "meta|version"
)

// Cache persists classification results keyed by model and payload hash so a
// re-captured identical frame skips the HTTP round trip. Strictly an
// optimization: every failure path degrades to a miss.
type Cache struct {
	db    *pebble.DB
	cache *pebble.Cache
	ttl   time.Duration
	now   func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// OpenCache opens (or creates) the Pebble database at path. Entries older
// than ttl are treated as misses and overwritten on the next Put; ttl <= 0
// keeps entries forever.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("inference cache path is empty")
	}
	opts := &pebble.Options{
		Cache: pebble.NewCache(8 << 20),
	}
	level := pebble.LevelOptions{
		FilterPolicy: bloom.FilterPolicy(10),
		FilterType:   pebble.TableFilter,
	}
	opts.Levels = make([]pebble.LevelOptions, 7)
	for i := range opts.Levels {
		opts.Levels[i] = level
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		opts.Cache.Unref()
		return nil, fmt.Errorf("inference cache open: %w", err)
	}
	c := &Cache{
		db:    db,
		cache: opts.Cache,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
	if err := c.checkVersion(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) checkVersion() error {
	data, closer, err := c.db.Get([]byte(cacheMetaVersion))
	if errors.Is(err, pebble.ErrNotFound) {
		return c.db.Set([]byte(cacheMetaVersion), []byte(fmt.Sprintf("%d", cacheVersion)), pebble.NoSync)
	}
	if err != nil {
		return fmt.Errorf("inference cache meta: %w", err)
	}
	defer closer.Close()
	var version int
	if _, err := fmt.Sscanf(string(data), "%d", &version); err != nil {
		return fmt.Errorf("inference cache meta: %w", err)
	}
	if version != cacheVersion {
		return fmt.Errorf("inference cache version %d unsupported (expected %d)", version, cacheVersion)
	}
	return nil
}

// Get returns the cached prediction for (model, hash) when present and fresh.
func (c *Cache) Get(model string, hash uint64) (capture.Prediction, bool) {
	if c == nil || c.db == nil {
		return capture.Prediction{}, false
	}
	data, closer, err := c.db.Get(cacheKey(model, hash))
	if err != nil {
		c.misses.Add(1)
		return capture.Prediction{}, false
	}
	defer closer.Close()

	pred, fetchedAt, ok := decodeCacheValue(data)
	if !ok {
		c.misses.Add(1)
		return capture.Prediction{}, false
	}
	if c.ttl > 0 && c.now().Sub(fetchedAt) > c.ttl {
		c.misses.Add(1)
		return capture.Prediction{}, false
	}
	c.hits.Add(1)
	return pred, true
}

// Put stores pred for (model, hash). Write failures are swallowed; the cache
// must never fail a capture.
func (c *Cache) Put(model string, hash uint64, pred capture.Prediction) {
	if c == nil || c.db == nil {
		return
	}
	value := encodeCacheValue(pred, c.now())
	_ = c.db.Set(cacheKey(model, hash), value, pebble.NoSync)
}

// Hits returns the number of fresh cache reads.
func (c *Cache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of absent or stale reads.
func (c *Cache) Misses() uint64 { return c.misses.Load() }

// Close releases the database. Safe on nil.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.cache != nil {
		c.cache.Unref()
	}
}

func cacheKey(model string, hash uint64) []byte {
	key := make([]byte, 0, 1+len(model)+1+8)
	key = append(key, cacheKeyPrefix)
	key = append(key, model...)
	key = append(key, 0x00)
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], hash)
	return append(key, h[:]...)
}

func encodeCacheValue(pred capture.Prediction, fetchedAt time.Time) []byte {
	out := make([]byte, 0, 32+len(pred.RawLabel)+len(pred.Label))
	out = append(out, cacheVersion)
	out = appendUvarint(out, uint64(fetchedAt.Unix()))
	out = appendUvarint(out, uint64(pred.ClassID))
	out = appendUvarint(out, math.Float64bits(pred.Confidence))
	out = appendString(out, pred.RawLabel)
	out = appendString(out, pred.Label)
	return out
}

func decodeCacheValue(data []byte) (capture.Prediction, time.Time, bool) {
	if len(data) < 1 || data[0] != cacheVersion {
		return capture.Prediction{}, time.Time{}, false
	}
	rest := data[1:]

	unix, n := binary.Uvarint(rest)
	if n <= 0 {
		return capture.Prediction{}, time.Time{}, false
	}
	rest = rest[n:]

	classID, n := binary.Uvarint(rest)
	if n <= 0 {
		return capture.Prediction{}, time.Time{}, false
	}
	rest = rest[n:]

	confBits, n := binary.Uvarint(rest)
	if n <= 0 {
		return capture.Prediction{}, time.Time{}, false
	}
	rest = rest[n:]

	rawLabel, rest, ok := readString(rest)
	if !ok {
		return capture.Prediction{}, time.Time{}, false
	}
	label, _, ok := readString(rest)
	if !ok {
		return capture.Prediction{}, time.Time{}, false
	}

	pred := capture.Prediction{
		RawLabel:   rawLabel,
		Label:      label,
		ClassID:    int(classID),
		Confidence: math.Float64frombits(confBits),
	}
	return pred, time.Unix(int64(unix), 0).UTC(), true
}

func appendUvarint(dst []byte, value uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], value)
	return append(dst, buf[:n]...)
}

func appendString(dst []byte, s string) []byte {
	dst = appendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readString(data []byte) (string, []byte, bool) {
	length, n := binary.Uvarint(data)
	if n <= 0 {
		return "", nil, false
	}
	data = data[n:]
	if int(length) > len(data) {
		return "", nil, false
	}
	return string(data[:length]), data[length:], true
}
