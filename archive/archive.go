package archive

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"camgate/capture"
	"camgate/config"
	"camgate/sqliteutil"

	_ "modernc.org/sqlite"
)

// Writer persists capture records to SQLite asynchronously. It is designed
// to be removable: the capture path never blocks on the writer, and
// backpressure results in dropped archive writes (counted, never fatal).
type Writer struct {
	cfg     config.ArchiveConfig
	db      *sql.DB
	queue   chan *capture.Record
	stop    chan struct{}
	flushed chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
	drops    atomic.Uint64
}

// NewWriter preflights and opens the SQLite database and prepares the
// schema; call Start to begin processing.
func NewWriter(cfg config.ArchiveConfig) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir: %w", err)
	}
	preflightTimeout := time.Duration(cfg.PreflightTimeoutMS) * time.Millisecond
	if _, err := sqliteutil.Preflight(cfg.DBPath, "capture archive", preflightTimeout, log.Printf); err != nil {
		return nil, fmt.Errorf("archive: preflight: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	if _, err := db.Exec(`pragma journal_mode=WAL; pragma synchronous=NORMAL; pragma busy_timeout=` + fmt.Sprintf("%d", cfg.BusyTimeoutMS)); err != nil {
		return nil, fmt.Errorf("archive: pragmas: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 10000
	}
	return &Writer{
		cfg:     cfg,
		db:      db,
		queue:   make(chan *capture.Record, qsize),
		stop:    make(chan struct{}),
		flushed: make(chan struct{}),
	}, nil
}

// Start launches the insert and cleanup loops.
func (w *Writer) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.insertLoop()
	go w.cleanupLoop()
}

// Stop drains the pending batch and closes the database.
func (w *Writer) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started.Load() {
			select {
			case <-w.flushed:
			case <-time.After(2 * time.Second):
			}
		}
		_ = w.db.Close()
	})
}

// Enqueue attempts to queue a record for archival without blocking. It
// returns false when the record was dropped because the queue is full.
func (w *Writer) Enqueue(rec *capture.Record) bool {
	if w == nil || rec == nil {
		return true
	}
	select {
	case w.queue <- rec:
		return true
	default:
		// Drop rather than stall a capture in flight.
		w.drops.Add(1)
		return false
	}
}

// Drops returns the number of records lost to queue backpressure.
func (w *Writer) Drops() uint64 {
	if w == nil {
		return 0
	}
	return w.drops.Load()
}

func (w *Writer) insertLoop() {
	interval := time.Duration(w.cfg.BatchIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	batchSize := w.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	batch := make([]*capture.Record, 0, batchSize)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			w.flush(batch)
			close(w.flushed)
			return
		case rec := <-w.queue:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				w.flush(batch)
				batch = batch[:0]
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(interval)
			}
		case <-timer.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(interval)
		}
	}
}

func (w *Writer) flush(batch []*capture.Record) {
	if len(batch) == 0 {
		return
	}
	tx, err := w.db.Begin()
	if err != nil {
		log.Printf("archive: begin tx: %v", err)
		return
	}
	stmt, err := tx.Prepare(`insert into captures(capture_id, ts, duration_ms, outcome, failure, error, device, frame_bytes, payload_hash, label, raw_label, class_id, confidence, cache_hit, infer_ms) values(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		log.Printf("archive: prepare: %v", err)
		_ = tx.Rollback()
		return
	}
	for _, rec := range batch {
		if rec == nil {
			continue
		}
		if _, err := stmt.Exec(
			rec.ID,
			rec.StartedAt.UTC().Unix(),
			rec.Duration.Milliseconds(),
			string(rec.Outcome),
			string(rec.Failure),
			rec.Error,
			rec.Device,
			rec.FrameBytes,
			hashText(rec.PayloadHash),
			rec.Label,
			rec.RawLabel,
			rec.ClassID,
			rec.Confidence,
			boolToInt(rec.CacheHit),
			rec.InferTime.Milliseconds(),
		); err != nil {
			log.Printf("archive: insert failed: %v", err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		log.Printf("archive: commit: %v", err)
	}
}

func (w *Writer) cleanupLoop() {
	interval := time.Duration(w.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.cleanupOnce()
		}
	}
}

// cleanupOnce applies the two retention tiers: failed attempts age out on a
// shorter horizon than completed captures.
func (w *Writer) cleanupOnce() {
	now := time.Now().UTC().Unix()

	if w.cfg.RetentionFailedDays > 0 {
		cutoff := now - int64(w.cfg.RetentionFailedDays)*86400
		if _, err := w.db.Exec(`delete from captures where outcome = 'failed' and ts < ?`, cutoff); err != nil {
			log.Printf("archive: cleanup failed rows: %v", err)
		}
	}
	if w.cfg.RetentionDays > 0 {
		cutoff := now - int64(w.cfg.RetentionDays)*86400
		if _, err := w.db.Exec(`delete from captures where outcome != 'failed' and ts < ?`, cutoff); err != nil {
			log.Printf("archive: cleanup complete rows: %v", err)
		}
	}
}

func ensureSchema(db *sql.DB) error {
	schema := `
	create table if not exists captures (
		id integer primary key autoincrement,
		capture_id text,
		ts integer,
		duration_ms integer,
		outcome text,
		failure text,
		error text,
		device text,
		frame_bytes integer,
		payload_hash text,
		label text,
		raw_label text,
		class_id integer,
		confidence real,
		cache_hit integer,
		infer_ms integer
	);
	create index if not exists idx_captures_ts on captures(ts);
	create index if not exists idx_captures_outcome_ts on captures(outcome, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("archive: schema: %w", err)
	}
	return nil
}

// Count returns the number of archived records.
func (w *Writer) Count() (int64, error) {
	if w == nil || w.db == nil {
		return 0, fmt.Errorf("archive: writer is nil")
	}
	var count int64
	if err := w.db.QueryRow(`select count(*) from captures`).Scan(&count); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return count, nil
}

// Recent returns the most recent N records, ordered newest-first. It is
// read-only so callers (admin API, dashboard) can retrieve history without
// depending on the in-memory ring buffer.
func (w *Writer) Recent(limit int) ([]*capture.Record, error) {
	return w.RecentFiltered(limit, nil)
}

// RecentFiltered behaves like Recent but keeps only records matching the
// predicate. The scan window is bounded so a sparse match cannot trigger a
// full table walk.
func (w *Writer) RecentFiltered(limit int, match func(*capture.Record) bool) ([]*capture.Record, error) {
	if w == nil || w.db == nil {
		return nil, fmt.Errorf("archive: writer is nil")
	}
	if limit <= 0 {
		return []*capture.Record{}, nil
	}
	window := limit
	if match != nil {
		window = limit * 20
		if window > 10000 {
			window = 10000
		}
	}
	rows, err := w.db.Query(`select capture_id, ts, duration_ms, outcome, failure, error, device, frame_bytes, payload_hash, label, raw_label, class_id, confidence, cache_hit, infer_ms from captures order by ts desc, id desc limit ?`, window)
	if err != nil {
		return nil, fmt.Errorf("archive: query recent: %w", err)
	}
	defer rows.Close()

	results := make([]*capture.Record, 0, limit)
	for rows.Next() {
		var (
			captureID  string
			ts         int64
			durationMS int64
			outcome    string
			failure    string
			errMsg     string
			device     string
			frameBytes int
			hash       string
			label      string
			rawLabel   string
			classID    int
			confidence float64
			cacheHit   int
			inferMS    int64
		)
		if err := rows.Scan(&captureID, &ts, &durationMS, &outcome, &failure, &errMsg, &device, &frameBytes, &hash, &label, &rawLabel, &classID, &confidence, &cacheHit, &inferMS); err != nil {
			return nil, fmt.Errorf("archive: scan recent: %w", err)
		}
		rec := &capture.Record{
			ID:          captureID,
			StartedAt:   time.Unix(ts, 0).UTC(),
			Duration:    time.Duration(durationMS) * time.Millisecond,
			Outcome:     capture.Outcome(outcome),
			Failure:     capture.FailureKind(failure),
			Error:       errMsg,
			Device:      device,
			FrameBytes:  frameBytes,
			PayloadHash: hashFromText(hash),
			Label:       label,
			RawLabel:    rawLabel,
			ClassID:     classID,
			Confidence:  confidence,
			CacheHit:    cacheHit > 0,
			InferTime:   time.Duration(inferMS) * time.Millisecond,
		}
		if match != nil && !match(rec) {
			continue
		}
		results = append(results, rec)
		if len(results) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate recent: %w", err)
	}
	return results, nil
}

// hashText renders a payload hash for storage; zero hashes store empty so
// failed attempts do not look like hash collisions.
func hashText(h uint64) string {
	if h == 0 {
		return ""
	}
	return fmt.Sprintf("%016x", h)
}

func hashFromText(s string) uint64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
