// Package sqliteutil guards SQLite opens. The gateway keeps its capture
// history in SQLite on small single-board hosts where power loss mid-write
// is routine; a damaged database must never stall or crash startup.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// PreflightResult reports the outcome of a SQLite preflight check.
type PreflightResult struct {
	Healthy        bool   // No issues detected; safe to proceed.
	Quarantined    bool   // The database was renamed to avoid startup stalls.
	QuarantinePath string // Path of the quarantined database (main file only).
	Elapsed        time.Duration
	CheckpointErr  error // Nil when checkpoint succeeded.
	CheckErr       error // Nil when quick_check succeeded.
}

// Preflight runs a bounded WAL checkpoint + quick_check before the main open
// path. On error it renames the database and its sidecars to a timestamped
// quarantine path so the caller can continue with a fresh file. A timeout is
// fatal: the file is likely locked by another process, and renaming it out
// from under that process would make things worse.
func Preflight(path, role string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	res := PreflightResult{}
	if strings.TrimSpace(path) == "" {
		return res, errors.New("preflight: empty path")
	}
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	start := time.Now().UTC()

	// Record which sidecars exist up front; the checkpoint can remove them
	// before quarantine gets a chance to rename them.
	existing := presentFiles(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("preflight: ensure dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return res, fmt.Errorf("preflight: open %s db: %w", role, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return res, fmt.Errorf("preflight: set busy_timeout %s: %w", role, err)
	}

	_, checkpointErr := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)")
	checkErr := quickCheck(ctx, db)
	res.Elapsed = time.Since(start)
	res.CheckpointErr = checkpointErr
	res.CheckErr = checkErr

	if checkpointErr == nil && checkErr == nil {
		res.Healthy = true
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("preflight: %s db timed out after %s", role, timeout)
	}

	_ = db.Close()
	quarantinePath, quarantineErr := quarantine(path, existing, logf)
	if quarantineErr != nil {
		return res, fmt.Errorf("preflight: %s db quarantine failed: %w (checkpoint=%v, quick_check=%v)", role, quarantineErr, checkpointErr, checkErr)
	}
	res.Quarantined = true
	res.QuarantinePath = quarantinePath
	if checkpointErr != nil {
		logf("%s db preflight: checkpoint failed (%v); quarantined to %s; elapsed=%s", role, checkpointErr, quarantinePath, res.Elapsed)
	} else {
		logf("%s db preflight: quick_check failed (%v); quarantined to %s; elapsed=%s", role, checkErr, quarantinePath, res.Elapsed)
	}
	return res, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if scanErr := rows.Scan(&status); scanErr != nil {
			return scanErr
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// presentFiles lists the database file and any sidecars that exist at path.
func presentFiles(path string) []string {
	candidates := []string{path}
	for _, suffix := range sidecarSuffixes {
		candidates = append(candidates, path+suffix)
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// quarantine renames the main db file plus each sidecar that survived the
// checkpoint attempt, using one shared timestamp so the set stays grouped.
func quarantine(path string, existing []string, logf func(string, ...any)) (string, error) {
	ts := time.Now().UTC().Format("20060102T150405Z")
	quarantinePath := fmt.Sprintf("%s.bad-%s", path, ts)

	if len(existing) == 0 {
		existing = presentFiles(path)
	}
	for _, src := range existing {
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				logf("preflight: expected %s but it was missing during quarantine", src)
				continue
			}
			return "", err
		}
		if err := os.Rename(src, src+".bad-"+ts); err != nil {
			return "", err
		}
	}
	return quarantinePath, nil
}
