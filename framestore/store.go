// Package framestore persists frame payloads to disk for offline inspection
// without slowing the capture pipeline. Payloads are written byte-for-byte;
// the camera sends JPEG stills, so dumps get a .jpg name, but nothing here
// parses or validates image structure.
package framestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"camgate/capture"
)

const frameExt = ".jpg"

// Store writes one file per completed capture, bounded to maxFiles by
// pruning the oldest dumps.
type Store struct {
	dir      string
	maxFiles int

	mu    sync.Mutex
	count int
}

// NewStore ensures dir exists and seeds the file count from its contents.
func NewStore(dir string, maxFiles int) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("framestore: directory is empty")
	}
	if maxFiles <= 0 {
		return nil, errors.New("framestore: max files must be > 0")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("framestore: ensure dir: %w", err)
	}
	names, err := frameNames(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, maxFiles: maxFiles, count: len(names)}, nil
}

// Save writes the payload of one completed capture. The file name embeds the
// capture start time and ID so dumps sort chronologically.
func (s *Store) Save(rec *capture.Record, payload []byte) error {
	if s == nil || rec == nil || len(payload) == 0 {
		return nil
	}
	name := fmt.Sprintf("%s-%s%s", rec.StartedAt.UTC().Format("20060102T150405Z"), shortID(rec.ID), frameExt)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("framestore: write %s: %w", name, err)
	}

	s.mu.Lock()
	s.count++
	over := s.count > s.maxFiles
	s.mu.Unlock()
	if over {
		return s.prune()
	}
	return nil
}

// Dir returns the dump directory.
func (s *Store) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Count returns the current number of stored frames.
func (s *Store) Count() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// prune removes the oldest frames until the store is back under its bound.
func (s *Store) prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := frameNames(s.dir)
	if err != nil {
		return err
	}
	sort.Strings(names)
	excess := len(names) - s.maxFiles
	for i := 0; i < excess; i++ {
		if err := os.Remove(filepath.Join(s.dir, names[i])); err != nil && !os.IsNotExist(err) {
			s.count = len(names) - i
			return fmt.Errorf("framestore: prune %s: %w", names[i], err)
		}
	}
	if excess > 0 {
		names = names[excess:]
	}
	s.count = len(names)
	return nil
}

func frameNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("framestore: read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != frameExt {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
