package summary

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Store is the directory k6 writes summary exports into. Exports older than
// the TTL are pruned.
type Store struct {
	dir string
	ttl time.Duration
}

func NewStore(dir string, ttl time.Duration) *Store {
	return &Store{dir: dir, ttl: ttl}
}

// Enabled reports whether runs should export summaries at all.
func (s *Store) Enabled() bool {
	return s != nil && s.dir != ""
}

func (s *Store) Dir() string {
	return s.dir
}

// Prepare creates the directory.
func (s *Store) Prepare() error {
	if !s.Enabled() {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create summary dir")
	}
	return nil
}

// Read returns the summary a run exported.
func (s *Store) Read(runID string) (Summary, error) {
	if !s.Enabled() {
		return nil, nil
	}
	return ReadFile(ExportPath(s.dir, runID))
}

// Prune removes exports whose modification time is older than the TTL and
// returns how many were removed. A zero TTL keeps everything.
func (s *Store) Prune(now time.Time) (int, error) {
	if !s.Enabled() || s.ttl <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to list summary dir")
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= s.ttl {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "failed to remove %s", e.Name())
		}
		removed++
	}
	return removed, nil
}
