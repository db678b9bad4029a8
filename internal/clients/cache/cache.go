// Package cache provides per-symbol file-backed caches with a same-calendar-day
// freshness rule. Writes go through a temp file and an atomic rename so readers
// never observe a partial file.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Store is a directory of JSON cache entries keyed by symbol.
type Store struct {
	dir string
	log zerolog.Logger
	now func() time.Time
}

// New creates a cache store rooted at dir, creating it if needed.
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Store{
		dir: dir,
		log: log.With().Str("component", "cache").Str("dir", dir).Logger(),
		now: time.Now,
	}, nil
}

// Get loads a cached entry into out. It returns false when the entry is
// absent, unreadable, or written on an earlier calendar day.
func (s *Store) Get(key string, out any) bool {
	path := s.path(key)

	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	if !sameCalendarDay(info.ModTime(), s.now()) {
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to read cache entry")
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to decode cache entry")
		return false
	}

	return true
}

// Put stores v under key. The write is atomic; a crash mid-write leaves the
// previous entry intact.
func (s *Store) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close cache entry: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish cache entry: %w", err)
	}

	return nil
}

func (s *Store) path(key string) string {
	// Keys are symbols; keep filenames predictable.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)

	return filepath.Join(s.dir, safe+".json")
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
