package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	latestFile = "decision_latest.json"
	historyDir = "evaluation_store"
)

// Store owns decision_latest.json and the run history directory. Writes go
// through a temp file, fsync, and rename; a reader never sees a partial
// document.
type Store struct {
	mu        sync.Mutex
	dir       string
	retention int
	log       zerolog.Logger
}

// NewStore creates the store rooted at dataDir, keeping at most retention
// historical runs (0 disables history pruning).
func NewStore(dataDir string, retention int, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, historyDir), 0o755); err != nil {
		return nil, fmt.Errorf("create evaluation store: %w", err)
	}
	return &Store{
		dir:       dataDir,
		retention: retention,
		log:       log.With().Str("component", "artifact_store").Logger(),
	}, nil
}

// SetLatest atomically replaces decision_latest.json and appends the run to
// history.
func (s *Store) SetLatest(a *DecisionArtifact) error {
	if a.Metadata.ArtifactVersion == "" {
		a.Metadata.ArtifactVersion = Version
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := filepath.Join(s.dir, latestFile)
	if err := writeAtomic(target, data); err != nil {
		return err
	}

	histName := fmt.Sprintf("run_%s.json", a.Metadata.PipelineTimestamp.UTC().Format("20060102T150405Z"))
	histPath := filepath.Join(s.dir, historyDir, histName)
	if err := writeAtomic(histPath, data); err != nil {
		s.log.Warn().Err(err).Msg("history write failed, latest artifact intact")
	} else {
		s.prune()
	}

	s.log.Info().
		Str("run_id", a.Metadata.RunID).
		Int("symbols", len(a.Symbols)).
		Int("candidates", len(a.SelectedCandidates)).
		Msg("decision artifact written")

	return nil
}

// GetLatest reads the current artifact. Returns os.ErrNotExist before the
// first run.
func (s *Store) GetLatest() (*DecisionArtifact, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestFile))
	if err != nil {
		return nil, err
	}

	var a DecisionArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	return &a, nil
}

// History lists stored run files, newest first.
func (s *Store) History() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, historyDir))
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// GetRun loads one historical run by file name.
func (s *Store) GetRun(name string) (*DecisionArtifact, error) {
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid run name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, historyDir, name))
	if err != nil {
		return nil, err
	}

	var a DecisionArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse run %s: %w", name, err)
	}
	return &a, nil
}

// prune drops the oldest history files beyond the retention count. Called
// with the lock held.
func (s *Store) prune() {
	if s.retention <= 0 {
		return
	}

	names, err := s.History()
	if err != nil || len(names) <= s.retention {
		return
	}
	for _, name := range names[s.retention:] {
		if err := os.Remove(filepath.Join(s.dir, historyDir, name)); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("history prune failed")
		}
	}
}

// writeAtomic writes data next to target, fsyncs, and renames over it.
func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}

	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// NewRunTimestamp truncates to the second so run file names are stable
// within a run.
func NewRunTimestamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Second)
}
