package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/domain"
)

const (
	positionsDir  = "positions"
	openIndexFile = "open_positions.json"
)

// aggregate files living next to the per-id position files.
var nonPositionFiles = map[string]bool{
	openIndexFile:         true,
	"signals_latest.json": true,
}

// Store persists positions as one JSON file per id. A per-id mutex
// serializes transitions for the same position; different positions do not
// block each other.
type Store struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the position store under dataDir.
func NewStore(dataDir string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, positionsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create positions dir: %w", err)
	}
	return &Store{
		dir:   dir,
		log:   log.With().Str("component", "position_store").Logger(),
		locks: map[string]*sync.Mutex{},
	}, nil
}

// NewPosition builds a NEW position with a fresh id.
func NewPosition(symbol string, mode domain.TradeMode, strike float64, expiry string, contracts int, premium float64, now time.Time) *Position {
	return &Position{
		ID:               uuid.NewString(),
		Symbol:           symbol,
		PositionType:     mode,
		Strike:           strike,
		Expiry:           expiry,
		Contracts:        contracts,
		PremiumCollected: premium,
		EntryDate:        now.UTC().Format("2006-01-02"),
		State:            StateNew,
	}
}

// Lock returns the mutex serializing work on one position id.
func (s *Store) Lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

// Save writes the position file atomically.
func (s *Store) Save(p *Position) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", p.ID, err)
	}

	target := filepath.Join(s.dir, p.ID+".json")
	tmp, err := os.CreateTemp(s.dir, ".pos-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}

	s.writeOpenIndex()
	return nil
}

// writeOpenIndex refreshes open_positions.json. The index is a convenience
// view; a failed refresh never fails the save that triggered it.
func (s *Store) writeOpenIndex() {
	open, err := s.Open()
	if err != nil {
		s.log.Warn().Err(err).Msg("open index refresh failed")
		return
	}

	type indexRow struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
		State  State  `json:"state"`
		Expiry string `json:"expiry"`
	}
	rows := make([]indexRow, 0, len(open))
	for _, p := range open {
		rows = append(rows, indexRow{ID: p.ID, Symbol: p.Symbol, State: p.State, Expiry: p.Expiry})
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return
	}
	tmp, err := os.CreateTemp(s.dir, ".idx-*")
	if err != nil {
		return
	}
	if _, err := tmp.Write(data); err == nil && tmp.Close() == nil {
		_ = os.Rename(tmp.Name(), filepath.Join(s.dir, openIndexFile))
	} else {
		tmp.Close()
		os.Remove(tmp.Name())
	}
}

// Load reads one position. Unknown legacy lifecycle states are normalized
// to OPEN exactly once, with a history record marking the migration.
func (s *Store) Load(id string) (*Position, error) {
	if filepath.Base(id) != id {
		return nil, fmt.Errorf("invalid position id %q", id)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, err
	}

	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse position %s: %w", id, err)
	}
	if p.ID != id {
		return nil, fmt.Errorf("position file %s holds id %q", id, p.ID)
	}

	if normalized, migrated := NormalizeLegacyState(p.State); migrated {
		s.log.Warn().
			Str("position_id", p.ID).
			Str("legacy_state", string(p.State)).
			Msg("legacy state normalized to OPEN")
		p.History = append(p.History, HistoryRecord{
			From:      p.State,
			To:        normalized,
			Action:    ActionHold,
			Reason:    "legacy state normalized",
			Source:    "store",
			Timestamp: time.Now().UTC(),
		})
		p.State = normalized
		if err := s.Save(&p); err != nil {
			return nil, err
		}
	}

	return &p, nil
}

// List returns every stored position, sorted by entry date then id.
func (s *Store) List() ([]*Position, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var out []*Position
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || nonPositionFiles[e.Name()] {
			continue
		}
		p, err := s.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			s.log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable position")
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryDate != out[j].EntryDate {
			return out[i].EntryDate < out[j].EntryDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Open returns the positions not yet CLOSED.
func (s *Store) Open() ([]*Position, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var open []*Position
	for _, p := range all {
		if p.State != StateClosed {
			open = append(open, p)
		}
	}
	return open, nil
}

