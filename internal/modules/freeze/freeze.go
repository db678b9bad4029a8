// Package freeze protects non-dry runs from silent config drift. Critical
// config is hashed deterministically; a hash change between runs blocks
// execution until the operator re-arms the freeze state.
package freeze

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/config"
)

const stateFile = "freeze_state.json"

// State is the persisted freeze record.
type State struct {
	ConfigHash     string          `json:"config_hash"`
	ConfigSnapshot json.RawMessage `json:"config_snapshot"`
	RunMode        string          `json:"run_mode"`
	SavedAt        time.Time       `json:"saved_at"`
}

// BlockedError reports a hash mismatch with the changed top-level keys.
type BlockedError struct {
	ChangedKeys   []string
	PersistedHash string
	CurrentHash   string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("critical config changed since last run (keys: %s); clear %s to accept",
		strings.Join(e.ChangedKeys, ", "), stateFile)
}

// Guard checks and persists the freeze state under the data directory.
type Guard struct {
	path    string
	enabled bool
	log     zerolog.Logger
}

// NewGuard creates a freeze guard storing state in dataDir. A disabled
// guard passes every check and records nothing.
func NewGuard(dataDir string, enabled bool, log zerolog.Logger) *Guard {
	return &Guard{
		path:    filepath.Join(dataDir, stateFile),
		enabled: enabled,
		log:     log.With().Str("component", "freeze").Logger(),
	}
}

// Hash returns the deterministic hash of the critical config: canonical
// JSON (sorted keys, no whitespace) fed to sha256.
func Hash(critical config.Critical) (string, error) {
	canon, err := canonicalJSON(critical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Check compares the current critical config against the persisted state.
// DRY_RUN is always allowed and never recorded. On first run or on a clean
// match the state is persisted; on mismatch a BlockedError is returned and
// nothing is written.
func (g *Guard) Check(critical config.Critical, mode config.RunMode) error {
	if !g.enabled {
		g.log.Warn().Msg("freeze guard disabled by config")
		return nil
	}
	if mode == config.RunModeDryRun {
		g.log.Debug().Msg("dry run, freeze check skipped")
		return nil
	}

	canon, err := canonicalJSON(critical)
	if err != nil {
		return fmt.Errorf("canonicalize critical config: %w", err)
	}
	sum := sha256.Sum256(canon)
	hash := hex.EncodeToString(sum[:])

	prev, err := g.load()
	if err != nil {
		return err
	}

	if prev != nil && prev.ConfigHash != hash {
		changed, derr := changedTopLevelKeys(prev.ConfigSnapshot, canon)
		if derr != nil {
			changed = []string{"(undiffable)"}
		}
		g.log.Error().
			Str("persisted", prev.ConfigHash).
			Str("current", hash).
			Strs("changed_keys", changed).
			Msg("freeze guard blocked startup")
		return &BlockedError{ChangedKeys: changed, PersistedHash: prev.ConfigHash, CurrentHash: hash}
	}

	return g.persist(State{
		ConfigHash:     hash,
		ConfigSnapshot: canon,
		RunMode:        string(mode),
		SavedAt:        time.Now().UTC(),
	})
}

func (g *Guard) load() (*State, error) {
	data, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read freeze state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse freeze state: %w", err)
	}
	return &s, nil
}

func (g *Guard) persist(s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(g.path), ".freeze-*")
	if err != nil {
		return fmt.Errorf("write freeze state: %w", err)
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
	return os.Rename(tmp.Name(), g.path)
}

// canonicalJSON renders v with sorted keys and no whitespace. Round-
// tripping through a generic map makes encoding/json emit map keys in
// sorted order.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// changedTopLevelKeys diffs two snapshots key by key. Both sides are
// re-canonicalized so formatting differences never count as changes.
func changedTopLevelKeys(old, current []byte) ([]string, error) {
	var a, b map[string]json.RawMessage
	if err := json.Unmarshal(old, &a); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(current, &b); err != nil {
		return nil, err
	}

	canon := func(raw json.RawMessage) string {
		c, err := canonicalJSON(raw)
		if err != nil {
			return string(raw)
		}
		return string(c)
	}

	seen := map[string]bool{}
	var changed []string
	for k, v := range a {
		seen[k] = true
		if bv, ok := b[k]; !ok || canon(bv) != canon(v) {
			changed = append(changed, k)
		}
	}
	for k := range b {
		if !seen[k] {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed, nil
}
