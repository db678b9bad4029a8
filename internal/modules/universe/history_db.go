package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/database"
	"github.com/aristath/wheel-trader/internal/domain"
)

// ScoreHistory records per-run per-symbol scores so the diagnostics
// endpoints can show trend without replaying artifacts.
type ScoreHistory struct {
	db  *database.DB
	log zerolog.Logger
}

// ScoreRow is one recorded evaluation.
type ScoreRow struct {
	RunID       string           `json:"run_id"`
	Symbol      string           `json:"symbol"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
	Score       *float64         `json:"score"`
	Band        domain.Band      `json:"band"`
	Verdict     domain.Verdict   `json:"verdict"`
	Mode        domain.TradeMode `json:"mode"`
}

const scoreSchema = `
CREATE TABLE IF NOT EXISTS score_history (
	run_id       TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	evaluated_at TEXT NOT NULL,
	score        REAL,
	band         TEXT NOT NULL,
	verdict      TEXT NOT NULL,
	mode         TEXT NOT NULL,
	PRIMARY KEY (run_id, symbol)
);
CREATE INDEX IF NOT EXISTS idx_score_history_symbol
	ON score_history (symbol, evaluated_at DESC);
`

// NewScoreHistory opens (and migrates) the score history database.
func NewScoreHistory(db *database.DB, log zerolog.Logger) (*ScoreHistory, error) {
	if _, err := db.Exec(scoreSchema); err != nil {
		return nil, fmt.Errorf("create score_history schema: %w", err)
	}
	return &ScoreHistory{
		db:  db,
		log: log.With().Str("component", "score_history").Logger(),
	}, nil
}

// Record inserts one evaluation row. Re-running a run id for a symbol
// replaces the previous row.
func (h *ScoreHistory) Record(row ScoreRow) error {
	_, err := h.db.Exec(`
		INSERT OR REPLACE INTO score_history
			(run_id, symbol, evaluated_at, score, band, verdict, mode)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.Symbol, row.EvaluatedAt.UTC().Format(time.RFC3339),
		nullableFloat(row.Score), string(row.Band), string(row.Verdict), string(row.Mode),
	)
	if err != nil {
		return fmt.Errorf("record score for %s: %w", row.Symbol, err)
	}
	return nil
}

// Recent returns the latest rows for a symbol, newest first.
func (h *ScoreHistory) Recent(symbol string, limit int) ([]ScoreRow, error) {
	rows, err := h.db.Query(`
		SELECT run_id, symbol, evaluated_at, score, band, verdict, mode
		FROM score_history
		WHERE symbol = ?
		ORDER BY evaluated_at DESC
		LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query score history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		var (
			r     ScoreRow
			ts    string
			score sql.NullFloat64
		)
		if err := rows.Scan(&r.RunID, &r.Symbol, &ts, &score, &r.Band, &r.Verdict, &r.Mode); err != nil {
			return nil, fmt.Errorf("scan score history row: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339, ts); perr == nil {
			r.EvaluatedAt = t
		}
		if score.Valid {
			r.Score = &score.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trend summarizes the score direction over the recent window.
func (h *ScoreHistory) Trend(symbol string, window int) (string, error) {
	rows, err := h.Recent(symbol, window)
	if err != nil {
		return "", err
	}

	var scores []float64
	for _, r := range rows {
		if r.Score != nil {
			scores = append(scores, *r.Score)
		}
	}
	if len(scores) < 2 {
		return "FLAT", nil
	}

	// rows are newest-first
	newest, oldest := scores[0], scores[len(scores)-1]
	switch {
	case newest-oldest > 2:
		return "IMPROVING", nil
	case oldest-newest > 2:
		return "DECLINING", nil
	default:
		return "FLAT", nil
	}
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
