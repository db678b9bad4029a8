// Package ledger keeps the append-only capital event log and its monthly
// aggregations. The log is JSONL; entries are never rewritten.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/pkg/formulas"
)

const ledgerFile = "capital_ledger.jsonl"

// EventType of a ledger entry.
type EventType string

const (
	EventOpen         EventType = "OPEN"
	EventPartialClose EventType = "PARTIAL_CLOSE"
	EventClose        EventType = "CLOSE"
	EventAssignment   EventType = "ASSIGNMENT"
)

// Entry is one immutable ledger line.
type Entry struct {
	Date       string    `json:"date"` // YYYY-MM-DD
	PositionID string    `json:"position_id"`
	EventType  EventType `json:"event_type"`
	CashDelta  float64   `json:"cash_delta"`
	Notes      string    `json:"notes,omitempty"`
}

// MonthlySummary is the deterministic aggregation over one (year, month).
type MonthlySummary struct {
	Year                 int      `json:"year"`
	Month                int      `json:"month"`
	TotalCreditCollected float64  `json:"total_credit_collected"`
	RealizedPnL          float64  `json:"realized_pnl"`
	WinRate              *float64 `json:"win_rate"`
	AvgDaysInTrade       *float64 `json:"avg_days_in_trade"`
	MaxDrawdown          *float64 `json:"max_drawdown"`
	EntryCount           int      `json:"entry_count"`
}

// Ledger owns the JSONL file. Appends are serialized; reads scan the whole
// file.
type Ledger struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// New creates the ledger at dataDir/capital_ledger.jsonl.
func New(dataDir string, log zerolog.Logger) *Ledger {
	return &Ledger{
		path: filepath.Join(dataDir, ledgerFile),
		log:  log.With().Str("component", "ledger").Logger(),
	}
}

// Append adds one entry to the end of the log.
func (l *Ledger) Append(e Entry) error {
	if _, err := time.Parse("2006-01-02", e.Date); err != nil {
		return fmt.Errorf("ledger entry date %q: %w", e.Date, err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Entries returns every ledger line in file order. Unparseable lines are
// skipped with a warning rather than failing the read.
func (l *Ledger) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			l.log.Warn().Err(err).Msg("skipping malformed ledger line")
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

// Summarize aggregates one calendar month. Same entries, same summary.
func (l *Ledger) Summarize(year, month int) (MonthlySummary, error) {
	entries, err := l.Entries()
	if err != nil {
		return MonthlySummary{}, err
	}
	return summarize(entries, year, month), nil
}

func summarize(entries []Entry, year, month int) MonthlySummary {
	s := MonthlySummary{Year: year, Month: month}

	prefix := fmt.Sprintf("%04d-%02d", year, month)
	opens := map[string]string{} // position id -> open date

	var running, equity float64
	var equityCurve []float64
	var wins, closes int
	var daysInTrade []float64

	for _, e := range entries {
		if e.EventType == EventOpen {
			opens[e.PositionID] = e.Date
		}

		inMonth := len(e.Date) >= 7 && e.Date[:7] == prefix
		if !inMonth {
			continue
		}
		s.EntryCount++

		switch e.EventType {
		case EventOpen:
			s.TotalCreditCollected += e.CashDelta
		case EventPartialClose, EventClose:
			s.RealizedPnL += e.CashDelta
		}

		if e.EventType == EventClose {
			closes++
			running += e.CashDelta
			if e.CashDelta >= 0 {
				wins++
			}
			if openDate, ok := opens[e.PositionID]; ok {
				if d := tradingSpanDays(openDate, e.Date); d != nil {
					daysInTrade = append(daysInTrade, *d)
				}
			}
		}

		equity += e.CashDelta
		equityCurve = append(equityCurve, equity)
	}

	if closes > 0 {
		wr := float64(wins) / float64(closes)
		s.WinRate = &wr
	}
	if len(daysInTrade) > 0 {
		avg := formulas.Mean(daysInTrade)
		s.AvgDaysInTrade = &avg
	}
	s.MaxDrawdown = formulas.CalculateMaxDrawdown(equityCurve)

	return s
}

func tradingSpanDays(from, to string) *float64 {
	a, err := time.Parse("2006-01-02", from)
	if err != nil {
		return nil
	}
	b, err := time.Parse("2006-01-02", to)
	if err != nil {
		return nil
	}
	d := b.Sub(a).Hours() / 24
	if d < 0 {
		return nil
	}
	return &d
}
