package universe

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/wheel-trader/internal/domain"
)

// Load parses and validates the universe file.
func Load(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}

	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parse universe file: %w", err)
	}

	if len(u.Symbols) == 0 {
		return nil, fmt.Errorf("universe file %s has no symbols", path)
	}

	seen := map[string]bool{}
	for i := range u.Symbols {
		m := &u.Symbols[i]
		m.Symbol = strings.ToUpper(strings.TrimSpace(m.Symbol))
		if m.Symbol == "" {
			return nil, fmt.Errorf("universe entry %d has an empty symbol", i)
		}
		if seen[m.Symbol] {
			return nil, fmt.Errorf("duplicate universe symbol %s", m.Symbol)
		}
		seen[m.Symbol] = true

		switch m.InstrumentType {
		case domain.InstrumentEquity, domain.InstrumentETF, domain.InstrumentIndex:
		case "":
			m.InstrumentType = domain.InstrumentEquity
		default:
			return nil, fmt.Errorf("symbol %s: unknown instrument_type %q", m.Symbol, m.InstrumentType)
		}
	}

	return &u, nil
}

// Member finds a universe entry by symbol.
func (u *Universe) Member(symbol string) (*Member, bool) {
	symbol = strings.ToUpper(symbol)
	for i := range u.Symbols {
		if u.Symbols[i].Symbol == symbol {
			return &u.Symbols[i], true
		}
	}
	return nil, false
}
