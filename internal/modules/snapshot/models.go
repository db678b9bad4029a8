package snapshot

import (
	"time"

	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/quality"
)

// Canonical field names used in field_sources, missing_reasons, and the
// data-dependency policy.
const (
	FieldPrice           = "price"
	FieldBid             = "bid"
	FieldAsk             = "ask"
	FieldVolume          = "volume"
	FieldQuoteDate       = "quote_date"
	FieldIVRank          = "iv_rank"
	FieldAvgOptionVolume = "avg_option_volume_20d"
	FieldAvgStockVolume  = "avg_stock_volume_20d"
)

// Snapshot is the canonical per-symbol input to a run. It is immutable once
// built; every consumer branches on field quality, never on zero values.
type Snapshot struct {
	Symbol         string                `json:"symbol"`
	InstrumentType domain.InstrumentType `json:"instrument_type"`

	Price              quality.Field[float64] `json:"price"`
	Bid                quality.Field[float64] `json:"bid"`
	Ask                quality.Field[float64] `json:"ask"`
	Volume             quality.Field[int64]   `json:"volume"`
	QuoteDate          quality.Field[string]  `json:"quote_date"`
	IVRank             quality.Field[float64] `json:"iv_rank"`
	AvgOptionVolume20d quality.Field[float64] `json:"avg_option_volume_20d"`
	AvgStockVolume20d  quality.Field[float64] `json:"avg_stock_volume_20d"`

	FieldSources   map[string]string    `json:"field_sources"`
	MissingReasons map[string]string    `json:"missing_reasons"`
	AsOf           map[string]time.Time `json:"as_of"`

	BuiltAt time.Time `json:"built_at"`
}

// FieldQualities returns the per-field quality map, keyed by canonical name.
func (s *Snapshot) FieldQualities() map[string]quality.Quality {
	return map[string]quality.Quality{
		FieldPrice:           s.Price.Quality,
		FieldBid:             s.Bid.Quality,
		FieldAsk:             s.Ask.Quality,
		FieldVolume:          s.Volume.Quality,
		FieldQuoteDate:       s.QuoteDate.Quality,
		FieldIVRank:          s.IVRank.Quality,
		FieldAvgOptionVolume: s.AvgOptionVolume20d.Quality,
		FieldAvgStockVolume:  s.AvgStockVolume20d.Quality,
	}
}

// Completeness is the VALID share across all snapshot fields.
func (s *Snapshot) Completeness() (float64, []string) {
	return quality.Completeness(
		s.Price, s.Bid, s.Ask, s.QuoteDate, s.IVRank,
		s.Volume, s.AvgOptionVolume20d, s.AvgStockVolume20d,
	)
}

// SpotPrice returns the underlying price when valid.
func (s *Snapshot) SpotPrice() *float64 {
	if s.Price.IsValid() {
		return s.Price.Value
	}
	return nil
}

// UnderlyingSpreadPct returns (ask-bid)/mid when both sides are valid.
func (s *Snapshot) UnderlyingSpreadPct() *float64 {
	if !s.Bid.IsValid() || !s.Ask.IsValid() {
		return nil
	}

	mid := (*s.Bid.Value + *s.Ask.Value) / 2
	if mid <= 0 {
		return nil
	}

	pct := (*s.Ask.Value - *s.Bid.Value) / mid
	return &pct
}
