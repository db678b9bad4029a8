// Package snapshot composes provider outputs into the canonical per-symbol
// snapshot, recording for every field where it came from and why it is
// absent when it is.
package snapshot

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/quality"
)

// Endpoint labels recorded in field_sources.
const (
	sourceDelayedQuote = "markets/quotes(delayed)"
	sourceCoreStats    = "markets/fundamentals/statistics"
	sourceHistDerived  = "markets/history(derived)"
)

// MarketData is the provider surface the snapshot service consumes. The
// equity quote is always the delayed row; live quote paths are forbidden
// here and only the drift detector may use them.
type MarketData interface {
	GetDelayedQuote(ctx context.Context, symbol string) (domain.EquityQuote, error)
	GetCoreStats(ctx context.Context, symbol string) (domain.IVStats, error)
	GetDailyHistory(ctx context.Context, symbol string, lastN int) ([]domain.Candle, error)
}

// Service builds canonical snapshots.
type Service struct {
	provider MarketData
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates a snapshot service.
func NewService(provider MarketData, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		log:      log.With().Str("component", "snapshot").Logger(),
		now:      time.Now,
	}
}

// Build composes the delayed quote, core statistics, and a derived
// 20-day average stock volume into a snapshot. Provider gaps become MISSING
// fields with reasons; Build only fails on budget exhaustion or cancellation.
func (s *Service) Build(ctx context.Context, symbol string, instrument domain.InstrumentType) (*Snapshot, error) {
	snap := &Snapshot{
		Symbol:         symbol,
		InstrumentType: instrument,
		FieldSources:   make(map[string]string),
		MissingReasons: make(map[string]string),
		AsOf:           make(map[string]time.Time),
		BuiltAt:        s.now(),
	}

	quote, err := s.provider.GetDelayedQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	snap.AsOf[sourceDelayedQuote] = s.now()

	snap.Price = quality.WrapFloat(FieldPrice, quote.Price, false)
	snap.Bid = quality.WrapFloat(FieldBid, quote.Bid, false)
	snap.Ask = quality.WrapFloat(FieldAsk, quote.Ask, false)
	snap.Volume = quality.WrapInt(FieldVolume, quote.Volume, true)
	snap.QuoteDate = quality.WrapString(FieldQuoteDate, quote.QuoteDate)
	s.record(snap, snap.Price.Quality, FieldPrice, sourceDelayedQuote, snap.Price.Reason)
	s.record(snap, snap.Bid.Quality, FieldBid, sourceDelayedQuote, snap.Bid.Reason)
	s.record(snap, snap.Ask.Quality, FieldAsk, sourceDelayedQuote, snap.Ask.Reason)
	s.record(snap, snap.Volume.Quality, FieldVolume, sourceDelayedQuote, snap.Volume.Reason)
	s.record(snap, snap.QuoteDate.Quality, FieldQuoteDate, sourceDelayedQuote, snap.QuoteDate.Reason)

	stats, err := s.provider.GetCoreStats(ctx, symbol)
	if err != nil {
		return nil, err
	}
	snap.AsOf[sourceCoreStats] = s.now()

	snap.IVRank = quality.WrapFloat(FieldIVRank, stats.IVRank, true)
	snap.AvgOptionVolume20d = quality.WrapFloat(FieldAvgOptionVolume, stats.AvgOptionVolume20d, false)
	s.record(snap, snap.IVRank.Quality, FieldIVRank, sourceCoreStats, snap.IVRank.Reason)
	s.record(snap, snap.AvgOptionVolume20d.Quality, FieldAvgOptionVolume, sourceCoreStats, snap.AvgOptionVolume20d.Reason)

	candles, err := s.provider.GetDailyHistory(ctx, symbol, 20)
	if err != nil {
		return nil, err
	}
	snap.AsOf[sourceHistDerived] = s.now()

	snap.AvgStockVolume20d = deriveAvgStockVolume(candles)
	s.record(snap, snap.AvgStockVolume20d.Quality, FieldAvgStockVolume, sourceHistDerived, snap.AvgStockVolume20d.Reason)

	s.log.Debug().
		Str("symbol", symbol).
		Str("price_quality", string(snap.Price.Quality)).
		Int("missing_fields", len(snap.MissingReasons)).
		Msg("Snapshot built")

	return snap, nil
}

func (s *Service) record(snap *Snapshot, q quality.Quality, field, source, reason string) {
	if q == quality.Valid {
		snap.FieldSources[field] = source
		return
	}
	snap.MissingReasons[field] = reason
}

// deriveAvgStockVolume averages candle volumes over the supplied window.
// Candles without a volume are skipped; no candles with volume means the
// field is missing, not zero.
func deriveAvgStockVolume(candles []domain.Candle) quality.Field[float64] {
	var sum float64
	var n int
	for _, c := range candles {
		if c.Volume != nil {
			sum += float64(*c.Volume)
			n++
		}
	}

	if n == 0 {
		return quality.MissingField[float64](FieldAvgStockVolume)
	}

	avg := sum / float64(n)
	return quality.ValidField(FieldAvgStockVolume, avg)
}
