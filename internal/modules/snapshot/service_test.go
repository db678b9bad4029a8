package snapshot

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/quality"
)

type fakeProvider struct {
	quote   domain.EquityQuote
	stats   domain.IVStats
	candles []domain.Candle
}

func (f *fakeProvider) GetDelayedQuote(_ context.Context, symbol string) (domain.EquityQuote, error) {
	return f.quote, nil
}

func (f *fakeProvider) GetCoreStats(_ context.Context, symbol string) (domain.IVStats, error) {
	return f.stats, nil
}

func (f *fakeProvider) GetDailyHistory(_ context.Context, symbol string, lastN int) ([]domain.Candle, error) {
	return f.candles, nil
}

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }
func sp(v string) *string   { return &v }

func TestBuildFullSnapshot(t *testing.T) {
	provider := &fakeProvider{
		quote: domain.EquityQuote{
			Symbol: "SPY", Price: fp(450), Bid: fp(449.9), Ask: fp(450.1),
			Volume: ip(1_000_000), QuoteDate: sp("2026-08-26"),
		},
		stats: domain.IVStats{Symbol: "SPY", IVRank: fp(25), AvgOptionVolume20d: fp(50_000)},
		candles: []domain.Candle{
			{Date: "2026-08-25", Close: 449, Volume: ip(900_000)},
			{Date: "2026-08-26", Close: 450, Volume: ip(1_100_000)},
		},
	}

	svc := NewService(provider, zerolog.Nop())
	snap, err := svc.Build(context.Background(), "SPY", domain.InstrumentEquity)

	require.NoError(t, err)
	assert.True(t, snap.Price.IsValid())
	assert.True(t, snap.IVRank.IsValid())
	require.True(t, snap.AvgStockVolume20d.IsValid())
	assert.Equal(t, 1_000_000.0, *snap.AvgStockVolume20d.Value)

	// Every valid field names its endpoint.
	assert.Equal(t, "markets/quotes(delayed)", snap.FieldSources[FieldPrice])
	assert.Equal(t, "markets/fundamentals/statistics", snap.FieldSources[FieldIVRank])
	assert.Equal(t, "markets/history(derived)", snap.FieldSources[FieldAvgStockVolume])
	assert.Empty(t, snap.MissingReasons)

	pct, missing := snap.Completeness()
	assert.Equal(t, 1.0, pct)
	assert.Empty(t, missing)
}

func TestBuildRecordsMissingReasons(t *testing.T) {
	provider := &fakeProvider{
		quote: domain.EquityQuote{Symbol: "XYZ", Price: fp(32.5)},
		stats: domain.IVStats{Symbol: "XYZ"},
	}

	svc := NewService(provider, zerolog.Nop())
	snap, err := svc.Build(context.Background(), "XYZ", domain.InstrumentEquity)

	require.NoError(t, err)
	assert.Equal(t, quality.Missing, snap.Bid.Quality)
	assert.Equal(t, "bid not provided by source", snap.MissingReasons[FieldBid])
	assert.Equal(t, "iv_rank not provided by source", snap.MissingReasons[FieldIVRank])
	assert.NotContains(t, snap.FieldSources, FieldBid)
}

func TestBuildZeroPriceIsMissing(t *testing.T) {
	provider := &fakeProvider{
		quote: domain.EquityQuote{Symbol: "XYZ", Price: fp(0)},
		stats: domain.IVStats{Symbol: "XYZ"},
	}

	svc := NewService(provider, zerolog.Nop())
	snap, err := svc.Build(context.Background(), "XYZ", domain.InstrumentEquity)

	require.NoError(t, err)
	// A zero price is a sentinel, never a tradable value.
	assert.Equal(t, quality.Missing, snap.Price.Quality)
	assert.Equal(t, "price is zero (treated as missing)", snap.MissingReasons[FieldPrice])
	assert.Nil(t, snap.SpotPrice())
}
