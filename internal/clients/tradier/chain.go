package tradier

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/wheel-trader/internal/domain"
)

// Strike-range bounds for the base chain fetch. For CSP only strikes in
// [spot*cspStrikeFloor, spot) are requested: no deep OTM lottery tickets,
// no ITM puts. CC mirrors the window above spot.
const (
	cspStrikeFloor = 0.80
	ccStrikeCeil   = 1.20
)

// ChainResult is the outcome of a base chain fetch across the DTE window.
type ChainResult struct {
	Contracts       []domain.OptionContract
	UnderlyingPrice *float64
	Err             error
	Meta            domain.ChainMeta
}

// FetchBaseChain fetches every expiration inside [dteMin, dteMax] and returns
// the strike-range-bounded contracts for the given mode, the underlying
// price, and fetch telemetry.
//
// Invariant: for mode CSP every returned strike satisfies
// spot*0.80 <= strike < spot. Contracts of the opposite option type are
// still returned (the selector counts and rejects them); strikes outside the
// band are dropped here.
func (c *Client) FetchBaseChain(ctx context.Context, symbol string, dteMin, dteMax int, mode domain.TradeMode) ChainResult {
	result := ChainResult{
		Meta: domain.ChainMeta{Source: domain.ChainSourceNone, RequestedAt: c.now()},
	}

	quote, err := c.GetDelayedQuote(ctx, symbol)
	if err != nil {
		result.Err = err
		return result
	}
	result.UnderlyingPrice = quote.Price
	if quote.Price == nil || *quote.Price <= 0 {
		result.Err = errors.New("underlying price unavailable for chain fetch")
		return result
	}
	spot := *quote.Price

	expirations, err := c.GetExpirations(ctx, symbol)
	if err != nil {
		result.Err = err
		return result
	}
	result.Meta.ExpirationsAvailable = len(expirations)
	if len(expirations) == 0 {
		return result
	}

	today := c.now().UTC().Truncate(24 * time.Hour)

	for _, exp := range expirations {
		expDate, err := time.Parse("2006-01-02", exp)
		if err != nil {
			continue
		}

		dte := int(expDate.Sub(today).Hours() / 24)
		if dte < dteMin || dte > dteMax {
			continue
		}

		rows, err := c.GetChain(ctx, symbol, exp)
		if err != nil {
			result.Err = err
			return result
		}
		result.Meta.ExpirationsEvaluated++

		for _, ct := range rows {
			ct.DTE = dte

			switch ct.Type {
			case domain.OptionPut:
				result.Meta.PutsReturned++
			case domain.OptionCall:
				result.Meta.CallsReturned++
			}

			if !strikeInBand(mode, ct.Strike, spot) {
				continue
			}

			result.Contracts = append(result.Contracts, ct)
		}
	}

	if result.Meta.ExpirationsEvaluated > 0 {
		result.Meta.Source = domain.ChainSourceDelayed
	}

	return result
}

func strikeInBand(mode domain.TradeMode, strike, spot float64) bool {
	switch mode {
	case domain.ModeCSP:
		return strike >= spot*cspStrikeFloor && strike < spot
	case domain.ModeCC:
		return strike > spot && strike <= spot*ccStrikeCeil
	default:
		return false
	}
}
