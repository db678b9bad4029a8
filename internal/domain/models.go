// Package domain holds the shared market-data and evaluation types used
// across modules. Dependency direction is providers -> snapshot -> stages ->
// scoring -> store; everything below imports domain, never the reverse.
package domain

import "time"

// InstrumentType classifies the underlying for field-requirement purposes.
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "EQUITY"
	InstrumentETF    InstrumentType = "ETF"
	InstrumentIndex  InstrumentType = "INDEX"
)

// TradeMode is the per-symbol per-cycle strategy decision. CSP and CC are
// mutually exclusive within a cycle.
type TradeMode string

const (
	ModeCSP  TradeMode = "CSP"
	ModeCC   TradeMode = "CC"
	ModeNone TradeMode = "NONE"
)

// Verdict is the stage-1 stock qualification outcome.
type Verdict string

const (
	VerdictQualified Verdict = "QUALIFIED"
	VerdictHold      Verdict = "HOLD"
	VerdictBlocked   Verdict = "BLOCKED"
	VerdictError     Verdict = "ERROR"
)

// Band is the confidence tier. D is the floor; a symbol row never carries a
// null band.
type Band string

const (
	BandA Band = "A"
	BandB Band = "B"
	BandC Band = "C"
	BandD Band = "D"
)

// RegimeState is the portfolio-level market state consumed by banding and
// guardrails. CRASH comes from the benchmark classifier, not a single
// symbol's trend.
type RegimeState string

const (
	RegimeRiskOn  RegimeState = "RISK_ON"
	RegimeRiskOff RegimeState = "RISK_OFF"
	RegimeDown    RegimeState = "DOWN"
	RegimeCrash   RegimeState = "CRASH"
)

// MarketPhase is derived from the exchange calendar.
type MarketPhase string

const (
	PhasePre    MarketPhase = "PRE"
	PhaseOpen   MarketPhase = "OPEN"
	PhaseMid    MarketPhase = "MID"
	PhasePost   MarketPhase = "POST"
	PhaseClosed MarketPhase = "CLOSED"
)

// OptionType is PUT or CALL.
type OptionType string

const (
	OptionPut  OptionType = "PUT"
	OptionCall OptionType = "CALL"
)

// ChainSource records which chain path produced stage-2 data.
type ChainSource string

const (
	ChainSourceLive    ChainSource = "LIVE"
	ChainSourceDelayed ChainSource = "DELAYED"
	ChainSourceNone    ChainSource = "NONE"
)

// Candle is one daily (or intraday) OHLCV bar.
type Candle struct {
	Date   string  `json:"date"` // trading date, YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}

// EquityQuote is the delayed underlying quote row. All fields are nullable;
// callers branch on presence, never on zero.
type EquityQuote struct {
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Volume    *int64   `json:"volume"`
	QuoteDate *string  `json:"quote_date"` // trading date of the observation
}

// Greeks carries the provider-returned option greeks.
type Greeks struct {
	Delta *float64 `json:"delta"`
	Gamma *float64 `json:"gamma"`
	Theta *float64 `json:"theta"`
	Vega  *float64 `json:"vega"`
}

// OptionContract is a single chain row. Delta is stored exactly as the
// provider returned it; sign conventions are a presentation concern handled
// by the selector.
type OptionContract struct {
	Symbol       string     `json:"symbol"`
	OptionSymbol string     `json:"option_symbol"`
	Expiration   string     `json:"expiration"` // YYYY-MM-DD
	Strike       float64    `json:"strike"`
	Type         OptionType `json:"type"`
	Bid          *float64   `json:"bid"`
	Ask          *float64   `json:"ask"`
	Mid          *float64   `json:"mid"`
	Last         *float64   `json:"last"`
	OpenInterest *int64     `json:"open_interest"`
	Volume       *int64     `json:"volume"`
	Greeks       Greeks     `json:"greeks"`
	IV           *float64   `json:"iv"`
	Spread       *float64   `json:"spread"`
	SpreadPct    *float64   `json:"spread_pct"`
	DTE          int        `json:"dte"`
}

// IVStats is the core-endpoint volatility block for an underlying.
type IVStats struct {
	Symbol             string   `json:"symbol"`
	IVRank             *float64 `json:"iv_rank"` // 0-100
	AvgOptionVolume20d *float64 `json:"avg_option_volume_20d"`
}

// ChainMeta carries diagnostic telemetry for a chain fetch.
type ChainMeta struct {
	Source               ChainSource `json:"source"`
	ExpirationsAvailable int         `json:"expirations_available"`
	ExpirationsEvaluated int         `json:"expirations_evaluated"`
	PutsReturned         int         `json:"puts_returned"`
	CallsReturned        int         `json:"calls_returned"`
	RequestedAt          time.Time   `json:"requested_at"`
}
