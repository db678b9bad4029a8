// Package tradier is the market-data provider client: delayed equity quotes,
// volatility statistics, daily and intraday history, and option chains.
//
// Client contract: on HTTP non-200, network failure, or malformed payload the
// methods log and return the canonical empty result. Transport problems never
// propagate past the client boundary; the only errors callers see are budget
// exhaustion and context cancellation.
package tradier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/clients/cache"
	"github.com/aristath/wheel-trader/internal/domain"
)

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Token    string
	CacheDir string // root for the per-endpoint file caches
	Log      zerolog.Logger
	Timeout  time.Duration
}

// Client is the market-data API client.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger

	candleCache *cache.Store // candles_cache/{SYMBOL}.json, same-day freshness
	statsCache  *cache.Store

	budget *Budget
	now    func() time.Time
}

// NewClient creates a market-data client with file-backed same-day caches.
func NewClient(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	candleCache, err := cache.New(cfg.CacheDir+"/candles_cache", cfg.Log)
	if err != nil {
		return nil, err
	}
	statsCache, err := cache.New(cfg.CacheDir+"/stats_cache", cfg.Log)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		client:      &http.Client{Timeout: timeout},
		log:         cfg.Log.With().Str("client", "tradier").Logger(),
		candleCache: candleCache,
		statsCache:  statsCache,
		now:         time.Now,
	}, nil
}

// SetBudget installs the per-run HTTP request budget. Passing nil removes it.
func (c *Client) SetBudget(b *Budget) {
	c.budget = b
}

// GetDelayedQuote fetches the delayed underlying quote row. This is the only
// quote path the snapshot service may use; live quotes are reserved for the
// drift detector.
func (c *Client) GetDelayedQuote(ctx context.Context, symbol string) (domain.EquityQuote, error) {
	empty := domain.EquityQuote{Symbol: symbol}

	if err := c.budget.Take(); err != nil {
		return empty, err
	}

	body, err := c.doGet(ctx, "/markets/quotes", url.Values{"symbols": {symbol}})
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Delayed quote fetch failed")
		return empty, ctx.Err()
	}

	var resp quotesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Delayed quote parse failed")
		return empty, nil
	}

	rows := decodeRows(resp.Quotes.Quote)
	if len(rows) == 0 {
		c.log.Warn().Str("symbol", symbol).Msg("Delayed quote returned no rows")
		return empty, nil
	}

	return quoteFromRow(symbol, rows[0]), nil
}

// GetLiveQuotes fetches current quotes for several symbols at once. Used only
// by the drift detector.
func (c *Client) GetLiveQuotes(ctx context.Context, symbols []string) (map[string]domain.EquityQuote, error) {
	out := make(map[string]domain.EquityQuote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	if err := c.budget.Take(); err != nil {
		return out, err
	}

	joined := symbols[0]
	for _, s := range symbols[1:] {
		joined += "," + s
	}

	body, err := c.doGet(ctx, "/markets/quotes", url.Values{"symbols": {joined}})
	if err != nil {
		c.log.Warn().Err(err).Msg("Live quotes fetch failed")
		return out, ctx.Err()
	}

	var resp quotesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn().Err(err).Msg("Live quotes parse failed")
		return out, nil
	}

	for _, row := range decodeRows(resp.Quotes.Quote) {
		sym := ""
		if s := getString(row, "symbol"); s != nil {
			sym = *s
		}
		if sym == "" {
			continue
		}
		out[sym] = quoteFromRow(sym, row)
	}

	return out, nil
}

// GetCoreStats fetches IV rank and average option volume for an underlying.
// Results are cached for the calendar day.
func (c *Client) GetCoreStats(ctx context.Context, symbol string) (domain.IVStats, error) {
	empty := domain.IVStats{Symbol: symbol}

	var cached domain.IVStats
	if c.statsCache.Get(symbol, &cached) {
		return cached, nil
	}

	if err := c.budget.Take(); err != nil {
		return empty, err
	}

	body, err := c.doGet(ctx, "/markets/fundamentals/statistics", url.Values{"symbols": {symbol}})
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Core stats fetch failed")
		return empty, ctx.Err()
	}

	var resp statsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Core stats parse failed")
		return empty, nil
	}

	rows := decodeRows(resp.Stats.Stat)
	if len(rows) == 0 {
		return empty, nil
	}

	stats := domain.IVStats{
		Symbol:             symbol,
		IVRank:             getFloat64(rows[0], "iv_rank"),
		AvgOptionVolume20d: getFloat64(rows[0], "avg_option_volume_20d"),
	}

	if err := c.statsCache.Put(symbol, stats); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Core stats cache write failed")
	}

	return stats, nil
}

// GetDailyHistory fetches up to lastN daily candles, ascending by trade
// date. Results are cached for the calendar day; the cache is written only
// after a successful fetch.
func (c *Client) GetDailyHistory(ctx context.Context, symbol string, lastN int) ([]domain.Candle, error) {
	var cached []domain.Candle
	if c.candleCache.Get(symbol, &cached) {
		return lastCandles(cached, lastN), nil
	}

	if err := c.budget.Take(); err != nil {
		return nil, err
	}

	body, err := c.doGet(ctx, "/markets/history", url.Values{
		"symbol":   {symbol},
		"interval": {"daily"},
	})
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Daily history fetch failed")
		return nil, ctx.Err()
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Daily history parse failed")
		return nil, nil
	}

	candles := candlesFromRows(decodeRows(resp.History.Day))
	if len(candles) == 0 {
		return nil, nil
	}

	if err := c.candleCache.Put(symbol, candles); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Candle cache write failed")
	}

	return lastCandles(candles, lastN), nil
}

// GetIntradayHistory fetches 4-hour bars for the intraday confirmation
// check. Not cached; intraday rows move within the day.
func (c *Client) GetIntradayHistory(ctx context.Context, symbol string) ([]domain.Candle, error) {
	if err := c.budget.Take(); err != nil {
		return nil, err
	}

	body, err := c.doGet(ctx, "/markets/timesales", url.Values{
		"symbol":   {symbol},
		"interval": {"4hour"},
	})
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Intraday history fetch failed")
		return nil, ctx.Err()
	}

	var resp timesalesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Intraday history parse failed")
		return nil, nil
	}

	return candlesFromRows(decodeRows(resp.Series.Data)), nil
}

// GetExpirations lists option expirations for a symbol, ascending.
func (c *Client) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	if err := c.budget.Take(); err != nil {
		return nil, err
	}

	body, err := c.doGet(ctx, "/markets/options/expirations", url.Values{"symbol": {symbol}})
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Expirations fetch failed")
		return nil, ctx.Err()
	}

	var resp expirationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Expirations parse failed")
		return nil, nil
	}

	dates := resp.Expirations.Date
	sort.Strings(dates)
	return dates, nil
}

// GetChain fetches one expiration's chain rows with greeks.
func (c *Client) GetChain(ctx context.Context, symbol, expiration string) ([]domain.OptionContract, error) {
	if err := c.budget.Take(); err != nil {
		return nil, err
	}

	body, err := c.doGet(ctx, "/markets/options/chains", url.Values{
		"symbol":     {symbol},
		"expiration": {expiration},
		"greeks":     {"true"},
	})
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Str("expiration", expiration).Msg("Chain fetch failed")
		return nil, ctx.Err()
	}

	var resp chainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Chain parse failed")
		return nil, nil
	}

	rows := decodeRows(resp.Options.Option)
	contracts := make([]domain.OptionContract, 0, len(rows))
	for _, row := range rows {
		if ct, ok := contractFromRow(symbol, expiration, row); ok {
			contracts = append(contracts, ct)
		}
	}

	return contracts, nil
}

// doGet issues an authenticated GET and returns the body on 200.
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return io.ReadAll(resp.Body)
}

func quoteFromRow(symbol string, row map[string]interface{}) domain.EquityQuote {
	q := domain.EquityQuote{
		Symbol: symbol,
		Price:  getFloat64(row, "last"),
		Bid:    getFloat64(row, "bid"),
		Ask:    getFloat64(row, "ask"),
		Volume: getInt64(row, "volume"),
	}

	if d := getString(row, "quote_date"); d != nil {
		q.QuoteDate = d
	} else if ms := getInt64(row, "trade_date"); ms != nil && *ms > 0 {
		d := time.UnixMilli(*ms).UTC().Format("2006-01-02")
		q.QuoteDate = &d
	}

	return q
}

func candlesFromRows(rows []map[string]interface{}) []domain.Candle {
	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		date := getString(row, "date")
		if date == nil {
			if ts := getString(row, "time"); ts != nil {
				date = ts
			} else {
				continue
			}
		}

		open := getFloat64(row, "open")
		high := getFloat64(row, "high")
		low := getFloat64(row, "low")
		cl := getFloat64(row, "close")
		if open == nil || high == nil || low == nil || cl == nil {
			continue
		}

		candles = append(candles, domain.Candle{
			Date:   *date,
			Open:   *open,
			High:   *high,
			Low:    *low,
			Close:  *cl,
			Volume: getInt64(row, "volume"),
		})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Date < candles[j].Date })
	return candles
}

func contractFromRow(symbol, expiration string, row map[string]interface{}) (domain.OptionContract, bool) {
	strike := getFloat64(row, "strike")
	if strike == nil {
		return domain.OptionContract{}, false
	}

	var optType domain.OptionType
	switch t := getString(row, "option_type"); {
	case t != nil && (*t == "put" || *t == "PUT"):
		optType = domain.OptionPut
	case t != nil && (*t == "call" || *t == "CALL"):
		optType = domain.OptionCall
	default:
		return domain.OptionContract{}, false
	}

	ct := domain.OptionContract{
		Symbol:       symbol,
		Expiration:   expiration,
		Strike:       *strike,
		Type:         optType,
		Bid:          getFloat64(row, "bid"),
		Ask:          getFloat64(row, "ask"),
		Last:         getFloat64(row, "last"),
		OpenInterest: getInt64(row, "open_interest"),
		Volume:       getInt64(row, "volume"),
	}

	if s := getString(row, "symbol"); s != nil {
		ct.OptionSymbol = *s
	}

	if g := getMap(row, "greeks"); g != nil {
		ct.Greeks = domain.Greeks{
			Delta: getFloat64(g, "delta"),
			Gamma: getFloat64(g, "gamma"),
			Theta: getFloat64(g, "theta"),
			Vega:  getFloat64(g, "vega"),
		}
		ct.IV = getFloat64(g, "mid_iv")
	}

	if ct.Bid != nil && ct.Ask != nil {
		mid := (*ct.Bid + *ct.Ask) / 2
		spread := *ct.Ask - *ct.Bid
		ct.Mid = &mid
		ct.Spread = &spread
		if mid > 0 {
			pct := spread / mid
			ct.SpreadPct = &pct
		}
	}

	return ct, true
}

func lastCandles(candles []domain.Candle, n int) []domain.Candle {
	if n <= 0 || len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
