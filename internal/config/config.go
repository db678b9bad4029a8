package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// RunMode controls which safety rails apply to a run.
type RunMode string

const (
	RunModeDryRun RunMode = "DRY_RUN"
	RunModeLive   RunMode = "LIVE"
	RunModeMock   RunMode = "MOCK"
)

// Config holds application configuration. It is read once at startup and
// never mutated afterwards; the evaluation pipeline captures the critical
// subset into the freeze hash before the first symbol is touched.
type Config struct {
	Port         int
	DevMode      bool
	LogLevel     string
	DataDir      string
	UniverseFile string
	RunMode      RunMode

	TradierBaseURL string
	TradierToken   string

	MaxWorkers         int
	HTTPBudget         int
	RunDeadlineSeconds int
	EvalCadenceMinutes int
	OpsCooldownSeconds int
	RunRetention       int

	FreezeEnabled bool

	Eligibility EligibilityConfig
	Selection   SelectionConfig
	Scoring     ScoringConfig
	Portfolio   PortfolioLimits
	DataDeps    DataDepsConfig
	Exits       ExitConfig
	Drift       DriftConfig
}

// EligibilityConfig holds the stock-level gate thresholds.
type EligibilityConfig struct {
	MinCandles                 int     `json:"min_candles"`
	MaxATRPct                  float64 `json:"max_atr_pct"`
	CSPRSIMin                  float64 `json:"csp_rsi_min"`
	CSPRSIMax                  float64 `json:"csp_rsi_max"`
	CCRSIMin                   float64 `json:"cc_rsi_min"`
	CCRSIMax                   float64 `json:"cc_rsi_max"`
	SupportNearPct             float64 `json:"support_near_pct"`
	ResistNearPct              float64 `json:"resist_near_pct"`
	MaxSRTolPct                float64 `json:"max_s_r_tol_pct"`
	EnableIntradayConfirmation bool    `json:"enable_intraday_confirmation"`
	IntradayMinRows            int     `json:"intraday_min_rows"`
}

// SelectionConfig holds contract-selection thresholds.
type SelectionConfig struct {
	DeltaLo            float64 `json:"delta_lo"`
	DeltaHi            float64 `json:"delta_hi"`
	MinOI              int64   `json:"min_oi"`
	MaxSpreadPct       float64 `json:"max_spread_pct"`
	DTEMin             int     `json:"dte_min"`
	DTEMax             int     `json:"dte_max"`
	MinPrice           float64 `json:"min_price"`
	MaxPrice           float64 `json:"max_price"`
	MaxOptionBidAskPct float64 `json:"max_option_bidask_pct"`
	MinOptionOI        int64   `json:"min_option_oi"`
	MinOptionVolume    int64   `json:"min_option_volume"`
}

// ComponentWeights weight the composite score. Missing components contribute
// zero; weights are never renormalized.
type ComponentWeights struct {
	DataQuality       float64 `json:"data_quality"`
	Regime            float64 `json:"regime"`
	OptionsLiquidity  float64 `json:"options_liquidity"`
	StrategyFit       float64 `json:"strategy_fit"`
	CapitalEfficiency float64 `json:"capital_efficiency"`
}

// PreferenceWeights weight the non-blocking contract preferences inside the
// strategy-fit scorer and the A/B/C liquidity grading.
type PreferenceWeights struct {
	Premium            float64 `json:"premium"`
	DTE                float64 `json:"dte"`
	Spread             float64 `json:"spread"`
	OTM                float64 `json:"otm"`
	Liquidity          float64 `json:"liquidity"`
	Context            float64 `json:"context"`
	StrategyPreference float64 `json:"strategy_preference"`
}

// ScoringConfig consolidates every scoring knob in one immutable struct.
type ScoringConfig struct {
	Weights    ComponentWeights  `json:"weights"`
	Preference PreferenceWeights `json:"preference"`
	BandAMin   float64           `json:"band_a_min"`
	BandBMin   float64           `json:"band_b_min"`
	BandCMin   float64           `json:"band_c_min"`
}

// PortfolioLimits holds the portfolio-level guardrail thresholds.
// AccountCapital is operational, not strategy, so it stays out of the
// freeze hash.
type PortfolioLimits struct {
	TargetMaxExposurePct        float64 `json:"target_max_exposure_pct"`
	CriticalExposurePct         float64 `json:"critical_exposure_pct"`
	MaxSymbolConcentrationPct   float64 `json:"max_symbol_concentration_pct"`
	CriticalSymbolConcentration float64 `json:"critical_symbol_concentration_pct"`
	AssignmentPressureThreshold int     `json:"assignment_pressure_threshold"`
	AccountCapital              float64 `json:"-"`
}

// DataDepsConfig makes the required/optional field policy explicit rather
// than implied by code.
type DataDepsConfig struct {
	StalenessTradingDays int      `json:"staleness_trading_days"`
	RequiredEquity       []string `json:"required_equity"`
	RequiredETFIndex     []string `json:"required_etf_index"`
	Optional             []string `json:"optional"`
}

// ExitConfig holds the position-evaluator thresholds.
type ExitConfig struct {
	DTESoftExit         int     `json:"dte_soft_exit"`
	DTEHardExit         int     `json:"dte_hard_exit"`
	ProfitTargetPct     float64 `json:"profit_target_pct"`
	PremiumExtensionPct float64 `json:"premium_extension_pct"`
	MaxLossMultiplier   float64 `json:"max_loss_multiplier"`
}

// DriftConfig holds the snapshot-vs-live drift thresholds.
type DriftConfig struct {
	PriceDriftWarnPct float64 `json:"price_drift_warn_pct"`
	IVDriftAbs        float64 `json:"iv_drift_abs"`
	IVDriftRel        float64 `json:"iv_drift_rel"`
	SpreadWidenedMult float64 `json:"spread_widened_mult"`
	SpreadMidMax      float64 `json:"spread_mid_max"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8090),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		UniverseFile: getEnv("UNIVERSE_FILE", "./universe.yaml"),
		RunMode:      RunMode(strings.ToUpper(getEnv("RUN_MODE", string(RunModeDryRun)))),

		TradierBaseURL: getEnv("TRADIER_BASE_URL", "https://sandbox.tradier.com/v1"),
		TradierToken:   getEnv("TRADIER_TOKEN", ""),

		MaxWorkers:         getEnvAsInt("MAX_WORKERS", 0), // 0 = CPU count
		HTTPBudget:         getEnvAsInt("HTTP_BUDGET", 600),
		RunDeadlineSeconds: getEnvAsInt("RUN_DEADLINE_SECONDS", 600),
		EvalCadenceMinutes: getEnvAsInt("EVAL_CADENCE_MINUTES", 60),
		OpsCooldownSeconds: getEnvAsInt("OPS_COOLDOWN_SECONDS", 300),
		RunRetention:       getEnvAsInt("RUN_RETENTION", 30),

		FreezeEnabled: getEnvAsBool("FREEZE_GUARD_ENABLED", true),

		Eligibility: EligibilityConfig{
			MinCandles:                 getEnvAsInt("MIN_CANDLES", 60),
			MaxATRPct:                  getEnvAsFloat("MAX_ATR_PCT", 0.05),
			CSPRSIMin:                  getEnvAsFloat("CSP_RSI_MIN", 40),
			CSPRSIMax:                  getEnvAsFloat("CSP_RSI_MAX", 65),
			CCRSIMin:                   getEnvAsFloat("CC_RSI_MIN", 35),
			CCRSIMax:                   getEnvAsFloat("CC_RSI_MAX", 60),
			SupportNearPct:             getEnvAsFloat("SUPPORT_NEAR_PCT", 0.04),
			ResistNearPct:              getEnvAsFloat("RESIST_NEAR_PCT", 0.04),
			MaxSRTolPct:                getEnvAsFloat("MAX_S_R_TOL_PCT", 0.03),
			EnableIntradayConfirmation: getEnvAsBool("ENABLE_INTRADAY_CONFIRMATION", false),
			IntradayMinRows:            getEnvAsInt("INTRADAY_MIN_ROWS", 30),
		},

		Selection: SelectionConfig{
			DeltaLo:            getEnvAsFloat("DELTA_LO", 0.15),
			DeltaHi:            getEnvAsFloat("DELTA_HI", 0.35),
			MinOI:              int64(getEnvAsInt("MIN_OI", 200)),
			MaxSpreadPct:       getEnvAsFloat("MAX_SPREAD_PCT", 0.10),
			DTEMin:             getEnvAsInt("DTE_MIN", 21),
			DTEMax:             getEnvAsInt("DTE_MAX", 49),
			MinPrice:           getEnvAsFloat("MIN_PRICE", 10),
			MaxPrice:           getEnvAsFloat("MAX_PRICE", 800),
			MaxOptionBidAskPct: getEnvAsFloat("MAX_OPTION_BIDASK_PCT", 0.12),
			MinOptionOI:        int64(getEnvAsInt("MIN_OPTION_OI", 100)),
			MinOptionVolume:    int64(getEnvAsInt("MIN_OPTION_VOLUME", 10)),
		},

		Scoring: ScoringConfig{
			Weights: ComponentWeights{
				DataQuality:       getEnvAsFloat("WEIGHT_DATA_QUALITY", 0.20),
				Regime:            getEnvAsFloat("WEIGHT_REGIME", 0.25),
				OptionsLiquidity:  getEnvAsFloat("WEIGHT_OPTIONS_LIQUIDITY", 0.20),
				StrategyFit:       getEnvAsFloat("WEIGHT_STRATEGY_FIT", 0.25),
				CapitalEfficiency: getEnvAsFloat("WEIGHT_CAPITAL_EFFICIENCY", 0.10),
			},
			Preference: PreferenceWeights{
				Premium:            getEnvAsFloat("PREF_PREMIUM", 0.25),
				DTE:                getEnvAsFloat("PREF_DTE", 0.15),
				Spread:             getEnvAsFloat("PREF_SPREAD", 0.15),
				OTM:                getEnvAsFloat("PREF_OTM", 0.15),
				Liquidity:          getEnvAsFloat("PREF_LIQUIDITY", 0.15),
				Context:            getEnvAsFloat("PREF_CONTEXT", 0.10),
				StrategyPreference: getEnvAsFloat("PREF_STRATEGY", 0.05),
			},
			BandAMin: getEnvAsFloat("BAND_A_MIN", 75),
			BandBMin: getEnvAsFloat("BAND_B_MIN", 60),
			BandCMin: getEnvAsFloat("BAND_C_MIN", 45),
		},

		Portfolio: PortfolioLimits{
			TargetMaxExposurePct:        getEnvAsFloat("TARGET_MAX_EXPOSURE_PCT", 0.50),
			CriticalExposurePct:         getEnvAsFloat("CRITICAL_EXPOSURE_PCT", 0.70),
			MaxSymbolConcentrationPct:   getEnvAsFloat("MAX_SYMBOL_CONCENTRATION_PCT", 0.15),
			CriticalSymbolConcentration: getEnvAsFloat("CRITICAL_SYMBOL_CONCENTRATION_PCT", 0.25),
			AssignmentPressureThreshold: getEnvAsInt("ASSIGNMENT_PRESSURE_THRESHOLD", 2),
			AccountCapital:              getEnvAsFloat("ACCOUNT_CAPITAL", 100000),
		},

		DataDeps: DataDepsConfig{
			StalenessTradingDays: getEnvAsInt("STALENESS_TRADING_DAYS", 1),
			RequiredEquity:       []string{"price", "iv_rank", "bid", "ask", "volume", "quote_date"},
			RequiredETFIndex:     []string{"price", "iv_rank", "volume", "quote_date"},
			Optional:             []string{"avg_option_volume_20d"},
		},

		Exits: ExitConfig{
			DTESoftExit:         getEnvAsInt("DTE_SOFT_EXIT_THRESHOLD", 14),
			DTEHardExit:         getEnvAsInt("DTE_HARD_EXIT_THRESHOLD", 7),
			ProfitTargetPct:     getEnvAsFloat("PROFIT_TARGET_PCT", 0.60),
			PremiumExtensionPct: getEnvAsFloat("PREMIUM_EXTENSION_PCT", 0.75),
			MaxLossMultiplier:   getEnvAsFloat("MAX_LOSS_MULTIPLIER", 2.0),
		},

		Drift: DriftConfig{
			PriceDriftWarnPct: getEnvAsFloat("PRICE_DRIFT_WARN_PCT", 0.01),
			IVDriftAbs:        getEnvAsFloat("IV_DRIFT_ABS", 0.05),
			IVDriftRel:        getEnvAsFloat("IV_DRIFT_REL", 0.20),
			SpreadWidenedMult: getEnvAsFloat("SPREAD_WIDENED_MULT", 2.0),
			SpreadMidMax:      getEnvAsFloat("SPREAD_MID_MAX", 0.25),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.RunMode {
	case RunModeDryRun, RunModeLive, RunModeMock:
	default:
		return fmt.Errorf("invalid RUN_MODE %q", c.RunMode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Selection.DeltaLo <= 0 || c.Selection.DeltaHi <= c.Selection.DeltaLo {
		return fmt.Errorf("delta band [%v, %v] is not a valid range", c.Selection.DeltaLo, c.Selection.DeltaHi)
	}
	if c.Selection.DTEMin <= 0 || c.Selection.DTEMax < c.Selection.DTEMin {
		return fmt.Errorf("dte window [%d, %d] is not a valid range", c.Selection.DTEMin, c.Selection.DTEMax)
	}
	if c.RunMode == RunModeLive && c.TradierToken == "" {
		return fmt.Errorf("TRADIER_TOKEN is required in LIVE mode")
	}

	return nil
}

// Critical captures every knob that may change the decision output.
// The freeze guard hashes this struct; top-level JSON keys are what a
// freeze violation reports as changed.
type Critical struct {
	Scoring      ScoringConfig     `json:"scoring"`
	Risk         PortfolioLimits   `json:"risk"`
	ContextGates EligibilityConfig `json:"context_gates"`
	Selection    SelectionConfig   `json:"selection"`
	SignalBase   ExitConfig        `json:"signal_base"`
}

// Critical returns the freeze-relevant snapshot of the configuration.
func (c *Config) Critical() Critical {
	return Critical{
		Scoring:      c.Scoring,
		Risk:         c.Portfolio,
		ContextGates: c.Eligibility,
		Selection:    c.Selection,
		SignalBase:   c.Exits,
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
