package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/domain"
)

// phase boundaries in minutes after midnight, Eastern time.
const (
	preMarketStart = 4 * 60          // 04:00 ET
	regularOpen    = 9*60 + 30       // 09:30 ET
	openingWindow  = 10 * 60         // first half hour counts as OPEN
	closingWindow  = 15*60 + 30      // last half hour counts as POST
	regularClose   = 16 * 60         // 16:00 ET
	earlyClose     = 13 * 60         // 13:00 ET on shortened sessions
)

// MarketHoursService derives the NYSE market phase from the exchange
// calendar. All evaluation cadence decisions go through here.
type MarketHoursService struct {
	tz          *time.Location
	holidays    map[string]bool
	earlyCloses map[string]bool
	log         zerolog.Logger
}

// NewMarketHoursService creates the service with the 2026 NYSE calendar.
func NewMarketHoursService(log zerolog.Logger) *MarketHoursService {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Without the IANA database the calendar is meaningless.
		panic("market hours: " + err.Error())
	}

	holidays := []string{
		"2026-01-01", // New Year's Day
		"2026-01-19", // MLK Day
		"2026-02-16", // Presidents Day
		"2026-04-03", // Good Friday
		"2026-05-25", // Memorial Day
		"2026-06-19", // Juneteenth
		"2026-07-03", // Independence Day (observed)
		"2026-09-07", // Labor Day
		"2026-11-26", // Thanksgiving
		"2026-12-25", // Christmas
	}
	earlyCloses := []string{
		"2026-11-27", // day after Thanksgiving
		"2026-12-24", // Christmas Eve
	}

	s := &MarketHoursService{
		tz:          tz,
		holidays:    make(map[string]bool, len(holidays)),
		earlyCloses: make(map[string]bool, len(earlyCloses)),
		log:         log.With().Str("component", "market_hours").Logger(),
	}
	for _, d := range holidays {
		s.holidays[d] = true
	}
	for _, d := range earlyCloses {
		s.earlyCloses[d] = true
	}
	return s
}

// Phase returns the market phase at the given instant.
func (s *MarketHoursService) Phase(at time.Time) domain.MarketPhase {
	local := at.In(s.tz)

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return domain.PhaseClosed
	}
	day := local.Format("2006-01-02")
	if s.holidays[day] {
		return domain.PhaseClosed
	}

	closeAt := regularClose
	postAt := closingWindow
	if s.earlyCloses[day] {
		closeAt = earlyClose
		postAt = earlyClose - 30
	}

	minutes := local.Hour()*60 + local.Minute()
	switch {
	case minutes < preMarketStart:
		return domain.PhaseClosed
	case minutes < regularOpen:
		return domain.PhasePre
	case minutes < openingWindow:
		return domain.PhaseOpen
	case minutes < postAt:
		return domain.PhaseMid
	case minutes < closeAt:
		return domain.PhasePost
	default:
		return domain.PhaseClosed
	}
}

// IsTradingDay reports whether the NYSE holds a session on the given date.
func (s *MarketHoursService) IsTradingDay(at time.Time) bool {
	local := at.In(s.tz)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return !s.holidays[local.Format("2006-01-02")]
}

// MarketStatus is the /api/market-status payload.
type MarketStatus struct {
	Exchange   string             `json:"exchange"`
	Phase      domain.MarketPhase `json:"phase"`
	IsOpen     bool               `json:"is_open"`
	TradingDay bool               `json:"trading_day"`
	Timezone   string             `json:"timezone"`
	LocalTime  string             `json:"local_time"`
}

// Status reports the current NYSE status.
func (s *MarketHoursService) Status(at time.Time) MarketStatus {
	phase := s.Phase(at)
	return MarketStatus{
		Exchange:   "NYSE",
		Phase:      phase,
		IsOpen:     phase == domain.PhaseOpen || phase == domain.PhaseMid || phase == domain.PhasePost,
		TradingDay: s.IsTradingDay(at),
		Timezone:   "America/New_York",
		LocalTime:  at.In(s.tz).Format(time.RFC3339),
	}
}
