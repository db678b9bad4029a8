package eligibility

import (
	"sort"
	"time"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/snapshot"
	"github.com/aristath/wheel-trader/internal/quality"
)

// CheckDataDeps evaluates a snapshot against the required-fields policy for
// its instrument type. It is pure: same snapshot and clock, same report.
//
// Derivation: any required field non-VALID is FAIL; else a stale quote_date
// or a missing optional field is WARN; else PASS.
func CheckDataDeps(snap *snapshot.Snapshot, cfg config.DataDepsConfig, now time.Time) DepsReport {
	required := cfg.RequiredEquity
	if snap.InstrumentType == domain.InstrumentETF || snap.InstrumentType == domain.InstrumentIndex {
		required = cfg.RequiredETFIndex
	}

	qualities := snap.FieldQualities()

	var report DepsReport
	for _, name := range required {
		if qualities[name] != quality.Valid {
			report.MissingRequired = append(report.MissingRequired, name)
		}
	}
	for _, name := range cfg.Optional {
		if qualities[name] != quality.Valid {
			report.MissingOptional = append(report.MissingOptional, name)
		}
	}
	sort.Strings(report.MissingRequired)
	sort.Strings(report.MissingOptional)

	if snap.QuoteDate.IsValid() && quoteIsStale(*snap.QuoteDate.Value, now, cfg.StalenessTradingDays) {
		report.StaleFields = append(report.StaleFields, required...)
	}

	switch {
	case len(report.MissingRequired) > 0:
		report.Status = DepsFail
	case len(report.StaleFields) > 0 || len(report.MissingOptional) > 0:
		report.Status = DepsWarn
	default:
		report.Status = DepsPass
	}

	return report
}

// quoteIsStale reports whether quoteDate is more than maxAge trading days
// behind now. Weekends do not count toward the age; an unparseable date is
// treated as stale.
func quoteIsStale(quoteDate string, now time.Time, maxAge int) bool {
	qd, err := time.Parse("2006-01-02", quoteDate)
	if err != nil {
		return true
	}

	age := 0
	for d := qd.AddDate(0, 0, 1); !d.After(now.Truncate(24 * time.Hour)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			age++
		}
		if age > maxAge {
			return true
		}
	}

	return age > maxAge
}
