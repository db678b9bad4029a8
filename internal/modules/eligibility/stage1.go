package eligibility

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/modules/snapshot"
)

// Stage1 qualifies a snapshot for further evaluation. It blocks only on
// missing required fields; stale or optional gaps pass through as WARN in
// the embedded deps report. No option fetches happen at this stage.
func Stage1(snap *snapshot.Snapshot, cfg config.DataDepsConfig, now time.Time) Stage1Result {
	deps := CheckDataDeps(snap, cfg, now)

	details := make(map[string]string, 8)
	for name, q := range snap.FieldQualities() {
		details[name] = string(q)
	}

	result := Stage1Result{
		Status:             Stage1Qualified,
		DataQualityDetails: details,
		Deps:               deps,
	}

	if deps.Status == DepsFail {
		result.Status = Stage1Blocked
		result.Reason = fmt.Sprintf("required fields missing: %s",
			strings.Join(deps.MissingRequired, ", "))
	}

	return result
}
