package artifact

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/wheel-trader/internal/domain"
)

func sampleArtifact(ts time.Time) *DecisionArtifact {
	score := 82.5
	price := 186.50
	return &DecisionArtifact{
		Metadata: Metadata{
			ArtifactVersion:   Version,
			PipelineTimestamp: ts,
			MarketPhase:       domain.PhaseMid,
			DataSource:        "tradier",
			UniverseSize:      12,
			EligibleCount:     3,
			FreezeHash:        "abc123",
			RunMode:           "DRY_RUN",
			RunID:             uuid.NewString(),
		},
		Symbols: []SymbolEvalSummary{{
			Symbol:         "NVDA",
			Verdict:        domain.VerdictQualified,
			FinalVerdict:   domain.VerdictQualified,
			Score:          &score,
			Band:           domain.BandA,
			BandReason:     "Band A: score 83 >= 75 with full preconditions",
			StageStatus:    "COMPLETE",
			Stage1Status:   "QUALIFIED",
			Stage2Status:   "PASS",
			ProviderStatus: "OK",
			EvaluatedAt:    ts,
			Strategy:       domain.ModeCSP,
			Price:          &price,
			HasCandidates:  true,
			CandidateCount: 3,
		}},
		SelectedCandidates: []Candidate{},
	}
}

func TestSetLatestGetLatestRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10, zerolog.Nop())
	require.NoError(t, err)

	ts := time.Date(2026, 8, 25, 15, 30, 0, 0, time.UTC)
	in := sampleArtifact(ts)
	require.NoError(t, store.SetLatest(in))

	out, err := store.GetLatest()
	require.NoError(t, err)

	assert.Equal(t, in.Metadata, out.Metadata)
	require.Len(t, out.Symbols, 1)
	assert.Equal(t, in.Symbols[0], out.Symbols[0])
	assert.NotEmpty(t, out.Symbols[0].Band)
}

func TestGetLatestBeforeFirstRun(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10, zerolog.Nop())
	require.NoError(t, err)

	_, err = store.GetLatest()
	assert.True(t, os.IsNotExist(err))
}

func TestHistoryRetention(t *testing.T) {
	store, err := NewStore(t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, err)

	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SetLatest(sampleArtifact(base.Add(time.Duration(i)*time.Hour))))
	}

	names, err := store.History()
	require.NoError(t, err)
	assert.Len(t, names, 3)
	// Newest first.
	assert.Equal(t, "run_20260825T130000Z.json", names[0])
}

func TestGetRunRejectsPathTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, err)

	_, err = store.GetRun("../decision_latest.json")
	assert.Error(t, err)
}

func TestSetLatestFillsVersion(t *testing.T) {
	store, err := NewStore(t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, err)

	a := sampleArtifact(time.Now().UTC().Truncate(time.Second))
	a.Metadata.ArtifactVersion = ""
	require.NoError(t, store.SetLatest(a))

	out, err := store.GetLatest()
	require.NoError(t, err)
	assert.Equal(t, Version, out.Metadata.ArtifactVersion)
}
