package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Put("SPY", payload{Symbol: "SPY", Price: 450.25}))

	var got payload
	require.True(t, s.Get("SPY", &got))
	assert.Equal(t, payload{Symbol: "SPY", Price: 450.25}, got)
}

func TestGetMissesStaleEntry(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Put("QQQ", payload{Symbol: "QQQ", Price: 380}))

	// Entries from a previous calendar day are never served.
	yesterday := time.Now().AddDate(0, 0, -1)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "QQQ.json"), yesterday, yesterday))

	var got payload
	assert.False(t, s.Get("QQQ", &got))
}

func TestGetMissesAbsentEntry(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	var got payload
	assert.False(t, s.Get("NVDA", &got))
}

func TestKeySanitization(t *testing.T) {
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Put("BRK/B", payload{Symbol: "BRK/B", Price: 410}))

	var got payload
	require.True(t, s.Get("BRK/B", &got))
	assert.Equal(t, "BRK/B", got.Symbol)
}
