package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func floatPtr(f float64) *float64 { return &f }

func TestWrapFloat(t *testing.T) {
	tests := []struct {
		name        string
		raw         *float64
		allowZero   bool
		wantQuality Quality
		wantReason  string
	}{
		{
			name:        "present value is valid",
			raw:         floatPtr(450.25),
			allowZero:   true,
			wantQuality: Valid,
		},
		{
			name:        "nil is missing",
			raw:         nil,
			allowZero:   true,
			wantQuality: Missing,
			wantReason:  "price not provided by source",
		},
		{
			name:        "zero allowed is valid",
			raw:         floatPtr(0),
			allowZero:   true,
			wantQuality: Valid,
		},
		{
			name:        "zero disallowed is missing",
			raw:         floatPtr(0),
			allowZero:   false,
			wantQuality: Missing,
			wantReason:  "price is zero (treated as missing)",
		},
		{
			name:        "NaN is error",
			raw:         floatPtr(math.NaN()),
			allowZero:   true,
			wantQuality: Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := WrapFloat("price", tt.raw, tt.allowZero)
			assert.Equal(t, tt.wantQuality, f.Quality)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, f.Reason)
			}
			// Quality VALID iff value present.
			assert.Equal(t, f.Quality == Valid, f.Value != nil)
		})
	}
}

func TestWrapStringRejectsUnknownLiteral(t *testing.T) {
	v := "UNKNOWN"
	f := WrapString("quote_date", &v)

	assert.Equal(t, Missing, f.Quality)
	assert.Nil(t, f.Value)
}

func TestCompleteness(t *testing.T) {
	price := WrapFloat("price", floatPtr(100), true)
	bid := WrapFloat("bid", nil, true)
	ask := WrapFloat("ask", floatPtr(100.1), true)

	pct, missing := Completeness(price, bid, ask)

	assert.InDelta(t, 2.0/3.0, pct, 1e-9)
	assert.Equal(t, []string{"bid"}, missing)
}

func TestCompletenessEmptyIsFull(t *testing.T) {
	pct, missing := Completeness()

	assert.Equal(t, 1.0, pct)
	assert.Empty(t, missing)
}
