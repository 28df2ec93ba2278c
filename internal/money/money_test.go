package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToThousands(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"£2.5m", f(2500)},
		{"£750,000", f(750)},
		{"£1.2 million", f(1200)},
		{"2.5M", f(2500)},
		{"£850k", f(850)},
		{"£1,250k", f(1250)},
		{"£1.1bn", f(1100000)},
		{"GBP 3,400,000", f(3400)},
		{"£1m - £2m", f(1000)},
		{"4500000", f(4500)},
		{"950", f(950)},
		{"£750", f(0.75)},
		{"Turnover: £2,100,000 p.a.", f(2100)},
		{"£1.5m (approx)", f(1500)},
		{"", nil},
		{"POA", nil},
		{"Undisclosed", nil},
		{"no figure here", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ToThousands(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.001)
		})
	}
}

// Unhinted bare integers have two competing readings: "below 10M is pounds"
// and "over 10M is pounds, otherwise thousands". Each row records both and
// the figure ToThousands settles on, which is always one of the two.
func TestToThousands_BareIntegers(t *testing.T) {
	tests := []struct {
		in          string
		below10MGBP float64
		over10MGBP  float64
		want        float64
	}{
		{"950", 0.95, 950, 950},
		{"9999", 9.999, 9999, 9999},
		{"10000", 10, 10000, 10},
		{"750000", 750, 750000, 750},
		{"4500000", 4500, 4500000, 4500},
		{"9999999", 9999.999, 9999999, 9999.999},
		{"25000000", 25000000, 25000, 25000},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ToThousands(tt.in)
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 0.001)
			assert.True(t, *got == tt.below10MGBP || *got == tt.over10MGBP,
				"%s: %v matches neither reading", tt.in, *got)
		})
	}
}

func TestToThousandsHint(t *testing.T) {
	assert.InDelta(t, 2500, *ToThousandsHint("2.5", UnitMillions), 0.001)
	assert.InDelta(t, 2.5, *ToThousandsHint("2.5", UnitThousands), 0.001)
	assert.InDelta(t, 2.5, *ToThousandsHint("2500", UnitPounds), 0.001)
	// Explicit units beat the hint.
	assert.InDelta(t, 300, *ToThousandsHint("300k", UnitMillions), 0.001)
}

func TestToPercent(t *testing.T) {
	assert.InDelta(t, 12.5, *ToPercent("12.5%"), 0.001)
	assert.InDelta(t, 12.5, *ToPercent("0.125"), 0.001)
	assert.InDelta(t, 8, *ToPercent("8"), 0.001)
	assert.InDelta(t, -3, *ToPercent("-3%"), 0.001)
	assert.Nil(t, ToPercent(""))
	assert.Nil(t, ToPercent("n/a"))
}

func TestDetectUnit(t *testing.T) {
	assert.Equal(t, UnitThousands, DetectUnit("Turnover (£000s)"))
	assert.Equal(t, UnitMillions, DetectUnit("Revenue £m"))
	assert.Equal(t, UnitPounds, DetectUnit("Asking price (£)"))
	assert.Equal(t, UnitNone, DetectUnit("Revenue"))
}

func f(v float64) *float64 { return &v }
