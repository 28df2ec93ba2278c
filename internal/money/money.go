// Package money normalises scraped monetary and percentage text.
//
// All money is carried in thousands of pounds. Percentages are carried as
// percentage points (12.5 means 12.5%).
package money

import (
	"regexp"
	"strconv"
	"strings"
)

// Unit is a scale hint taken from the surrounding context, such as a column
// header reading "£000s" or "£m".
type Unit int

const (
	// UnitNone means no hint; the text itself decides.
	UnitNone Unit = iota
	// UnitPounds means bare figures are absolute pounds.
	UnitPounds
	// UnitThousands means bare figures are already in thousands.
	UnitThousands
	// UnitMillions means bare figures are in millions.
	UnitMillions
)

// BarePoundsThreshold is the magnitude at or above which an unhinted bare
// figure is read as absolute pounds rather than thousands.
const BarePoundsThreshold = 10_000

var (
	numberRe = regexp.MustCompile(`(?i)(-?\d[\d,]*(?:\.\d+)?|-?\.\d+)\s*(bn|billion|b|mn|million|mil|m|k|thousand|000s)?\b`)
	noValue  = []string{"poa", "n/a", "na", "undisclosed", "on application", "confidential", "tbc", "-"}
)

// ToThousands parses a money string into thousands of pounds. It returns nil
// when the text carries no figure.
func ToThousands(text string) *float64 {
	return ToThousandsHint(text, UnitNone)
}

// ToThousandsHint parses a money string, using hint for figures without a unit.
// Ranges ("£1m - £2m") resolve to their lower bound.
func ToThousandsHint(text string, hint Unit) *float64 {
	s := strings.TrimSpace(strings.ReplaceAll(text, "\u00a0", " "))
	if s == "" {
		return nil
	}
	lower := strings.ToLower(s)
	for _, nv := range noValue {
		if lower == nv {
			return nil
		}
	}

	m := numberRe.FindStringSubmatchIndex(lower)
	if m == nil {
		return nil
	}
	raw := strings.TrimRight(lower[m[2]:m[3]], ",")
	unit := ""
	if m[4] >= 0 {
		unit = lower[m[4]:m[5]]
	}

	hasSeparators := strings.Contains(raw, ",")
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return nil
	}
	hasPound := strings.Contains(lower[:m[2]], "£") || strings.Contains(lower[:m[2]], "gbp")

	var k float64
	switch unit {
	case "bn", "billion", "b":
		k = v * 1_000_000
	case "mn", "million", "mil", "m":
		k = v * 1_000
	case "k", "thousand", "000s":
		k = v
	default:
		switch {
		case hint == UnitMillions:
			k = v * 1_000
		case hint == UnitThousands:
			k = v
		case hint == UnitPounds, hasPound, hasSeparators, v >= BarePoundsThreshold:
			k = v / 1_000
		default:
			k = v
		}
	}
	k = round3(k)
	return &k
}

// ToPercent parses a percentage into percentage points. A bare fraction below 1
// without a percent sign is read as a ratio.
func ToPercent(text string) *float64 {
	s := strings.TrimSpace(strings.ReplaceAll(text, "\u00a0", " "))
	if s == "" {
		return nil
	}
	m := numberRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	if !strings.Contains(s, "%") && strings.Contains(m[1], ".") && v > -1 && v < 1 {
		v *= 100
	}
	v = round3(v)
	return &v
}

// DetectUnit reads a scale hint from a header or label.
func DetectUnit(label string) Unit {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "£000") || strings.Contains(l, "(000") || strings.Contains(l, "£k") || strings.Contains(l, "thousand"):
		return UnitThousands
	case strings.Contains(l, "£m") || strings.Contains(l, "(m)") || strings.Contains(l, "million"):
		return UnitMillions
	case strings.Contains(l, "(£)") || strings.Contains(l, "pounds"):
		return UnitPounds
	}
	return UnitNone
}

func round3(v float64) float64 {
	return float64(int64(v*1000+sign(v)*0.5)) / 1000
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
