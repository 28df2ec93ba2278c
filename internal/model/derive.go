package model

import "math"

// Derive computes effective values and financial metrics from the declared and
// manual tracks. It is a pure projection and never divides by zero.
func Derive(declared Financials, revenueManual, ebitdaManual, askingManual *float64) Derived {
	d := Derived{
		RevenueKEffective:     coalesce(revenueManual, declared.RevenueK),
		EbitdaKEffective:      coalesce(ebitdaManual, declared.EbitdaK),
		AskingPriceKEffective: coalesce(askingManual, declared.AskingPriceK),
	}
	d.EbitdaMargin = ratio(d.EbitdaKEffective, d.RevenueKEffective, 100)
	d.RevenueMultiple = ratio(d.AskingPriceKEffective, d.RevenueKEffective, 1)
	d.EbitdaMultiple = ratio(d.AskingPriceKEffective, d.EbitdaKEffective, 1)
	return d
}

// Derive recomputes the deal's derived block from its current fields.
func (d *Deal) Derive() Derived {
	return Derive(d.Financials, d.RevenueKManual, d.EbitdaKManual, d.AskingPriceKManual)
}

// Equal reports whether two derived blocks hold the same values.
func (d Derived) Equal(o Derived) bool {
	return FloatPtrEqual(d.RevenueKEffective, o.RevenueKEffective) &&
		FloatPtrEqual(d.EbitdaKEffective, o.EbitdaKEffective) &&
		FloatPtrEqual(d.AskingPriceKEffective, o.AskingPriceKEffective) &&
		FloatPtrEqual(d.EbitdaMargin, o.EbitdaMargin) &&
		FloatPtrEqual(d.RevenueMultiple, o.RevenueMultiple) &&
		FloatPtrEqual(d.EbitdaMultiple, o.EbitdaMultiple)
}

// FloatPtrEqual compares two nullable floats, tolerating storage rounding.
func FloatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 1e-9
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func coalesce(manual, declared *float64) *float64 {
	if manual != nil {
		v := *manual
		return &v
	}
	if declared != nil {
		v := *declared
		return &v
	}
	return nil
}

func ratio(num, den *float64, scale float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	v := Round2(*num / *den * scale)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
