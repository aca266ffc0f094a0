// Package pricefmt renders prices and P&L with magnitude-tiered precision.
//
// Tiers: zero renders "0.00"; below 0.01 up to 8 decimals; below 1 up to 4
// decimals, both with trailing zeros stripped; otherwise 2 fixed decimals.
package pricefmt

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const zero = "0.00"

var (
	cent = decimal.RequireFromString("0.01")
	one  = decimal.NewFromInt(1)
)

// places returns the number of decimals for a magnitude and whether trailing
// zeros are stripped.
func places(magnitude decimal.Decimal) (int32, bool) {
	switch {
	case magnitude.LessThan(cent):
		return 8, true
	case magnitude.LessThan(one):
		return 4, true
	default:
		return 2, false
	}
}

func render(d decimal.Decimal, magnitude decimal.Decimal) string {
	if d.IsZero() {
		return zero
	}
	dp, strip := places(magnitude)
	s := d.StringFixed(dp)
	if !strip {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "0" || s == "-0" || s == "" || s == "-" {
		return zero
	}
	return s
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Price renders a price, tiering on its raw value.
func Price(v float64) string {
	if !valid(v) {
		return zero
	}
	d := decimal.NewFromFloat(v)
	return render(d, d)
}

// PnL renders a profit or loss, tiering on its absolute value.
func PnL(v float64) string {
	if !valid(v) {
		return zero
	}
	d := decimal.NewFromFloat(v)
	return render(d, d.Abs())
}

// Percent renders the change from original to current as a percentage.
func Percent(current, original float64) string {
	if current == 0 || original == 0 || !valid(current) || !valid(original) {
		return zero
	}
	cur := decimal.NewFromFloat(current)
	orig := decimal.NewFromFloat(original)
	pct := cur.Sub(orig).Div(orig).Mul(decimal.NewFromInt(100))
	if pct.IsZero() {
		return zero
	}
	if pct.Abs().LessThan(cent) {
		s := strings.TrimSuffix(strings.TrimRight(pct.StringFixed(4), "0"), ".")
		if s == "0" || s == "-0" {
			return zero
		}
		return s
	}
	return pct.StringFixed(2)
}

// Round rounds v to its tier's precision: 8 decimals below 0.01, 4 below 1,
// 2 otherwise.
func Round(v float64) float64 {
	if v == 0 || !valid(v) {
		return v
	}
	d := decimal.NewFromFloat(v)
	dp, _ := places(d.Abs())
	f, _ := d.Round(dp).Float64()
	return f
}

// Round2 rounds v to 2 decimals.
func Round2(v float64) float64 {
	if !valid(v) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
