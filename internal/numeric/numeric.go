// Package numeric provides the clamping, smoothing and money helpers shared by
// every simulation system. Levels live in [0,1]; money is fixed decimal.
package numeric

import (
	"math"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept after multiplicative
// updates to monetary values.
const MoneyPlaces = 6

// Clamp bounds x to [lo, hi]. NaN maps to lo.
func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Clamp01 bounds x to [0, 1].
func Clamp01(x float64) float64 {
	return Clamp(x, 0, 1)
}

// InUnit reports whether x is a finite number in [0, 1].
func InUnit(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= 1
}

// EMA moves prev toward target by alpha.
func EMA(prev, target, alpha float64) float64 {
	return prev + alpha*(target-prev)
}

// Compose raises a [0,1] level by d applied to its residual 1-x.
// Two systems raising the same level in one tick commute under Compose.
func Compose(x, d float64) float64 {
	return Clamp01(1 - (1-Clamp01(x))*(1-Clamp01(d)))
}

// Damp lowers a [0,1] level multiplicatively by d.
func Damp(x, d float64) float64 {
	return Clamp01(Clamp01(x) * (1 - Clamp01(d)))
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Stdev returns the population standard deviation, 0 for fewer than 2 values.
func Stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Money converts a float to a rounded decimal amount.
func Money(x float64) decimal.Decimal {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(x).Round(MoneyPlaces)
}

// Scale multiplies a monetary amount by a float factor and rounds.
func Scale(d decimal.Decimal, f float64) decimal.Decimal {
	return d.Mul(decimal.NewFromFloat(f)).Round(MoneyPlaces)
}

// Float returns the nearest float64 of a monetary amount.
func Float(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// NonNegative floors a monetary amount at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// MinMoney returns the smaller of two amounts.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Ratio returns a/b as a float, 0 when b is zero.
func Ratio(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	return a.Div(b).InexactFloat64()
}
