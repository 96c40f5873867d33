package s1_analytics

import (
	"fmt"
	"math"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"github.com/wonny/finpipe/internal/contracts"
)

// Window lengths in observed days
const (
	ShortWindow = 7
	LongWindow  = 30
)

// movingAverage is the arithmetic mean of the last n closes of window.
// Null when fewer than n exist.
func movingAverage(window []decimal.Decimal, n int) null.Float {
	if len(window) < n {
		return null.Float{}
	}
	sum := decimal.Zero
	for _, c := range window[len(window)-n:] {
		sum = sum.Add(c)
	}
	return null.FloatFrom(sum.Div(decimal.NewFromInt(int64(n))).InexactFloat64())
}

// simpleReturn is (cur - prev) / prev, null when prev is zero
func simpleReturn(prev, cur decimal.Decimal) null.Float {
	if prev.IsZero() {
		return null.Float{}
	}
	return null.FloatFrom(cur.Sub(prev).Div(prev).InexactFloat64())
}

// volatility is the sample standard deviation of the day-over-day returns
// inside the last n closes. Null under the same condition as the n-day average
// or when a close in the window is zero.
func volatility(window []decimal.Decimal, n int) null.Float {
	if len(window) < n || n < 3 {
		return null.Float{}
	}
	closes := window[len(window)-n:]

	returns := make([]float64, 0, n-1)
	for i := 1; i < len(closes); i++ {
		r := simpleReturn(closes[i-1], closes[i])
		if !r.Valid {
			return null.Float{}
		}
		returns = append(returns, r.Float64)
	}

	return null.FloatFrom(sampleStdDev(returns))
}

// sampleStdDev uses the n-1 denominator
func sampleStdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))

	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	return math.Sqrt(varianceSum / float64(len(data)-1))
}

// priceRange is high - low, null unless both were reported
func priceRange(high, low decimal.NullDecimal) null.Float {
	if !high.Valid || !low.Valid {
		return null.Float{}
	}
	return null.FloatFrom(high.Decimal.Sub(low.Decimal).InexactFloat64())
}

// priceChange returns close - open and that change as a percent of open.
// The percent is null for a zero open.
func priceChange(open decimal.NullDecimal, closeValue decimal.Decimal) (null.Float, null.Float) {
	if !open.Valid {
		return null.Float{}, null.Float{}
	}
	change := closeValue.Sub(open.Decimal)
	if open.Decimal.IsZero() {
		return null.FloatFrom(change.InexactFloat64()), null.Float{}
	}
	pct := change.Div(open.Decimal).Mul(decimal.NewFromInt(100))
	return null.FloatFrom(change.InexactFloat64()), null.FloatFrom(pct.InexactFloat64())
}

// priceTier buckets a crypto close in USD
func priceTier(price decimal.Decimal) string {
	switch {
	case price.LessThan(decimal.NewFromInt(100)):
		return contracts.TierLow
	case price.LessThan(decimal.NewFromInt(1000)):
		return contracts.TierMedium
	case price.LessThan(decimal.NewFromInt(10000)):
		return contracts.TierHigh
	default:
		return contracts.TierVeryHigh
	}
}

func errMissing(field string) error {
	return fmt.Errorf("missing %s", field)
}

func errUnparseable(field, raw string) error {
	return fmt.Errorf("unparseable %s %q", field, raw)
}
