package domain

import "github.com/shopspring/decimal"

var (
	minPositionFraction = decimal.NewFromFloat(0.02)
	maxPositionFraction = decimal.NewFromFloat(0.15)
	half                = decimal.NewFromFloat(0.5)
)

// HalfKellyFraction computes the half-Kelly position size as a fraction of
// capital, clamped to [2%, 15%]. winProb is the strategy's rolling win
// rate; winLossRatio is average win size divided by average loss size.
// Degenerate inputs (non-positive win/loss ratio) fall back to the floor.
func HalfKellyFraction(winProb, winLossRatio decimal.Decimal) decimal.Decimal {
	if !winLossRatio.IsPositive() {
		return minPositionFraction
	}
	// Kelly fraction f* = p - (1-p)/b
	lossProb := decimal.NewFromInt(1).Sub(winProb)
	kelly := winProb.Sub(lossProb.Div(winLossRatio))
	halfKelly := kelly.Mul(half)

	if halfKelly.LessThan(minPositionFraction) {
		return minPositionFraction
	}
	if halfKelly.GreaterThan(maxPositionFraction) {
		return maxPositionFraction
	}
	return halfKelly
}
