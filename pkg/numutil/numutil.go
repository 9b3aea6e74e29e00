// Package numutil holds decimal arithmetic helpers shared by the ledger
// and the reference price estimator.
package numutil

import "github.com/shopspring/decimal"

// maxScale bounds intermediate division results. Display values are
// rescaled per instrument accuracy afterwards.
const maxScale = 18

// DivideMaxScale divides a by b at the engine's maximum internal scale.
func DivideMaxScale(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, maxScale)
}

// ScaleRoundUp rescales d to the given number of decimal places, rounding
// towards positive infinity.
func ScaleRoundUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundCeil(places)
}
