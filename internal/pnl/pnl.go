// Package pnl contains the cost-basis and profit/loss arithmetic. Everything
// here is a pure function of its inputs; the package holds no state.
package pnl

// UnitCost is the average acquisition price per unit: cost basis divided by
// entry quantity. Zero entry quantity yields zero rather than dividing.
func UnitCost(entryCostBasis, entryQuantity float64) float64 {
	if entryQuantity == 0 {
		return 0
	}
	return entryCostBasis / entryQuantity
}

// GainPercent is the percentage gain of the current unit price over the unit
// cost. A zero unit cost yields zero.
func GainPercent(currentUnitPrice, unitCost float64) float64 {
	if unitCost == 0 {
		return 0
	}
	return (currentUnitPrice - unitCost) / unitCost * 100
}

// RealizedForFill is the realized PnL of one exit: proceeds minus the cost
// basis of the quantity sold.
func RealizedForFill(proceeds, quantitySold, unitCost float64) float64 {
	return proceeds - unitCost*quantitySold
}

// Unrealized is the mark-to-market PnL of the remaining quantity.
func Unrealized(currentUnitPrice, unitCost, currentQuantity float64) float64 {
	return (currentUnitPrice - unitCost) * currentQuantity
}

// Converted is a base-currency amount converted to the reporting currency.
// Degraded is true when no exchange rate was available and the identity rate
// was used instead; base-currency PnL is never blocked on a missing rate.
type Converted struct {
	Amount   float64
	Degraded bool
}

// Convert applies the exchange-rate snapshot to a base-currency amount. A
// non-positive rate means the snapshot was unavailable; the amount passes
// through 1:1 and the result is flagged degraded.
func Convert(baseAmount, rate float64) Converted {
	if rate <= 0 {
		return Converted{Amount: baseAmount, Degraded: true}
	}
	return Converted{Amount: baseAmount * rate}
}
