// Package calculator implements the order-dependent balance math over
// the fixed monthly sequence. Everything here is pure: no clocks, no
// I/O, total over partial documents.
package calculator

import (
	"github.com/shopspring/decimal"

	"sprout-budget-go/internal/models"
)

// MonthTotals returns the summed income, summed spending and intrinsic
// balance (income minus spending) of a single month. Sums are carried
// out in decimal so that long transaction lists do not accumulate
// binary float drift before the final conversion back to float64.
func MonthTotals(md models.MonthData) (income, spending, balance float64) {
	in := sumAmounts(md.Incomes)
	out := sumAmounts(md.Spendings)
	income, _ = in.Float64()
	spending, _ = out.Float64()
	balance, _ = in.Sub(out).Float64()
	return income, spending, balance
}

// AccumulatedSurplusBefore computes the surplus available to target
// from all months strictly before it in the fixed sequence.
//
// The running total is clamped to zero at every step: a deficit month
// resets the carry-over instead of propagating a negative balance into
// the next month. The first month therefore always gets 0, and the
// result is always >= 0. Months missing from the document count as
// zero.
//
// An unknown target yields 0; callers validate month keys at their own
// boundary and this function stays total.
func AccumulatedSurplusBefore(target models.MonthKey, data models.BudgetData) float64 {
	idx := models.MonthIndex(target)
	if idx <= 0 {
		return 0
	}

	cumulative := decimal.Zero
	for _, m := range models.Months[:idx] {
		md := data[m]
		cumulative = cumulative.Add(sumAmounts(md.Incomes)).Sub(sumAmounts(md.Spendings))
		if cumulative.IsNegative() {
			cumulative = decimal.Zero
		}
	}

	out, _ := cumulative.Float64()
	return out
}

func sumAmounts(txs []models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(decimal.NewFromFloat(tx.Amount))
	}
	return total
}
