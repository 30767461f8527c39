package calculator

import (
	"math"
	"testing"

	"sprout-budget-go/internal/models"
)

func tx(amount float64) models.Transaction {
	return models.Transaction{ID: "t", Description: "test", Amount: amount}
}

func TestMonthTotals(t *testing.T) {
	md := models.MonthData{
		Incomes:   []models.Transaction{tx(100.10), tx(200.20)},
		Spendings: []models.Transaction{tx(50.05)},
	}
	income, spending, balance := MonthTotals(md)
	if math.Abs(income-300.30) > 1e-9 {
		t.Errorf("income = %v, want 300.30", income)
	}
	if math.Abs(spending-50.05) > 1e-9 {
		t.Errorf("spending = %v, want 50.05", spending)
	}
	if math.Abs(balance-250.25) > 1e-9 {
		t.Errorf("balance = %v, want 250.25", balance)
	}
}

func TestMonthTotalsEmpty(t *testing.T) {
	income, spending, balance := MonthTotals(models.MonthData{})
	if income != 0 || spending != 0 || balance != 0 {
		t.Errorf("empty month totals = %v/%v/%v, want zeros", income, spending, balance)
	}
}

func TestAccumulatedSurplusBefore(t *testing.T) {
	tests := []struct {
		name   string
		data   models.BudgetData
		target models.MonthKey
		want   float64
	}{
		{
			name:   "first month always zero",
			data:   models.BudgetData{models.June: {Incomes: []models.Transaction{tx(1000)}}},
			target: models.June,
			want:   0,
		},
		{
			name: "surplus flows forward",
			data: models.BudgetData{
				models.June: {Incomes: []models.Transaction{tx(500)}},
				models.July: {Incomes: []models.Transaction{tx(100)}, Spendings: []models.Transaction{tx(40)}},
			},
			target: models.August,
			want:   560,
		},
		{
			name: "deficit month resets the carry instead of going negative",
			data: models.BudgetData{
				models.June: {Incomes: []models.Transaction{tx(600)}},
				models.July: {Spendings: []models.Transaction{tx(900)}},
			},
			target: models.August,
			want:   0,
		},
		{
			name: "reset does not erase later surplus",
			data: models.BudgetData{
				models.June:   {Spendings: []models.Transaction{tx(300)}},
				models.July:   {Incomes: []models.Transaction{tx(250)}},
				models.August: {},
			},
			target: models.September,
			want:   250,
		},
		{
			name: "partial document counts missing months as zero",
			data: models.BudgetData{
				models.June: {Incomes: []models.Transaction{tx(120)}},
			},
			target: models.September,
			want:   120,
		},
		{
			name:   "nil document",
			data:   nil,
			target: models.September,
			want:   0,
		},
		{
			name:   "unknown target",
			data:   models.BudgetData{models.June: {Incomes: []models.Transaction{tx(100)}}},
			target: models.MonthKey("Octember"),
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AccumulatedSurplusBefore(tt.target, tt.data)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AccumulatedSurplusBefore(%s) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestAccumulatedSurplusNeverNegative(t *testing.T) {
	data := models.BudgetData{
		models.June:   {Spendings: []models.Transaction{tx(100)}},
		models.July:   {Spendings: []models.Transaction{tx(200)}},
		models.August: {Spendings: []models.Transaction{tx(300)}},
	}
	for _, m := range models.Months {
		if got := AccumulatedSurplusBefore(m, data); got < 0 {
			t.Errorf("AccumulatedSurplusBefore(%s) = %v, want >= 0", m, got)
		}
	}
}

func TestCentArithmeticIsExact(t *testing.T) {
	// 0.1 + 0.2 style inputs must not leak binary float drift.
	data := models.BudgetData{
		models.June: {
			Incomes:   []models.Transaction{tx(0.1), tx(0.2)},
			Spendings: []models.Transaction{tx(0.3)},
		},
		models.July: {Incomes: []models.Transaction{tx(10.01)}},
	}
	if got := AccumulatedSurplusBefore(models.August, data); got != 10.01 {
		t.Errorf("AccumulatedSurplusBefore(August) = %v, want exactly 10.01", got)
	}
}
