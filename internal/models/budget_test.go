package models

import (
	"encoding/json"
	"testing"
)

func TestNormalizeFillsMissingMonths(t *testing.T) {
	partial := BudgetData{
		July: {Incomes: []Transaction{{ID: "a", Amount: 10}}},
	}
	got := Normalize(partial)

	for _, m := range Months {
		md, ok := got[m]
		if !ok {
			t.Fatalf("month %s missing after Normalize", m)
		}
		if md.Incomes == nil || md.Spendings == nil {
			t.Errorf("month %s has nil slices after Normalize", m)
		}
	}
	if len(got[July].Incomes) != 1 {
		t.Errorf("existing data lost: July incomes = %v", got[July].Incomes)
	}
}

func TestNormalizeNilInput(t *testing.T) {
	got := Normalize(nil)
	if len(got) != len(Months) {
		t.Fatalf("Normalize(nil) has %d months, want %d", len(got), len(Months))
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := BudgetData{June: {}}
	Normalize(in)
	if in[June].Incomes != nil {
		t.Error("Normalize mutated its input")
	}
	if _, ok := in[July]; ok {
		t.Error("Normalize added months to its input")
	}
}

// The store drops empty arrays entirely, so a round-tripped document
// loses its empty slices and must come back intact via Normalize.
func TestNormalizeAfterStoreRoundTrip(t *testing.T) {
	stored := []byte(`{"July":{"incomes":[{"id":"x","description":"pay","amount":1200}],"financialGoal":"save"}}`)
	var doc BudgetData
	if err := json.Unmarshal(stored, &doc); err != nil {
		t.Fatal(err)
	}
	got := Normalize(doc)
	if got[July].Spendings == nil {
		t.Error("pruned spendings list did not come back as empty slice")
	}
	if got[July].FinancialGoal != "save" {
		t.Errorf("financialGoal = %q, want %q", got[July].FinancialGoal, "save")
	}
	if len(got[June].Incomes) != 0 {
		t.Errorf("June should be empty, got %v", got[June].Incomes)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := BudgetData{
		June: {Incomes: []Transaction{{ID: "a", Amount: 5}}},
	}
	cp := orig.Clone()
	cp[June].Incomes[0] = Transaction{ID: "b", Amount: 99}
	if orig[June].Incomes[0].ID != "a" {
		t.Error("Clone shares transaction slices with the original")
	}
}

func TestMonthIndexOrder(t *testing.T) {
	if MonthIndex(June) != 0 || MonthIndex(September) != 3 {
		t.Errorf("month order broken: June=%d September=%d", MonthIndex(June), MonthIndex(September))
	}
	if MonthIndex("December") != -1 {
		t.Error("unknown month should index to -1")
	}
	if IsValidMonth("December") {
		t.Error("December should not be a valid month")
	}
}
