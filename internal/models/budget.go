package models

// MonthKey identifies one of the fixed budgeting months.
// The order of Months is semantically meaningful: carry-over flows from
// earlier months into later ones, so the sequence must never be sorted
// or otherwise reordered.
type MonthKey string

const (
	June      MonthKey = "June"
	July      MonthKey = "July"
	August    MonthKey = "August"
	September MonthKey = "September"
)

// Months is the fixed budgeting sequence. Index position defines
// carry-over order.
var Months = []MonthKey{June, July, August, September}

// MonthIndex returns the position of the month in the fixed sequence,
// or -1 if the key is not a known month.
func MonthIndex(m MonthKey) int {
	for i, k := range Months {
		if k == m {
			return i
		}
	}
	return -1
}

// IsValidMonth reports whether m is one of the fixed budgeting months.
func IsValidMonth(m MonthKey) bool {
	return MonthIndex(m) >= 0
}

// Transaction is a single income or spending entry. Transactions are
// immutable once created; the only mutation is deletion.
type Transaction struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"` // always > 0; direction comes from which list holds it
}

// MonthData holds the transactions and the financial goal for one month.
type MonthData struct {
	Incomes       []Transaction `json:"incomes"`
	Spendings     []Transaction `json:"spendings"`
	FinancialGoal string        `json:"financialGoal"`
}

// BudgetData is the month-keyed budget document as persisted in the
// remote tree store. Store payloads may omit months with no data, so
// any document read remotely must go through Normalize before use.
type BudgetData map[MonthKey]MonthData

// DefaultBudgetData returns a fresh document with every month present
// and empty. This is the document written on first use of a path.
func DefaultBudgetData() BudgetData {
	data := make(BudgetData, len(Months))
	for _, m := range Months {
		data[m] = MonthData{Incomes: []Transaction{}, Spendings: []Transaction{}}
	}
	return data
}

// Normalize fills in any month the store omitted and replaces nil
// transaction slices with empty ones. It never fails on partial
// documents; a nil input yields a default document. The input map is
// not modified.
func Normalize(data BudgetData) BudgetData {
	out := make(BudgetData, len(Months))
	for _, m := range Months {
		md := data[m] // zero value when absent
		if md.Incomes == nil {
			md.Incomes = []Transaction{}
		}
		if md.Spendings == nil {
			md.Spendings = []Transaction{}
		}
		out[m] = md
	}
	return out
}

// Clone returns a deep copy of the document, normalized. Coordinators
// hand out clones so callers can never alias the live cache.
func (d BudgetData) Clone() BudgetData {
	out := make(BudgetData, len(Months))
	for _, m := range Months {
		md := d[m]
		cp := MonthData{
			Incomes:       make([]Transaction, len(md.Incomes)),
			Spendings:     make([]Transaction, len(md.Spendings)),
			FinancialGoal: md.FinancialGoal,
		}
		copy(cp.Incomes, md.Incomes)
		copy(cp.Spendings, md.Spendings)
		out[m] = cp
	}
	return out
}
