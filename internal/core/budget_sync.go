package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sprout-budget-go/internal/models"
	"sprout-budget-go/internal/treestore"
)

// TransactionKind selects which list of a month a transaction lives in.
type TransactionKind string

const (
	KindIncome   TransactionKind = "income"
	KindSpending TransactionKind = "spending"
)

// ParseTransactionKind validates the wire form of a transaction kind.
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch TransactionKind(s) {
	case KindIncome, KindSpending:
		return TransactionKind(s), nil
	default:
		return "", fmt.Errorf("invalid transaction kind %q", s)
	}
}

const pushTimeout = 10 * time.Second

// BudgetSync binds the month-keyed budget document to one store path
// at a time (personal or room) and keeps an in-memory cache of it.
//
// The cache is strictly subordinate to the store: every push replaces
// it wholesale with the normalized remote document. Local mutations
// update the cache optimistically and then push the full document; a
// failed push is reported but never rolled back, because the next
// successful remote push is authoritative anyway.
type BudgetSync struct {
	store  treestore.Store
	logger *zap.Logger
	notify func(message string)

	mu          sync.Mutex
	path        string
	gen         int // bumped on every path switch; stale callbacks check it and drop out
	data        models.BudgetData
	loaded      bool
	unsubscribe func()
}

// NewBudgetSync creates an unbound synchronizer. Call SwitchPath to
// bind it.
func NewBudgetSync(store treestore.Store, logger *zap.Logger, notify func(string)) *BudgetSync {
	if notify == nil {
		notify = func(string) {}
	}
	return &BudgetSync{store: store, logger: logger, notify: notify}
}

// SwitchPath rebinds the synchronizer to a new store path. The old
// subscription is fully cancelled and the cache discarded before the
// new subscription is opened, so a flash of the previous context's
// data can never be observed.
func (s *BudgetSync) SwitchPath(ctx context.Context, path string) error {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.gen++
	gen := s.gen
	s.path = path
	s.data = nil
	s.loaded = false
	s.mu.Unlock()

	cancel, err := s.store.Subscribe(path,
		func(snapshot json.RawMessage) { s.onPush(gen, path, snapshot) },
		func(err error) { s.onSubscriptionError(gen, path, err) },
	)
	if err != nil {
		s.logger.Warn("budget subscription failed", zap.String("path", path), zap.Error(err))
		s.notify("Could not load budget data.")
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		// A newer SwitchPath won the race; this subscription is stale.
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.unsubscribe = cancel
	s.mu.Unlock()
	return nil
}

// Close cancels the current subscription and unbinds the synchronizer.
func (s *BudgetSync) Close() {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.gen++
	s.path = ""
	s.data = nil
	s.loaded = false
	s.mu.Unlock()
}

// onPush applies one remote snapshot. A nil snapshot means the path
// has no document yet: the synchronizer bootstraps a fresh default
// document and treats it as the loaded state rather than waiting for
// the write's echo.
func (s *BudgetSync) onPush(gen int, path string, snapshot json.RawMessage) {
	if snapshot == nil {
		def := models.DefaultBudgetData()
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if s.loaded {
			// The document vanished after we had one. Keep serving the
			// default rather than stale data.
			s.data = def
			s.mu.Unlock()
			return
		}
		s.data = def
		s.loaded = true
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := s.store.Set(ctx, path, def); err != nil {
			s.logger.Warn("default budget write failed", zap.String("path", path), zap.Error(err))
		}
		return
	}

	var doc models.BudgetData
	if err := json.Unmarshal(snapshot, &doc); err != nil {
		s.logger.Error("malformed budget document from store",
			zap.String("path", path), zap.Error(err))
		return
	}
	normalized := models.Normalize(doc)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.data = normalized
	s.loaded = true
	s.mu.Unlock()
}

func (s *BudgetSync) onSubscriptionError(gen int, path string, err error) {
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		// Error for a path we already left: expected noise.
		s.logger.Debug("subscription error after path switch", zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Warn("budget subscription error", zap.String("path", path), zap.Error(err))
	s.notify("Budget sync lost its connection to the shared data.")
}

// AddTransaction appends a new transaction with a freshly generated id
// to the given month and pushes the updated document.
func (s *BudgetSync) AddTransaction(ctx context.Context, month models.MonthKey, kind TransactionKind, description string, amount float64) (models.Transaction, error) {
	if !models.IsValidMonth(month) {
		return models.Transaction{}, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	if amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	tx := models.Transaction{ID: uuid.NewString(), Description: description, Amount: amount}
	doc, path := s.mutate(func(data models.BudgetData) {
		md := data[month]
		if kind == KindIncome {
			md.Incomes = append(md.Incomes, tx)
		} else {
			md.Spendings = append(md.Spendings, tx)
		}
		data[month] = md
	})
	s.push(ctx, path, doc)
	return tx, nil
}

// DeleteTransaction removes the transaction with the given id from the
// month's list. Deleting an id that is not present is a no-op.
func (s *BudgetSync) DeleteTransaction(ctx context.Context, month models.MonthKey, kind TransactionKind, id string) error {
	if !models.IsValidMonth(month) {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}

	doc, path := s.mutate(func(data models.BudgetData) {
		md := data[month]
		filter := func(txs []models.Transaction) []models.Transaction {
			out := txs[:0]
			for _, t := range txs {
				if t.ID != id {
					out = append(out, t)
				}
			}
			return out
		}
		if kind == KindIncome {
			md.Incomes = filter(md.Incomes)
		} else {
			md.Spendings = filter(md.Spendings)
		}
		data[month] = md
	})
	s.push(ctx, path, doc)
	return nil
}

// SetFinancialGoal replaces the month's goal text.
func (s *BudgetSync) SetFinancialGoal(ctx context.Context, month models.MonthKey, goal string) error {
	if !models.IsValidMonth(month) {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}

	doc, path := s.mutate(func(data models.BudgetData) {
		md := data[month]
		md.FinancialGoal = goal
		data[month] = md
	})
	s.push(ctx, path, doc)
	return nil
}

// mutate applies fn to a working copy of the cache under the lock,
// installs the copy as the new optimistic cache, and returns a second
// clone for pushing outside the lock.
func (s *BudgetSync) mutate(fn func(models.BudgetData)) (models.BudgetData, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.data.Clone()
	fn(working)
	s.data = working
	s.loaded = true
	return working.Clone(), s.path
}

// push writes the full document to the store. Failures are reported
// but the optimistic cache stands; the next remote push reconciles.
func (s *BudgetSync) push(ctx context.Context, path string, doc models.BudgetData) {
	if path == "" {
		return
	}
	if err := s.store.Set(ctx, path, doc); err != nil {
		s.logger.Warn("budget push failed", zap.String("path", path), zap.Error(err))
		s.notify("Saving your change to the shared budget failed. It will be retried with your next edit.")
	}
}

// Snapshot returns a deep copy of the cached document and whether a
// document has been loaded for the current path yet.
func (s *BudgetSync) Snapshot() (models.BudgetData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return models.DefaultBudgetData(), s.loaded
	}
	return s.data.Clone(), s.loaded
}
