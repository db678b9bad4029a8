package tradier

import (
	"errors"
	"sync/atomic"
)

// ErrBudgetExhausted is returned when the per-run HTTP request budget is
// spent. Callers surface it as a budget_stopped warning; it never fails a run.
var ErrBudgetExhausted = errors.New("http request budget exhausted")

// Budget bounds the number of provider requests a run may issue. A nil
// Budget means unbounded.
type Budget struct {
	remaining atomic.Int64
}

// NewBudget creates a budget of n requests.
func NewBudget(n int) *Budget {
	b := &Budget{}
	b.remaining.Store(int64(n))
	return b
}

// Take consumes one request from the budget.
func (b *Budget) Take() error {
	if b == nil {
		return nil
	}
	if b.remaining.Add(-1) < 0 {
		return ErrBudgetExhausted
	}
	return nil
}

// Exhausted reports whether the budget has been spent.
func (b *Budget) Exhausted() bool {
	return b != nil && b.remaining.Load() <= 0
}
