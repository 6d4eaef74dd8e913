package policy

import (
	"fmt"
	"math"
	"sync"
)

// PolicyTypeBudget identifies the budget primitive.
const PolicyTypeBudget = "budget"

// BudgetEnforcer caps cumulative spend for a chain. Money is held in
// integer micro-dollars so repeated equal spends fill the budget
// exactly instead of drifting past it one step early. Spend is an
// atomic check-then-add; under N racing callers with equal spends,
// exactly floor(limit/amount) succeed.
type BudgetEnforcer struct {
	mu         sync.Mutex
	limitMicro int64
	spentMicro int64
}

// NewBudgetEnforcer creates an enforcer with the given hard limit.
func NewBudgetEnforcer(limitUSD float64) *BudgetEnforcer {
	return &BudgetEnforcer{limitMicro: microUSD(limitUSD)}
}

func microUSD(v float64) int64 { return int64(math.Round(v * 1e6)) }

func usd(micro int64) float64 { return float64(micro) / 1e6 }

func (b *BudgetEnforcer) PolicyType() string { return PolicyTypeBudget }

// Spend atomically checks and commits amount. It returns false when the
// post-spend total would exceed the limit; in that case nothing is
// committed. Negative amounts are a caller bug.
func (b *BudgetEnforcer) Spend(amount float64) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("%w: negative spend %.6f", ErrInvalidArgument, amount)
	}
	micro := microUSD(amount)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spentMicro+micro > b.limitMicro {
		return false, nil
	}
	b.spentMicro += micro
	return true, nil
}

// Check denies when the projected spend would exceed the limit. It
// commits nothing.
func (b *BudgetEnforcer) Check(ctx Context) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spentMicro+microUSD(ctx.CostUSD) > b.limitMicro {
		return Denyf(PolicyTypeBudget, fmt.Sprintf(
			"budget exceeded: spent %.4f + %.4f > limit %.4f",
			usd(b.spentMicro), ctx.CostUSD, usd(b.limitMicro)))
	}
	return Allowf(PolicyTypeBudget, "within budget")
}

// Spent returns the committed total.
func (b *BudgetEnforcer) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return usd(b.spentMicro)
}

// Remaining returns the uncommitted headroom, never negative.
func (b *BudgetEnforcer) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r := b.limitMicro - b.spentMicro; r > 0 {
		return usd(r)
	}
	return 0
}

// Utilisation returns spent/limit in [0, 1+] (a zero limit reads as 1).
func (b *BudgetEnforcer) Utilisation() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limitMicro <= 0 {
		return 1
	}
	return float64(b.spentMicro) / float64(b.limitMicro)
}

// LimitUSD returns the configured hard limit.
func (b *BudgetEnforcer) LimitUSD() float64 { return usd(b.limitMicro) }

// Reset clears the committed total.
func (b *BudgetEnforcer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spentMicro = 0
}
