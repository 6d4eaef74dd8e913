// Property-based checks for the universal containment invariants.
package policy_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/veronica-labs/veronica/pkg/policy"
)

// The breaker opens exactly when the consecutive failure count first
// reaches the threshold, for any interleaving of successes before it.
func TestBreakerOpensExactlyAtThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("opens at first streak of length threshold", prop.ForAll(
		func(threshold int, outcomes []bool) bool {
			cb := policy.NewCircuitBreaker(threshold, time.Hour)
			streak := 0
			for _, failed := range outcomes {
				if cb.State() == policy.BreakerOpen {
					break
				}
				if failed {
					cb.RecordFailure()
					streak++
				} else {
					cb.RecordSuccess()
					streak = 0
				}
				open := cb.State() == policy.BreakerOpen
				if open != (streak >= threshold) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// For N threads spending equal positive amounts against a limit,
// exactly floor(limit/amount) spends succeed.
func TestBudgetConcurrentSpendProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly floor(limit/amount) succeed", prop.ForAll(
		func(units int, workers int) bool {
			const amount = 0.01
			limit := float64(units) * amount
			b := policy.NewBudgetEnforcer(limit)

			var granted atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, err := b.Spend(amount); err == nil && ok {
						granted.Add(1)
					}
				}()
			}
			wg.Wait()

			want := int64(units)
			if int64(workers) < want {
				want = int64(workers)
			}
			return granted.Load() == want
		},
		gen.IntRange(0, 20),
		gen.IntRange(1, 32),
	))

	properties.TestingRun(t)
}

// Pipeline evaluation is the first non-allow decision in primitive
// order, or the synthetic pipeline allow.
func TestPipelineFirstDenialProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("first denial wins", prop.ForAll(
		func(allows []bool) bool {
			prims := make([]policy.Primitive, len(allows))
			for i, a := range allows {
				prims[i] = &scriptedPrimitive{name: string(rune('a' + i%26)), allowed: a}
			}
			d := policy.NewPipeline(prims...).Evaluate(policy.Context{})

			for i, a := range allows {
				if !a {
					return !d.Allowed && d.PolicyType == prims[i].PolicyType()
				}
			}
			return d.Allowed && d.PolicyType == policy.PolicyTypePipeline
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
