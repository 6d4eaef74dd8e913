package shield

import (
	"fmt"
	"sync"
	"time"

	"github.com/veronica-labs/veronica/pkg/decision"
	"github.com/veronica-labs/veronica/pkg/events"
)

// BudgetWindowHook limits call count over a rolling time window. Below
// the degrade fraction calls pass and are counted; at or past it they
// pass as DEGRADE; at the ceiling they halt and are not counted.
type BudgetWindowHook struct {
	mu               sync.Mutex
	maxCalls         int
	window           time.Duration
	degradeThreshold float64
	timestamps       []time.Time
	now              func() time.Time
}

// NewBudgetWindowHook builds the limiter. degradeThreshold is a
// fraction of maxCalls, e.g. 0.8.
func NewBudgetWindowHook(maxCalls int, window time.Duration, degradeThreshold float64) *BudgetWindowHook {
	return &BudgetWindowHook{
		maxCalls:         maxCalls,
		window:           window,
		degradeThreshold: degradeThreshold,
		now:              time.Now,
	}
}

// WithClock overrides the clock for tests.
func (h *BudgetWindowHook) WithClock(now func() time.Time) *BudgetWindowHook {
	h.now = now
	return h
}

// BeforeLLMCall prunes expired entries and applies the tiered check.
func (h *BudgetWindowHook) BeforeLLMCall(ctx *decision.ToolCallContext) *Result {
	return h.admit()
}

// BeforeToolCall applies the same window to tool dispatches.
func (h *BudgetWindowHook) BeforeToolCall(ctx *decision.ToolCallContext) *Result {
	return h.admit()
}

func (h *BudgetWindowHook) admit() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	cutoff := now.Add(-h.window)
	kept := h.timestamps[:0]
	for _, ts := range h.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	h.timestamps = kept

	count := len(h.timestamps)
	if count >= h.maxCalls {
		return &Result{
			Decision:  decision.Halt,
			Reason:    fmt.Sprintf("call window exhausted: %d calls in %s", count, h.window),
			EventType: events.TypeBudgetWindowExceeded,
			Metadata:  map[string]any{"window_calls": count, "max_calls": h.maxCalls},
		}
	}

	h.timestamps = append(h.timestamps, now)
	if float64(count) >= h.degradeThreshold*float64(h.maxCalls) {
		return &Result{
			Decision:  decision.Degrade,
			Reason:    fmt.Sprintf("call window near limit: %d of %d", count, h.maxCalls),
			EventType: events.TypeBudgetWindowExceeded,
			Metadata:  map[string]any{"window_calls": count, "max_calls": h.maxCalls},
		}
	}
	return nil
}

// WindowCount returns the live entry count after pruning.
func (h *BudgetWindowHook) WindowCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.now().Add(-h.window)
	n := 0
	for _, ts := range h.timestamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
