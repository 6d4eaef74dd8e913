package shield

import (
	"fmt"
	"sync"

	"github.com/veronica-labs/veronica/pkg/decision"
	"github.com/veronica-labs/veronica/pkg/events"
	"github.com/veronica-labs/veronica/pkg/policy"
)

// TokenBudgetConfig caps cumulative token usage for a chain.
type TokenBudgetConfig struct {
	MaxOutputTokens  int
	MaxTotalTokens   int // 0 disables the combined input+output cap
	DegradeThreshold float64
}

// TokenBudgetHook enforces cumulative token ceilings with a DEGRADE
// band below each ceiling. Admission atomically reserves the caller's
// estimate so two concurrent callers cannot both be admitted at the
// brink; RecordUsage converts the reservation into committed totals.
type TokenBudgetHook struct {
	mu  sync.Mutex
	cfg TokenBudgetConfig

	committedOut int
	committedIn  int
	pendingOut   int
	pendingIn    int
}

// NewTokenBudgetHook builds the hook.
func NewTokenBudgetHook(cfg TokenBudgetConfig) *TokenBudgetHook {
	if cfg.DegradeThreshold <= 0 || cfg.DegradeThreshold > 1 {
		cfg.DegradeThreshold = 0.85
	}
	return &TokenBudgetHook{cfg: cfg}
}

// BeforeLLMCall projects totals including pending reservations and, on
// pass, reserves the caller's estimate.
func (h *TokenBudgetHook) BeforeLLMCall(ctx *decision.ToolCallContext) *Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	estOut, estIn := ctx.TokensOut(), ctx.TokensIn()
	if estOut < 0 || estIn < 0 {
		return &Result{
			Decision:  decision.Halt,
			Reason:    "negative token estimate",
			EventType: events.TypeTokenBudgetExceeded,
		}
	}

	projOut := h.committedOut + h.pendingOut + estOut
	if projOut >= h.cfg.MaxOutputTokens {
		return &Result{
			Decision:  decision.Halt,
			Reason:    fmt.Sprintf("output token budget exhausted: projected %d >= %d", projOut, h.cfg.MaxOutputTokens),
			EventType: events.TypeTokenBudgetExceeded,
			Metadata:  map[string]any{"projected_output": projOut, "max_output": h.cfg.MaxOutputTokens},
		}
	}

	if h.cfg.MaxTotalTokens > 0 {
		projTotal := projOut + h.committedIn + h.pendingIn + estIn
		if projTotal >= h.cfg.MaxTotalTokens {
			return &Result{
				Decision:  decision.Halt,
				Reason:    fmt.Sprintf("total token budget exhausted: projected %d >= %d", projTotal, h.cfg.MaxTotalTokens),
				EventType: events.TypeTokenBudgetExceeded,
				Metadata:  map[string]any{"projected_total": projTotal, "max_total": h.cfg.MaxTotalTokens},
			}
		}
	}

	var degrade *Result
	if float64(projOut) >= h.cfg.DegradeThreshold*float64(h.cfg.MaxOutputTokens) {
		degrade = &Result{
			Decision:  decision.Degrade,
			Reason:    fmt.Sprintf("output token budget near limit: projected %d of %d", projOut, h.cfg.MaxOutputTokens),
			EventType: events.TypeTokenBudgetExceeded,
			Metadata:  map[string]any{"projected_output": projOut, "max_output": h.cfg.MaxOutputTokens},
		}
	} else if h.cfg.MaxTotalTokens > 0 {
		projTotal := projOut + h.committedIn + h.pendingIn + estIn
		if float64(projTotal) >= h.cfg.DegradeThreshold*float64(h.cfg.MaxTotalTokens) {
			degrade = &Result{
				Decision:  decision.Degrade,
				Reason:    fmt.Sprintf("total token budget near limit: projected %d of %d", projTotal, h.cfg.MaxTotalTokens),
				EventType: events.TypeTokenBudgetExceeded,
			}
		}
	}

	h.pendingOut += estOut
	h.pendingIn += estIn
	return degrade
}

// RecordUsage releases the reservation and commits the actual usage.
// Negative counts are a caller bug.
func (h *TokenBudgetHook) RecordUsage(reservedOut, reservedIn, actualOut, actualIn int) error {
	if actualOut < 0 || actualIn < 0 {
		return fmt.Errorf("%w: negative token usage out=%d in=%d", policy.ErrInvalidArgument, actualOut, actualIn)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.releaseLocked(reservedOut, reservedIn)
	h.committedOut += actualOut
	h.committedIn += actualIn
	return nil
}

// ReleaseReservation releases a reservation without committing usage,
// for calls that were admitted but never completed.
func (h *TokenBudgetHook) ReleaseReservation(reservedOut, reservedIn int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked(reservedOut, reservedIn)
}

func (h *TokenBudgetHook) releaseLocked(out, in int) {
	h.pendingOut -= out
	if h.pendingOut < 0 {
		h.pendingOut = 0
	}
	h.pendingIn -= in
	if h.pendingIn < 0 {
		h.pendingIn = 0
	}
}

// CommittedOutput returns the committed output token total.
func (h *TokenBudgetHook) CommittedOutput() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.committedOut
}

// CommittedInput returns the committed input token total.
func (h *TokenBudgetHook) CommittedInput() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.committedIn
}

// Pending returns outstanding reservations (out, in).
func (h *TokenBudgetHook) Pending() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pendingOut, h.pendingIn
}
