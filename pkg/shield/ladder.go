package shield

import (
	"fmt"
	"time"

	"github.com/veronica-labs/veronica/pkg/decision"
)

// DegradationAction names the mitigation a DEGRADE decision obligates.
type DegradationAction string

const (
	ActionModelDowngrade DegradationAction = "MODEL_DOWNGRADE"
	ActionContextTrim    DegradationAction = "CONTEXT_TRIM"
	ActionRateLimit      DegradationAction = "RATE_LIMIT"
)

// LadderThresholds are cost fractions at which each tier engages.
// The halt tier at 1.0 belongs to the budget enforcer, not the ladder.
type LadderThresholds struct {
	ModelDowngrade float64
	ContextTrim    float64
	RateLimit      float64
}

// DefaultLadderThresholds returns the standard tiers.
func DefaultLadderThresholds() LadderThresholds {
	return LadderThresholds{
		ModelDowngrade: 0.80,
		ContextTrim:    0.85,
		RateLimit:      0.90,
	}
}

// LadderStep is the tiered verdict for one cost fraction.
type LadderStep struct {
	Action DegradationAction
	// FallbackModel is set for MODEL_DOWNGRADE.
	FallbackModel string
	// Delay is set for RATE_LIMIT.
	Delay time.Duration
}

// DegradationLadder maps budget pressure onto graduated mitigations so
// a chain degrades before it halts. The highest satisfied tier wins.
type DegradationLadder struct {
	thresholds LadderThresholds
	fallbacks  map[string]string
	delay      time.Duration
}

// NewDegradationLadder builds a ladder. fallbacks maps a model to its
// cheaper downgrade target; delay is the rate-limit pause.
func NewDegradationLadder(thresholds LadderThresholds, fallbacks map[string]string, delay time.Duration) *DegradationLadder {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	fb := make(map[string]string, len(fallbacks))
	for k, v := range fallbacks {
		fb[k] = v
	}
	return &DegradationLadder{thresholds: thresholds, fallbacks: fb, delay: delay}
}

// Evaluate returns the degradation step for the given spend fraction,
// or nil below every tier.
func (l *DegradationLadder) Evaluate(costUSD, maxCostUSD float64, model string) (*Result, *LadderStep) {
	if maxCostUSD <= 0 {
		return nil, nil
	}
	fraction := costUSD / maxCostUSD

	switch {
	case fraction >= l.thresholds.RateLimit:
		step := &LadderStep{Action: ActionRateLimit, Delay: l.delay}
		return l.result(fraction, step), step
	case fraction >= l.thresholds.ContextTrim:
		step := &LadderStep{Action: ActionContextTrim}
		return l.result(fraction, step), step
	case fraction >= l.thresholds.ModelDowngrade:
		step := &LadderStep{Action: ActionModelDowngrade, FallbackModel: l.fallbacks[model]}
		return l.result(fraction, step), step
	default:
		return nil, nil
	}
}

func (l *DegradationLadder) result(fraction float64, step *LadderStep) *Result {
	meta := map[string]any{
		"cost_fraction": fraction,
		"action":        string(step.Action),
	}
	if step.FallbackModel != "" {
		meta["fallback_model"] = step.FallbackModel
	}
	if step.Delay > 0 {
		meta["delay_ms"] = step.Delay.Milliseconds()
	}
	return &Result{
		Decision:  decision.Degrade,
		Reason:    fmt.Sprintf("cost at %.0f%% of budget: %s", fraction*100, step.Action),
		EventType: "DEGRADATION_LADDER",
		Metadata:  meta,
	}
}
