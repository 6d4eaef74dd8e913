package shield

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/veronica-labs/veronica/pkg/decision"
)

// TokenEstimator approximates the token count of an input string.
type TokenEstimator func(input string) int

// DefaultTokenEstimator uses the length/4 heuristic.
func DefaultTokenEstimator(input string) int {
	return len(input) / 4
}

// InputCompressionHook flags oversized inputs. Between the compress and
// halt thresholds the call proceeds as DEGRADE with a compression
// obligation; past the halt threshold it stops. Raw input never enters
// event metadata, only a SHA-256 prefix.
type InputCompressionHook struct {
	compressThreshold int
	haltThreshold     int
	estimate          TokenEstimator
}

// NewInputCompressionHook builds the hook with the given token
// thresholds. A nil estimator uses the length/4 heuristic.
func NewInputCompressionHook(compressThreshold, haltThreshold int, estimate TokenEstimator) *InputCompressionHook {
	if estimate == nil {
		estimate = DefaultTokenEstimator
	}
	return &InputCompressionHook{
		compressThreshold: compressThreshold,
		haltThreshold:     haltThreshold,
		estimate:          estimate,
	}
}

// Inspect classifies one input string.
func (h *InputCompressionHook) Inspect(input string) *Result {
	tokens := h.estimate(input)
	if tokens < h.compressThreshold {
		return nil
	}

	sum := sha256.Sum256([]byte(input))
	digest := hex.EncodeToString(sum[:])[:16]

	if tokens >= h.haltThreshold {
		return &Result{
			Decision:  decision.Halt,
			Reason:    fmt.Sprintf("input too large: estimated %d tokens >= halt threshold %d", tokens, h.haltThreshold),
			EventType: "INPUT_TOO_LARGE",
			Metadata: map[string]any{
				"estimated_tokens": tokens,
				"input_sha256":     digest,
				"decision":         string(decision.Halt),
			},
		}
	}
	return &Result{
		Decision:  decision.Degrade,
		Reason:    fmt.Sprintf("input should be compressed: estimated %d tokens >= %d", tokens, h.compressThreshold),
		EventType: "INPUT_COMPRESSION",
		Metadata: map[string]any{
			"estimated_tokens": tokens,
			"input_sha256":     digest,
			"decision":         string(decision.Degrade),
		},
	}
}

// BeforeLLMCall inspects the "input" metadata field when present.
func (h *InputCompressionHook) BeforeLLMCall(ctx *decision.ToolCallContext) *Result {
	meta := ctx.Metadata()
	input, ok := meta["input"].(string)
	if !ok {
		return nil
	}
	return h.Inspect(input)
}
