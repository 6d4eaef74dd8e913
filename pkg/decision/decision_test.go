package decision_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veronica-labs/veronica/pkg/decision"
)

func TestDecisionOrdering(t *testing.T) {
	ordered := []decision.Decision{
		decision.Allow,
		decision.Degrade,
		decision.Retry,
		decision.Queue,
		decision.Quarantine,
		decision.Halt,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Severity(), ordered[i].Severity(),
			"%s must rank below %s", ordered[i-1], ordered[i])
	}
}

func TestMaxPicksMoreSevere(t *testing.T) {
	assert.Equal(t, decision.Halt, decision.Max(decision.Allow, decision.Halt))
	assert.Equal(t, decision.Halt, decision.Max(decision.Halt, decision.Allow))
	assert.Equal(t, decision.Queue, decision.Max(decision.Retry, decision.Queue))
	assert.Equal(t, decision.Allow, decision.Max(decision.Allow, decision.Allow))
}

func TestParse(t *testing.T) {
	d, err := decision.Parse("QUARANTINE")
	require.NoError(t, err)
	assert.Equal(t, decision.Quarantine, d)

	_, err = decision.Parse("MAYBE")
	assert.Error(t, err)
}

func TestUnknownDecisionFailsClosed(t *testing.T) {
	bogus := decision.Decision("CORRUPT")
	assert.False(t, bogus.Valid())
	assert.Greater(t, bogus.Severity(), decision.Halt.Severity())
}

func TestToolCallContextRequiresRequestID(t *testing.T) {
	_, err := decision.NewToolCallContext("")
	assert.Error(t, err)
}

func TestToolCallContextImmutableMetadata(t *testing.T) {
	meta := map[string]any{"attempt": 1}
	ctx, err := decision.NewToolCallContext("req-1",
		decision.WithModel("gpt-4o-mini"),
		decision.WithCostUSD(0.01),
		decision.WithMetadata(meta),
	)
	require.NoError(t, err)

	// Mutating the source map must not leak into the context.
	meta["attempt"] = 99
	got := ctx.Metadata()
	assert.Equal(t, 1, got["attempt"])

	// Mutating the returned copy must not leak either.
	got["attempt"] = 42
	assert.Equal(t, 1, ctx.Metadata()["attempt"])

	assert.Equal(t, "req-1", ctx.RequestID())
	assert.Equal(t, "gpt-4o-mini", ctx.Model())
	assert.InDelta(t, 0.01, ctx.CostUSD(), 1e-9)
}
