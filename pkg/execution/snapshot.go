package execution

import (
	"time"

	"github.com/veronica-labs/veronica/pkg/events"
)

// Snapshot is the immutable view of a chain. Node and event slices are
// copies in append order.
type Snapshot struct {
	ChainID            string               `json:"chain_id"`
	RequestID          string               `json:"request_id"`
	StepCount          int                  `json:"step_count"`
	CostUSDAccumulated float64              `json:"cost_usd"`
	RetriesUsed        int                  `json:"retries_used"`
	Aborted            bool                 `json:"aborted"`
	AbortReason        string               `json:"abort_reason,omitempty"`
	ElapsedMS          int64                `json:"elapsed_ms"`
	StartedAt          time.Time            `json:"started_at"`
	Metadata           ChainMetadata        `json:"-"`
	Nodes              []NodeRecord         `json:"nodes"`
	Events             []events.SafetyEvent `json:"events"`
}

// Snapshot returns the current immutable view. Valid before and after
// Close.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := make([]NodeRecord, len(c.nodes))
	copy(nodes, c.nodes)
	evs := make([]events.SafetyEvent, len(c.events))
	copy(evs, c.events)

	return Snapshot{
		ChainID:            c.chainID,
		RequestID:          c.requestID,
		StepCount:          c.steps.Steps(),
		CostUSDAccumulated: c.costUSD,
		RetriesUsed:        c.retriesUsed,
		Aborted:            c.aborted,
		AbortReason:        c.abortReason,
		ElapsedMS:          time.Since(c.startedAt).Milliseconds(),
		StartedAt:          c.startedAt,
		Metadata:           c.meta,
		Nodes:              nodes,
		Events:             evs,
	}
}
