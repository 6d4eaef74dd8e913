// Package export builds the compliance payload consumed by external
// collectors: one chain summary plus its ordered safety events.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/veronica-labs/veronica/pkg/events"
	"github.com/veronica-labs/veronica/pkg/execution"
)

// Payload is the export document.
type Payload struct {
	Chain  ChainSummary         `json:"chain"`
	Events []events.SafetyEvent `json:"events"`
}

// ChainSummary flattens the chain counters, metadata and graph shape.
type ChainSummary struct {
	ChainID     string        `json:"chain_id"`
	RequestID   string        `json:"request_id"`
	StepCount   int           `json:"step_count"`
	CostUSD     float64       `json:"cost_usd"`
	RetriesUsed int           `json:"retries_used"`
	Aborted     bool          `json:"aborted"`
	AbortReason string        `json:"abort_reason,omitempty"`
	ElapsedMS   int64         `json:"elapsed_ms"`
	StartedAt   time.Time     `json:"started_at"`
	Service     string        `json:"service,omitempty"`
	Team        string        `json:"team,omitempty"`
	Model       string        `json:"model,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Graph       *GraphSummary `json:"graph_summary,omitempty"`
}

// GraphSummary condenses the node DAG to counts.
type GraphSummary struct {
	Nodes     int     `json:"nodes"`
	LLMCalls  int     `json:"llm_calls"`
	ToolCalls int     `json:"tool_calls"`
	Succeeded int     `json:"succeeded"`
	Errored   int     `json:"errored"`
	Halted    int     `json:"halted"`
	MaxDepth  int     `json:"max_depth"`
	TotalCost float64 `json:"total_cost_usd"`
}

// Build assembles the payload from a chain snapshot. Events keep their
// append order.
func Build(snap execution.Snapshot) Payload {
	summary := ChainSummary{
		ChainID:     snap.ChainID,
		RequestID:   snap.RequestID,
		StepCount:   snap.StepCount,
		CostUSD:     snap.CostUSDAccumulated,
		RetriesUsed: snap.RetriesUsed,
		Aborted:     snap.Aborted,
		AbortReason: snap.AbortReason,
		ElapsedMS:   snap.ElapsedMS,
		StartedAt:   snap.StartedAt,
		Service:     snap.Metadata.Service,
		Team:        snap.Metadata.Team,
		Model:       snap.Metadata.Model,
		Tags:        snap.Metadata.Tags,
	}
	if len(snap.Nodes) > 0 {
		summary.Graph = summariseGraph(snap.Nodes)
	}

	evs := make([]events.SafetyEvent, len(snap.Events))
	copy(evs, snap.Events)
	return Payload{Chain: summary, Events: evs}
}

// Marshal renders the payload as JSON.
func Marshal(snap execution.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(Build(snap))
	if err != nil {
		return nil, fmt.Errorf("export: encode payload: %w", err)
	}
	return raw, nil
}

func summariseGraph(nodes []execution.NodeRecord) *GraphSummary {
	g := &GraphSummary{Nodes: len(nodes)}
	depths := make(map[string]int, len(nodes))
	for _, n := range nodes {
		switch n.Kind {
		case execution.NodeKindLLM:
			g.LLMCalls++
		case execution.NodeKindTool:
			g.ToolCalls++
		}
		switch n.Status {
		case execution.NodeSuccess:
			g.Succeeded++
		case execution.NodeError:
			g.Errored++
		case execution.NodeHalted:
			g.Halted++
		}
		g.TotalCost += n.CostUSD

		depth := 1
		if d, ok := depths[n.ParentID]; ok {
			depth = d + 1
		}
		depths[n.NodeID] = depth
		if depth > g.MaxDepth {
			g.MaxDepth = depth
		}
	}
	return g
}
