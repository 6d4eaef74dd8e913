package execution

import "time"

// NodeKind distinguishes LLM from tool invocations.
type NodeKind string

const (
	NodeKindLLM  NodeKind = "llm"
	NodeKindTool NodeKind = "tool"
)

// NodeStatus is the lifecycle of one invocation node.
type NodeStatus string

const (
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeError   NodeStatus = "error"
	NodeHalted  NodeStatus = "halted"
)

// NodeRecord is one entry in the per-chain execution DAG. Nodes carry
// parent ids, never parent pointers.
type NodeRecord struct {
	NodeID        string     `json:"node_id"`
	ParentID      string     `json:"parent_id,omitempty"`
	Kind          NodeKind   `json:"kind"`
	OperationName string     `json:"operation_name"`
	StartTS       time.Time  `json:"start_ts"`
	EndTS         *time.Time `json:"end_ts,omitempty"`
	Status        NodeStatus `json:"status"`
	CostUSD       float64    `json:"cost_usd"`
	RetriesUsed   int        `json:"retries_used"`
}
