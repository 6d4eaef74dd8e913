package decision

import "fmt"

// ToolCallContext is an immutable snapshot of one outgoing LLM or tool
// call. It is constructed fresh per call and never mutated; the metadata
// map is copied on the way in and on the way out.
type ToolCallContext struct {
	requestID string
	userID    string
	sessionID string
	toolName  string
	model     string
	endpoint  string
	tokensIn  int
	tokensOut int
	costUSD   float64
	metadata  map[string]any
}

// CallOption configures optional fields of a ToolCallContext.
type CallOption func(*ToolCallContext)

func WithUserID(id string) CallOption    { return func(c *ToolCallContext) { c.userID = id } }
func WithSessionID(id string) CallOption { return func(c *ToolCallContext) { c.sessionID = id } }
func WithToolName(n string) CallOption   { return func(c *ToolCallContext) { c.toolName = n } }
func WithModel(m string) CallOption      { return func(c *ToolCallContext) { c.model = m } }
func WithEndpoint(e string) CallOption   { return func(c *ToolCallContext) { c.endpoint = e } }
func WithTokensIn(n int) CallOption      { return func(c *ToolCallContext) { c.tokensIn = n } }
func WithTokensOut(n int) CallOption     { return func(c *ToolCallContext) { c.tokensOut = n } }
func WithCostUSD(v float64) CallOption   { return func(c *ToolCallContext) { c.costUSD = v } }

// WithMetadata attaches a free-form metadata mapping. Values must be
// JSON-serialisable; the map is copied.
func WithMetadata(m map[string]any) CallOption {
	return func(c *ToolCallContext) {
		c.metadata = make(map[string]any, len(m))
		for k, v := range m {
			c.metadata[k] = v
		}
	}
}

// NewToolCallContext builds an immutable call context. The request id is
// required and opaque.
func NewToolCallContext(requestID string, opts ...CallOption) (*ToolCallContext, error) {
	if requestID == "" {
		return nil, fmt.Errorf("tool call context: request id is required")
	}
	c := &ToolCallContext{requestID: requestID}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *ToolCallContext) RequestID() string { return c.requestID }
func (c *ToolCallContext) UserID() string    { return c.userID }
func (c *ToolCallContext) SessionID() string { return c.sessionID }
func (c *ToolCallContext) ToolName() string  { return c.toolName }
func (c *ToolCallContext) Model() string     { return c.model }
func (c *ToolCallContext) Endpoint() string  { return c.endpoint }
func (c *ToolCallContext) TokensIn() int     { return c.tokensIn }
func (c *ToolCallContext) TokensOut() int    { return c.tokensOut }
func (c *ToolCallContext) CostUSD() float64  { return c.costUSD }

// Metadata returns a copy of the metadata mapping.
func (c *ToolCallContext) Metadata() map[string]any {
	if c.metadata == nil {
		return nil
	}
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}
