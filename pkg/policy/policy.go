// Package policy holds the containment policy primitives and the
// AND-composition pipeline evaluated at every call boundary.
//
// A primitive enforces one invariant over a chain (cost, steps,
// retries, failure streak, semantic similarity) and exposes the triple
// {Check, Reset, PolicyType}. Primitive state evolves only through
// explicit record or spend calls made by higher layers after a
// decision; the pipeline itself never mutates a primitive.
package policy

import (
	"errors"
	"time"
)

// Sentinel errors raised for caller bugs.
var (
	// ErrInvalidArgument covers negative spends, token counts and
	// backoff bases.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState covers illegal primitive rebinding.
	ErrInvalidState = errors.New("invalid state")
)

// Context is the pipeline's input for one check.
type Context struct {
	CostUSD   float64
	StepCount int
	EntityID  string
	ChainID   string
	Timestamp time.Time
	Metadata  map[string]any
}

// Decision is the structured outcome of one primitive check.
type Decision struct {
	Allowed       bool
	PolicyType    string
	Reason        string
	PartialResult any
}

// Allowf builds an allowing decision.
func Allowf(policyType, reason string) Decision {
	return Decision{Allowed: true, PolicyType: policyType, Reason: reason}
}

// Denyf builds a denying decision.
func Denyf(policyType, reason string) Decision {
	return Decision{Allowed: false, PolicyType: policyType, Reason: reason}
}

// Primitive is the policy capability contract. Implementations must be
// individually thread-safe; Check and record-style mutations are
// linearisable per primitive.
type Primitive interface {
	Check(ctx Context) Decision
	Reset()
	PolicyType() string
}
