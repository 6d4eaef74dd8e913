// Package execution owns the per-chain lifespan: configuration, the
// node DAG, the cancellation token, the timeout watcher and the wrap
// entry points that compose the policy pipeline with the shield hooks
// around every LLM and tool invocation.
package execution

import (
	"errors"
	"time"
)

// ErrClosed is returned by wrap calls on a context that has exited.
// A closed context fails loudly rather than silently halting.
var ErrClosed = errors.New("execution context closed")

// Config bounds one chain.
type Config struct {
	MaxCostUSD      float64
	MaxSteps        int
	MaxRetriesTotal int
	Timeout         time.Duration
}

// DefaultConfig returns conservative chain limits.
func DefaultConfig() Config {
	return Config{
		MaxCostUSD:      1.00,
		MaxSteps:        25,
		MaxRetriesTotal: 10,
		Timeout:         5 * time.Minute,
	}
}

// ChainMetadata labels the chain for events and the compliance export.
type ChainMetadata struct {
	Service string
	Team    string
	Model   string
	Tags    []string
}
