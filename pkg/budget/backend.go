// Package budget provides the shared spend counter behind the budget
// policy: an in-process default and a Redis-backed variant for chains
// whose spend must be visible across processes.
package budget

import (
	"context"
	"fmt"
	"sync"

	"github.com/veronica-labs/veronica/pkg/policy"
)

// Backend is a monotonic spend counter. Negative amounts are caller
// bugs and fail with policy.ErrInvalidArgument.
type Backend interface {
	// Add atomically adds amount and returns the new total.
	Add(ctx context.Context, amount float64) (float64, error)
	// Get returns the current total.
	Get(ctx context.Context) (float64, error)
	// Reset zeroes the counter.
	Reset(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// LocalBackend is the in-process default.
type LocalBackend struct {
	mu    sync.Mutex
	total float64
}

// NewLocalBackend creates a zeroed counter.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func (b *LocalBackend) Add(_ context.Context, amount float64) (float64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative spend %.6f", policy.ErrInvalidArgument, amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += amount
	return b.total, nil
}

func (b *LocalBackend) Get(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, nil
}

func (b *LocalBackend) Reset(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = 0
	return nil
}

func (b *LocalBackend) Close() error { return nil }
