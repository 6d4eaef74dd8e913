package execution

import "sync"

// CancelToken is a single-set, event-style signal. Setting is
// idempotent and permanent; readers poll at boundaries.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Set fires the token exactly once.
func (t *CancelToken) Set() {
	t.once.Do(func() { close(t.ch) })
}

// IsSet reports whether the token has fired.
func (t *CancelToken) IsSet() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done exposes the signal channel for select loops.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ch
}
