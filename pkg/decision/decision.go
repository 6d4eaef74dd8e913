// Package decision defines the containment decision lattice and the
// immutable per-call context shared by every enforcement boundary.
package decision

import "fmt"

// Decision is the closed set of outcomes a boundary may produce.
type Decision string

const (
	Allow      Decision = "ALLOW"
	Degrade    Decision = "DEGRADE"
	Retry      Decision = "RETRY"
	Queue      Decision = "QUEUE"
	Quarantine Decision = "QUARANTINE"
	Halt       Decision = "HALT"
)

// severity orders decisions for escalation. Higher value wins when
// combining decisions from independent boundaries.
var severity = map[Decision]int{
	Allow:      0,
	Degrade:    1,
	Retry:      2,
	Queue:      3,
	Quarantine: 4,
	Halt:       5,
}

// Valid reports whether d is a member of the lattice.
func (d Decision) Valid() bool {
	_, ok := severity[d]
	return ok
}

// Severity returns the escalation rank of d. Unknown decisions rank
// highest so that a corrupted value fails closed.
func (d Decision) Severity() int {
	s, ok := severity[d]
	if !ok {
		return severity[Halt] + 1
	}
	return s
}

// Max returns the more severe of a and b.
func Max(a, b Decision) Decision {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Parse converts a string into a Decision.
func Parse(s string) (Decision, error) {
	d := Decision(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown decision %q", s)
	}
	return d, nil
}
