// Package scheduler gates chain admission with a hierarchical weighted
// fair queue: per-team priority buckets under an org-level weighted
// round robin, with inflight caps and starvation promotion.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/veronica-labs/veronica/pkg/decision"
)

// Priority orders entries within one team queue. P0 dispatches first.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	priorityLevels
)

func (p Priority) String() string { return fmt.Sprintf("P%d", int(p)) }

// QueueEntry is one admission request waiting for dispatch.
type QueueEntry struct {
	StepID    string
	RunID     string
	SessionID string
	Org       string
	Team      string
	Priority  Priority
	QueuedAt  time.Time
	Kind      string
	Model     string
}

// Admission is the verdict for one Admit call.
type Admission struct {
	Decision decision.Decision // ALLOW or QUEUE
	Rejected bool              // queue at capacity
	StepID   string
	Reason   string
}

// Config bounds the scheduler.
type Config struct {
	MaxInflightOrg     int
	MaxInflightPerTeam int
	MaxQueueDepth      int
	// TeamWeights biases the round robin; unknown teams weigh 1.
	TeamWeights map[string]int
	// OrgRate throttles admissions per second when positive.
	OrgRate  rate.Limit
	OrgBurst int
}

type teamQueue struct {
	buckets [priorityLevels][]*QueueEntry
	deficit float64
}

func (q *teamQueue) empty() bool {
	for _, b := range q.buckets {
		if len(b) > 0 {
			return false
		}
	}
	return true
}

func (q *teamQueue) oldest() time.Time {
	oldest := time.Time{}
	for _, b := range q.buckets {
		for _, e := range b {
			if oldest.IsZero() || e.QueuedAt.Before(oldest) {
				oldest = e.QueuedAt
			}
		}
	}
	return oldest
}

func (q *teamQueue) pop() *QueueEntry {
	for p := range q.buckets {
		if len(q.buckets[p]) > 0 {
			e := q.buckets[p][0]
			q.buckets[p] = q.buckets[p][1:]
			return e
		}
	}
	return nil
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu           sync.Mutex
	cfg          Config
	teams        map[string]*teamQueue
	inflightOrg  int
	inflightTeam map[string]int
	queued       int
	limiter      *rate.Limiter
	now          func() time.Time
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		cfg:          cfg,
		teams:        make(map[string]*teamQueue),
		inflightTeam: make(map[string]int),
		now:          time.Now,
	}
	if cfg.OrgRate > 0 {
		burst := cfg.OrgBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(cfg.OrgRate, burst)
	}
	return s
}

// WithClock overrides the clock for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) weight(team string) float64 {
	if w, ok := s.cfg.TeamWeights[team]; ok && w > 0 {
		return float64(w)
	}
	return 1
}

// Admit either admits the entry immediately (ALLOW, inflight counted),
// queues it (QUEUE), or rejects it when the queue is at capacity.
func (s *Scheduler) Admit(e QueueEntry) Admission {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.QueuedAt.IsZero() {
		e.QueuedAt = s.now()
	}

	if s.hasCapacityLocked(e.Team) && !s.teamHasQueuedLocked(e.Team) && (s.limiter == nil || s.limiter.Allow()) {
		s.inflightOrg++
		s.inflightTeam[e.Team]++
		return Admission{Decision: decision.Allow, StepID: e.StepID, Reason: "capacity available"}
	}

	if s.cfg.MaxQueueDepth > 0 && s.queued >= s.cfg.MaxQueueDepth {
		return Admission{Rejected: true, StepID: e.StepID, Reason: "queue at capacity"}
	}

	q, ok := s.teams[e.Team]
	if !ok {
		q = &teamQueue{}
		s.teams[e.Team] = q
	}
	entry := e
	q.buckets[e.Priority] = append(q.buckets[e.Priority], &entry)
	q.deficit += s.weight(e.Team)
	s.queued++
	return Admission{Decision: decision.Queue, StepID: e.StepID, Reason: "inflight capacity exhausted"}
}

func (s *Scheduler) teamHasQueuedLocked(team string) bool {
	q, ok := s.teams[team]
	return ok && !q.empty()
}

func (s *Scheduler) hasCapacityLocked(team string) bool {
	if s.cfg.MaxInflightOrg > 0 && s.inflightOrg >= s.cfg.MaxInflightOrg {
		return false
	}
	if s.cfg.MaxInflightPerTeam > 0 && s.inflightTeam[team] >= s.cfg.MaxInflightPerTeam {
		return false
	}
	return true
}

// Dispatch pops the next entry by weighted round robin: the team with
// the highest deficit wins, ties go to the oldest waiting entry, and
// one dispatch costs one deficit unit. Returns false when nothing is
// dispatchable.
func (s *Scheduler) Dispatch() (*QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxInflightOrg > 0 && s.inflightOrg >= s.cfg.MaxInflightOrg {
		return nil, false
	}

	var bestTeam string
	var best *teamQueue
	for team, q := range s.teams {
		if q.empty() || !s.hasCapacityLocked(team) {
			continue
		}
		if best == nil || q.deficit > best.deficit ||
			(q.deficit == best.deficit && q.oldest().Before(best.oldest())) {
			bestTeam, best = team, q
		}
	}
	if best == nil {
		return nil, false
	}

	e := best.pop()
	best.deficit--
	if best.deficit < 0 {
		best.deficit = 0
	}
	s.queued--
	s.inflightOrg++
	s.inflightTeam[bestTeam]++
	return e, true
}

// Complete releases the inflight slot taken at Admit or Dispatch.
func (s *Scheduler) Complete(e *QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflightOrg > 0 {
		s.inflightOrg--
	}
	if s.inflightTeam[e.Team] > 0 {
		s.inflightTeam[e.Team]--
	}
}

// PromoteStarved lifts entries waiting past the threshold one priority
// level (P2 to P1, P1 to P0) and returns how many moved.
func (s *Scheduler) PromoteStarved(threshold time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-threshold)
	moved := 0
	for _, q := range s.teams {
		for p := P1; p <= P2; p++ {
			kept := q.buckets[p][:0]
			for _, e := range q.buckets[p] {
				if e.QueuedAt.Before(cutoff) {
					e.Priority = p - 1
					q.buckets[p-1] = append(q.buckets[p-1], e)
					moved++
				} else {
					kept = append(kept, e)
				}
			}
			q.buckets[p] = kept
		}
	}
	return moved
}

// Depth returns the queued entry count.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Inflight returns the org-wide inflight count.
func (s *Scheduler) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflightOrg
}
