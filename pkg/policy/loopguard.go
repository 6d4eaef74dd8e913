package policy

import (
	"fmt"
	"strings"
	"sync"
)

// PolicyTypeSemanticLoop identifies the loop guard primitive.
const PolicyTypeSemanticLoop = "semantic_loop"

// loopSample is one normalised output in the rolling window.
type loopSample struct {
	normalised string
	words      map[string]struct{}
}

// SemanticLoopGuard detects an agent repeating itself. It keeps the
// last W outputs normalised (lowercased, whitespace-collapsed) and
// denies when any pair above the min-chars gate is exactly equal or has
// Jaccard word-set similarity at or above the threshold. Exact equality
// is the stronger signal and carries its own reason.
type SemanticLoopGuard struct {
	mu        sync.Mutex
	window    int
	threshold float64
	minChars  int
	samples   []loopSample
	lastDeny  *Decision
}

// NewSemanticLoopGuard builds a guard over a window of W outputs.
func NewSemanticLoopGuard(window int, threshold float64, minChars int) *SemanticLoopGuard {
	if window <= 1 {
		window = 2
	}
	return &SemanticLoopGuard{window: window, threshold: threshold, minChars: minChars}
}

func (g *SemanticLoopGuard) PolicyType() string { return PolicyTypeSemanticLoop }

func normalise(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func wordSet(normalised string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalised) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Feed appends one output and runs the pairwise check over the window.
// A denial is sticky for Check until Reset.
func (g *SemanticLoopGuard) Feed(text string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	norm := normalise(text)
	g.samples = append(g.samples, loopSample{normalised: norm, words: wordSet(norm)})
	if len(g.samples) > g.window {
		g.samples = g.samples[len(g.samples)-g.window:]
	}

	for i := 0; i < len(g.samples); i++ {
		for j := i + 1; j < len(g.samples); j++ {
			a, b := g.samples[i], g.samples[j]
			if len(a.normalised) < g.minChars || len(b.normalised) < g.minChars {
				continue
			}
			if a.normalised == b.normalised {
				d := Denyf(PolicyTypeSemanticLoop, "exact repetition detected in output window")
				g.lastDeny = &d
				return d
			}
			if sim := jaccard(a.words, b.words); sim >= g.threshold {
				d := Denyf(PolicyTypeSemanticLoop, fmt.Sprintf(
					"semantic loop detected: similarity %.3f >= %.3f", sim, g.threshold))
				g.lastDeny = &d
				return d
			}
		}
	}
	return Allowf(PolicyTypeSemanticLoop, "no repetition in window")
}

// Check reports the sticky result of the last Feed denial.
func (g *SemanticLoopGuard) Check(ctx Context) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastDeny != nil {
		return *g.lastDeny
	}
	return Allowf(PolicyTypeSemanticLoop, "no repetition in window")
}

// Reset clears the window and the sticky denial.
func (g *SemanticLoopGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = nil
	g.lastDeny = nil
}
