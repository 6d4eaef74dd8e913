package policy

// PolicyTypePipeline is the synthetic type returned when every
// primitive allows.
const PolicyTypePipeline = "pipeline"

// Pipeline is an AND-composition of primitives evaluated in
// registration order with first-denial-wins short-circuit. The
// pipeline holds no lock of its own; each primitive is individually
// thread-safe.
type Pipeline struct {
	primitives []Primitive
}

// NewPipeline composes the given primitives in order.
func NewPipeline(primitives ...Primitive) *Pipeline {
	return &Pipeline{primitives: primitives}
}

// Add appends a primitive. Removal is by rebuilding the pipeline.
func (p *Pipeline) Add(prim Primitive) {
	p.primitives = append(p.primitives, prim)
}

// Evaluate returns the first denial in registration order, or a
// synthetic allow when every primitive allows. Primitives are never
// mutated here; state evolves only through explicit record or spend
// calls made after a decision.
func (p *Pipeline) Evaluate(ctx Context) Decision {
	for _, prim := range p.primitives {
		if d := prim.Check(ctx); !d.Allowed {
			return d
		}
	}
	return Allowf(PolicyTypePipeline, "all policies allow")
}

// Reset resets every primitive.
func (p *Pipeline) Reset() {
	for _, prim := range p.primitives {
		prim.Reset()
	}
}

// Primitives returns the composition order.
func (p *Pipeline) Primitives() []Primitive {
	out := make([]Primitive, len(p.primitives))
	copy(out, p.primitives)
	return out
}
