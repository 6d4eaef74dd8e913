package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// CELPolicy is a custom primitive driven by a CEL expression over the
// policy context. The expression must evaluate to a bool; true allows.
// Evaluation errors fail closed.
//
// Available variables: cost_usd (double), step_count (int), entity_id
// (string), chain_id (string), metadata (map).
type CELPolicy struct {
	policyType string
	expr       string
	program    cel.Program
}

// NewCELPolicy compiles expr into an enforcement primitive. The policy
// type names the rule in decisions and events.
func NewCELPolicy(policyType, expr string) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("cost_usd", cel.DoubleType),
		cel.Variable("step_count", cel.IntType),
		cel.Variable("entity_id", cel.StringType),
		cel.Variable("chain_id", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression %q must evaluate to bool", ErrInvalidArgument, expr)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &CELPolicy{policyType: policyType, expr: expr, program: prg}, nil
}

func (p *CELPolicy) PolicyType() string { return p.policyType }

// Check evaluates the expression. Runtime errors deny.
func (p *CELPolicy) Check(ctx Context) Decision {
	meta := ctx.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	val, _, err := p.program.Eval(map[string]any{
		"cost_usd":   ctx.CostUSD,
		"step_count": ctx.StepCount,
		"entity_id":  ctx.EntityID,
		"chain_id":   ctx.ChainID,
		"metadata":   meta,
	})
	if err != nil {
		return Denyf(p.policyType, fmt.Sprintf("cel evaluation failed: %v", err))
	}
	allowed, ok := val.Value().(bool)
	if !ok || !allowed {
		return Denyf(p.policyType, fmt.Sprintf("expression %q denied", p.expr))
	}
	return Allowf(p.policyType, "expression allowed")
}

// Reset is a no-op; the program is stateless.
func (p *CELPolicy) Reset() {}
