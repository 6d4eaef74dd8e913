// Package llm defines the model-client contract the containment engine
// wraps, plus a chat-completions HTTP adapter. The engine never
// inspects prompt or response content.
package llm

import "context"

// Generator is the contract a wrapped model client fulfils. Extra maps
// carry provider-specific knobs the engine passes through untouched.
type Generator interface {
	Generate(ctx context.Context, prompt string, callContext map[string]any) (string, error)
}

// GeneratorFunc adapts a function to the Generator contract.
type GeneratorFunc func(ctx context.Context, prompt string, callContext map[string]any) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, callContext map[string]any) (string, error) {
	return f(ctx, prompt, callContext)
}
