package expressions

import "context"

// Engine evaluates expressions inside declarative rule specs.
// Three implementations: CEL (guards), Expr (formulas), GoJQ (extraction).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
