package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	entityKindKey ctxKey = iota
	entityIDKey
	ruleIDKey
)

// WithEntity returns a context carrying the entity correlation pair.
func WithEntity(ctx context.Context, kind, id string) context.Context {
	ctx = context.WithValue(ctx, entityKindKey, kind)
	return context.WithValue(ctx, entityIDKey, id)
}

// WithRuleID returns a context with the rule ID set.
func WithRuleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ruleIDKey, id)
}

// EntityKind extracts the entity kind from the context, or "" if absent.
func EntityKind(ctx context.Context) string {
	v, _ := ctx.Value(entityKindKey).(string)
	return v
}

// EntityID extracts the entity ID from the context, or "" if absent.
func EntityID(ctx context.Context) string {
	v, _ := ctx.Value(entityIDKey).(string)
	return v
}

// RuleID extracts the rule ID from the context, or "" if absent.
func RuleID(ctx context.Context) string {
	v, _ := ctx.Value(ruleIDKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, injecting correlation IDs from
// the context into every record. Wire with slog.New(NewCorrelationHandler(h))
// so logger.InfoContext(ctx, ...) carries the IDs automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := EntityKind(ctx); v != "" {
		r.AddAttrs(slog.String("entity_kind", v))
	}
	if v := EntityID(ctx); v != "" {
		r.AddAttrs(slog.String("entity_id", v))
	}
	if v := RuleID(ctx); v != "" {
		r.AddAttrs(slog.String("rule_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
