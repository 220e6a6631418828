package rules

import (
	"context"
	"time"

	"github.com/anferov/lexflow/internal/expressions"
	"github.com/anferov/lexflow/pkg/schema"
)

// RuleSpec is a declarative rule definition. Firms extend the built-in rule
// set with these instead of writing Go: a CEL guard decides whether the rule
// fires, expr formulas compute the due date and assignee, jq expressions
// extract named context values, and ${{...}} templates render the task text.
type RuleSpec struct {
	ID          string            `json:"id"`
	EntityKind  string            `json:"entity_kind"`
	EventName   string            `json:"event_name"`
	Guard       string            `json:"guard,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Due         string            `json:"due"`
	Priority    string            `json:"priority,omitempty"`
	Assignee    string            `json:"assignee"`
	Context     map[string]string `json:"context,omitempty"`
}

// SpecEngines bundles the expression engines a compiled spec evaluates with.
type SpecEngines struct {
	CEL          *expressions.CELEngine
	Expr         *expressions.ExprEngine
	JQ           *expressions.GoJQEngine
	Interpolator *expressions.Interpolator
	Now          func() time.Time
}

// NewSpecEngines constructs the engine bundle. A nil now defaults to time.Now.
func NewSpecEngines(now func() time.Time) (*SpecEngines, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &SpecEngines{
		CEL:          celEngine,
		Expr:         expressions.NewExprEngine(),
		JQ:           expressions.NewGoJQEngine(),
		Interpolator: expressions.NewInterpolator(),
		Now:          now,
	}, nil
}

// SpecHandler is a RuleSpec compiled against an engine bundle. It implements
// Handler so declarative rules register and dispatch like built-in ones.
type SpecHandler struct {
	spec    RuleSpec
	engines *SpecEngines
}

// CompileSpec validates a RuleSpec's expressions eagerly and returns a
// dispatchable handler. Compile errors surface at startup, not at dispatch.
func CompileSpec(spec RuleSpec, engines *SpecEngines) (*SpecHandler, error) {
	if spec.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "rule spec ID is empty")
	}
	if spec.EntityKind == "" || spec.EventName == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"rule spec %q must name an entity kind and event", spec.ID).WithRule(spec.ID)
	}
	if spec.Title == "" || spec.Due == "" || spec.Assignee == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"rule spec %q must define title, due and assignee", spec.ID).WithRule(spec.ID)
	}

	// Exercise every expression once so malformed specs fail here. CEL and jq
	// compile independently of input; expr needs a representative env.
	probe := map[string]any{"payload": map[string]any{}, "event": map[string]any{}, "now": engines.Now()}
	if spec.Guard != "" {
		if _, err := engines.CEL.Evaluate(context.Background(), spec.Guard, probe); err != nil {
			if flowErr, ok := err.(*schema.FlowError); ok && flowErr.Code == schema.ErrCodeValidation {
				return nil, flowErr.WithRule(spec.ID)
			}
		}
	}
	for name, jqExpr := range spec.Context {
		if _, err := engines.JQ.Evaluate(context.Background(), jqExpr, probe); err != nil {
			if flowErr, ok := err.(*schema.FlowError); ok && flowErr.Code == schema.ErrCodeValidation {
				return nil, flowErr.WithRule(spec.ID).WithDetails(map[string]any{"context_key": name})
			}
		}
	}
	for _, formula := range []string{spec.Due, spec.Assignee} {
		if _, err := engines.Expr.Evaluate(context.Background(), formula, probe); err != nil {
			if flowErr, ok := err.(*schema.FlowError); ok && flowErr.Code == schema.ErrCodeValidation {
				return nil, flowErr.WithRule(spec.ID)
			}
		}
	}

	return &SpecHandler{spec: spec, engines: engines}, nil
}

func (h *SpecHandler) ID() string { return h.spec.ID }

// Spec returns the handler's source definition.
func (h *SpecHandler) Spec() RuleSpec { return h.spec }

func (h *SpecHandler) Evaluate(ctx context.Context, event *schema.LifecycleEvent) ([]schema.TaskSpawnRequest, error) {
	payload, err := entityPayload(event)
	if err != nil {
		return nil, err
	}
	eventMeta := map[string]any{
		"entity_kind": event.EntityKind,
		"event_name":  event.EventName,
		"entity_id":   event.EntityID,
	}
	data := map[string]any{"payload": payload, "event": eventMeta}

	if h.spec.Guard != "" {
		fires, err := h.engines.CEL.EvaluateBool(ctx, h.spec.Guard, data)
		if err != nil {
			return nil, wrapRuleErr(err, h.spec.ID)
		}
		if !fires {
			return nil, nil
		}
	}

	extracted := make(map[string]any, len(h.spec.Context))
	for name, jqExpr := range h.spec.Context {
		val, err := h.engines.JQ.Evaluate(ctx, jqExpr, data)
		if err != nil {
			return nil, wrapRuleErr(err, h.spec.ID)
		}
		extracted[name] = val
	}

	exprEnv := map[string]any{"payload": payload, "event": eventMeta, "now": h.engines.Now()}
	due, err := h.evalDue(ctx, exprEnv)
	if err != nil {
		return nil, err
	}
	assignee, err := h.evalAssignee(ctx, exprEnv)
	if err != nil {
		return nil, err
	}

	scope := &expressions.InterpolationScope{Payload: payload, Event: eventMeta, Context: extracted}
	title, err := h.engines.Interpolator.Resolve(h.spec.Title, scope)
	if err != nil {
		return nil, wrapRuleErr(err, h.spec.ID)
	}
	description, err := h.engines.Interpolator.Resolve(h.spec.Description, scope)
	if err != nil {
		return nil, wrapRuleErr(err, h.spec.ID)
	}

	req := schema.TaskSpawnRequest{
		Title:       title,
		Description: description,
		DueDate:     due,
		Priority:    schema.TaskPriority(h.spec.Priority),
		AssigneeID:  assignee,
	}
	switch event.EntityKind {
	case schema.EntityHearing:
		req.HearingID = event.EntityID
		if caseID, ok := payload["case_id"].(string); ok {
			req.CaseID = caseID
		}
	default:
		req.CaseID = event.EntityID
	}
	return []schema.TaskSpawnRequest{req}, nil
}

// evalDue runs the due formula and coerces the result to a time.
func (h *SpecHandler) evalDue(ctx context.Context, env map[string]any) (time.Time, error) {
	out, err := h.engines.Expr.Evaluate(ctx, h.spec.Due, env)
	if err != nil {
		return time.Time{}, wrapRuleErr(err, h.spec.ID)
	}
	switch v := out.(type) {
	case time.Time:
		return v, nil
	case string:
		due, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, schema.NewErrorf(schema.ErrCodeExecution,
				"due formula %q produced unparseable time %q", h.spec.Due, v).WithRule(h.spec.ID).WithCause(err)
		}
		return due, nil
	default:
		return time.Time{}, schema.NewErrorf(schema.ErrCodeExecution,
			"due formula %q must produce a time, got %T", h.spec.Due, out).WithRule(h.spec.ID)
	}
}

func (h *SpecHandler) evalAssignee(ctx context.Context, env map[string]any) (string, error) {
	out, err := h.engines.Expr.Evaluate(ctx, h.spec.Assignee, env)
	if err != nil {
		return "", wrapRuleErr(err, h.spec.ID)
	}
	assignee, ok := out.(string)
	if !ok || assignee == "" {
		return "", schema.NewErrorf(schema.ErrCodeExecution,
			"assignee formula %q must produce a non-empty string, got %v", h.spec.Assignee, out).
			WithRule(h.spec.ID)
	}
	return assignee, nil
}

// entityPayload unwraps the event's payload variant into a generic map so
// guard expressions address fields directly (payload.status, not
// payload.case.status).
func entityPayload(event *schema.LifecycleEvent) (map[string]any, error) {
	wrapped, err := event.Payload.Map()
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"case", "hearing", "workflow"} {
		if inner, ok := wrapped[key].(map[string]any); ok {
			return inner, nil
		}
	}
	return map[string]any{}, nil
}

func wrapRuleErr(err error, ruleID string) error {
	if flowErr, ok := err.(*schema.FlowError); ok {
		return flowErr.WithRule(ruleID)
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithRule(ruleID).WithCause(err)
}

// RegisterSpecs compiles and registers a batch of declarative rules.
func RegisterSpecs(reg *Registry, specs []RuleSpec, engines *SpecEngines) error {
	for _, spec := range specs {
		h, err := CompileSpec(spec, engines)
		if err != nil {
			return err
		}
		if err := reg.Register(spec.EntityKind, spec.EventName, h); err != nil {
			return err
		}
	}
	return nil
}
