package workflow

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/anferov/lexflow/internal/rules"
	"github.com/anferov/lexflow/pkg/schema"
)

// Store is the workflow persistence contract the executor consumes.
type Store interface {
	GetTemplate(ctx context.Context, id string) (*schema.WorkflowTemplate, error)
	GetCaseWorkflow(ctx context.Context, id string) (*schema.CaseWorkflow, error)
	SaveCaseWorkflow(ctx context.Context, wf *schema.CaseWorkflow) error
}

// EventSink receives step-completion events. The executor emits through the
// dispatcher without knowing which rules listen; that indirection keeps
// workflow mechanics decoupled from business rules.
type EventSink interface {
	Dispatch(ctx context.Context, event *schema.LifecycleEvent) (*rules.DispatchResult, error)
}

// Executor drives a case workflow through its template's step sequence.
type Executor struct {
	store  Store
	sink   EventSink
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an Executor. A nil sink disables event emission; a nil
// now defaults to time.Now.
func NewExecutor(store Store, sink EventSink, logger *slog.Logger, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{store: store, sink: sink, logger: logger, now: now}
}

// Start attaches a template to a case and returns the new workflow positioned
// at the template's first step.
func (e *Executor) Start(ctx context.Context, caseID, templateID string) (*schema.CaseWorkflow, error) {
	if caseID == "" || templateID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "case ID and template ID are required")
	}

	tpl, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	wf := &schema.CaseWorkflow{
		ID:            uuid.NewString(),
		CaseID:        caseID,
		TemplateID:    templateID,
		CurrentStepID: tpl.Steps[0].ID,
		Status:        schema.WorkflowStatusInProgress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.SaveCaseWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "workflow started",
		slog.String("workflow_id", wf.ID),
		slog.String("case_id", caseID),
		slog.String("template", tpl.Name),
	)

	// A template may open with auto-complete steps; run them now so the
	// workflow surfaces at its first actionable step.
	if tpl.Steps[0].AutoComplete {
		return e.AdvanceStep(ctx, wf.ID, wf.CurrentStepID)
	}
	return wf, nil
}

// AdvanceStep marks the workflow's current step completed and moves to the
// next template step. Completing a step that is not the current one is a
// signaling error: the workflow state stays unchanged and the caller gets an
// out-of-order error. Auto-complete steps are completed immediately in the
// same call, bounded by the template's step count. Completing the final step
// transitions the workflow to completed and stamps CompletedAt.
func (e *Executor) AdvanceStep(ctx context.Context, workflowID, completedStepID string) (*schema.CaseWorkflow, error) {
	wf, err := e.store.GetCaseWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Terminal() {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"workflow %s is %s; no further steps can be completed", wf.ID, wf.Status)
	}

	tpl, err := e.store.GetTemplate(ctx, wf.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}

	stepID := completedStepID
	for iterations := 0; ; iterations++ {
		// The template order is acyclic by construction; hitting this bound
		// means the template data is corrupt.
		if iterations > len(tpl.Steps) {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"auto-complete exceeded %d iterations in workflow %s; template %s is malformed",
				len(tpl.Steps), wf.ID, tpl.ID)
		}

		if stepID != wf.CurrentStepID {
			return nil, schema.NewErrorf(schema.ErrCodeOutOfOrderStep,
				"step %q is not the current step of workflow %s (current: %q)",
				stepID, wf.ID, wf.CurrentStepID).
				WithDetails(map[string]any{"workflow_id": wf.ID, "current_step_id": wf.CurrentStepID})
		}

		step := tpl.StepByID(stepID)
		if step == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"step %q does not belong to template %s", stepID, tpl.ID)
		}

		next := tpl.NextStep(stepID)
		now := e.now().UTC()
		wf.UpdatedAt = now
		if next == nil {
			wf.Status = schema.WorkflowStatusCompleted
			wf.CompletedAt = &now
		} else {
			wf.CurrentStepID = next.ID
		}
		if err := e.store.SaveCaseWorkflow(ctx, wf); err != nil {
			return nil, err
		}

		e.emitStepCompleted(ctx, wf, step, now)

		if next == nil {
			e.logger.InfoContext(ctx, "workflow completed",
				slog.String("workflow_id", wf.ID),
				slog.String("case_id", wf.CaseID),
			)
			break
		}
		if !next.AutoComplete {
			break
		}
		stepID = next.ID
	}

	return wf, nil
}

// Cancel transitions an in-progress workflow to cancelled. Terminal workflows
// cannot be cancelled again.
func (e *Executor) Cancel(ctx context.Context, workflowID string) (*schema.CaseWorkflow, error) {
	wf, err := e.store.GetCaseWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Terminal() {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"workflow %s is already %s", wf.ID, wf.Status)
	}

	wf.Status = schema.WorkflowStatusCancelled
	wf.UpdatedAt = e.now().UTC()
	if err := e.store.SaveCaseWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "workflow cancelled",
		slog.String("workflow_id", wf.ID),
		slog.String("case_id", wf.CaseID),
	)
	return wf, nil
}

// emitStepCompleted dispatches a step-completion event. Rule failures inside
// the dispatch are already isolated per handler; only malformed-event errors
// reach us, and those are logged rather than unwinding a committed step
// transition.
func (e *Executor) emitStepCompleted(ctx context.Context, wf *schema.CaseWorkflow, step *schema.WorkflowStep, at time.Time) {
	if e.sink == nil {
		return
	}
	event := &schema.LifecycleEvent{
		EntityKind: schema.EntityCaseWorkflow,
		EventName:  schema.EventStepCompleted,
		EntityID:   wf.ID,
		OccurredAt: at,
		Payload: schema.EventPayload{Workflow: &schema.WorkflowSnapshot{
			CaseID:     wf.CaseID,
			TemplateID: wf.TemplateID,
			StepID:     step.ID,
			StepName:   step.Name,
			StepOrder:  step.Order,
		}},
	}

	result, err := e.sink.Dispatch(ctx, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "step completion dispatch failed",
			slog.String("workflow_id", wf.ID),
			slog.String("step_id", step.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !result.Ok() {
		e.logger.WarnContext(ctx, "step completion rules reported failures",
			slog.String("workflow_id", wf.ID),
			slog.String("step_id", step.ID),
			slog.Int("failed", len(result.Failed)),
		)
	}
}

// validateTemplate checks the structural invariants AdvanceStep relies on.
func validateTemplate(tpl *schema.WorkflowTemplate) error {
	if len(tpl.Steps) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "template %s has no steps", tpl.ID)
	}
	if !sort.SliceIsSorted(tpl.Steps, func(i, j int) bool {
		return tpl.Steps[i].Order < tpl.Steps[j].Order
	}) {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"template %s steps are not in strictly increasing order", tpl.ID)
	}
	for i := 1; i < len(tpl.Steps); i++ {
		if tpl.Steps[i].Order == tpl.Steps[i-1].Order {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"template %s has duplicate step order %d", tpl.ID, tpl.Steps[i].Order)
		}
	}
	return nil
}
