package schema

import "time"

// WorkflowStatus represents the lifecycle state of a case workflow.
type WorkflowStatus string

const (
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
)

// ValidWorkflowTransitions defines the allowed state transitions for case
// workflows. Completed and cancelled are terminal.
var ValidWorkflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusInProgress: {WorkflowStatusCompleted, WorkflowStatusCancelled},
	WorkflowStatusCompleted:  {},
	WorkflowStatusCancelled:  {},
}

// WorkflowStep is one step of a workflow template.
type WorkflowStep struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Order        int    `json:"order"`
	Required     bool   `json:"required"`
	AutoComplete bool   `json:"auto_complete"`
}

// WorkflowTemplate is a reusable, ordered sequence of steps attachable to a
// case. Steps is ordered by Order ascending; order values are strictly
// increasing within a template.
type WorkflowTemplate struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Steps []WorkflowStep `json:"steps"`
}

// StepByID returns the step with the given ID, or nil.
func (t *WorkflowTemplate) StepByID(id string) *WorkflowStep {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i]
		}
	}
	return nil
}

// NextStep returns the step following the given step ID in template order, or
// nil when the step is the last one (or unknown).
func (t *WorkflowTemplate) NextStep(afterID string) *WorkflowStep {
	for i := range t.Steps {
		if t.Steps[i].ID == afterID && i+1 < len(t.Steps) {
			return &t.Steps[i+1]
		}
	}
	return nil
}

// CaseWorkflow tracks one case's progress through a template. CurrentStepID
// advances monotonically through the template's step order and is owned
// exclusively by the workflow executor.
type CaseWorkflow struct {
	ID            string         `json:"id"`
	CaseID        string         `json:"case_id"`
	TemplateID    string         `json:"template_id"`
	CurrentStepID string         `json:"current_step_id"`
	Status        WorkflowStatus `json:"status"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the workflow is in a terminal state.
func (w *CaseWorkflow) Terminal() bool {
	return w.Status == WorkflowStatusCompleted || w.Status == WorkflowStatusCancelled
}
