package schema

import (
	"encoding/json"
	"time"
)

// Entity kinds watched by the rule engine.
const (
	EntityCase         = "Case"
	EntityHearing      = "Hearing"
	EntityCaseWorkflow = "CaseWorkflow"
	EntityTask         = "Task"
)

// Lifecycle event names. The persistence layer fires after_insert/after_update
// once the mutating transaction has committed; step_completed is emitted by the
// workflow executor itself.
const (
	EventAfterInsert   = "after_insert"
	EventAfterUpdate   = "after_update"
	EventStageChanged  = "stage_changed"
	EventStepCompleted = "step_completed"
)

// CaseStatus represents the lifecycle state of a case.
type CaseStatus string

const (
	CaseStatusOpen     CaseStatus = "open"
	CaseStatusOnHold   CaseStatus = "on_hold"
	CaseStatusClosed   CaseStatus = "closed"
	CaseStatusArchived CaseStatus = "archived"
)

// CaseStage represents the procedural stage of a case.
type CaseStage string

const (
	CaseStageConsultation  CaseStage = "consultation"
	CaseStagePreLitigation CaseStage = "pre_litigation"
	CaseStageLitigation    CaseStage = "litigation"
	CaseStageSettlement    CaseStage = "settlement"
	CaseStageAppeal        CaseStage = "appeal"
	CaseStageReview        CaseStage = "review"
	CaseStageCompleted     CaseStage = "completed"
)

// HearingStatus represents the lifecycle state of a hearing.
type HearingStatus string

const (
	HearingStatusScheduled HearingStatus = "scheduled"
	HearingStatusConfirmed HearingStatus = "confirmed"
	HearingStatusCompleted HearingStatus = "completed"
	HearingStatusCancelled HearingStatus = "cancelled"
	HearingStatusAdjourned HearingStatus = "adjourned"
)

// LifecycleEvent is a fire-and-forget notification that an entity instance
// underwent a named state transition. The payload is a snapshot of the fields
// rule handlers need, taken at commit time; handlers do not re-fetch the
// entity.
type LifecycleEvent struct {
	EntityKind string       `json:"entity_kind"`
	EventName  string       `json:"event_name"`
	EntityID   string       `json:"entity_id"`
	OccurredAt time.Time    `json:"occurred_at"`
	Payload    EventPayload `json:"payload"`
}

// Key returns the registry lookup key for this event.
func (e *LifecycleEvent) Key() string {
	return e.EntityKind + "." + e.EventName
}

// EventPayload is a tagged variant: exactly one field is set, matching the
// event's entity kind. Explicit optional fields replace the original's
// reflection-style attribute probing.
type EventPayload struct {
	Case     *CaseSnapshot     `json:"case,omitempty"`
	Hearing  *HearingSnapshot  `json:"hearing,omitempty"`
	Workflow *WorkflowSnapshot `json:"workflow,omitempty"`
}

// CaseSnapshot carries the case fields rule conditions read.
type CaseSnapshot struct {
	Title        string     `json:"title"`
	Status       CaseStatus `json:"status"`
	Stage        CaseStage  `json:"stage"`
	DecisionDate *time.Time `json:"decision_date,omitempty"`
	LawyerID     string     `json:"lawyer_id"`
	ClientID     string     `json:"client_id,omitempty"`
}

// HearingSnapshot carries the hearing fields rule conditions read.
type HearingSnapshot struct {
	Title        string        `json:"title"`
	CaseID       string        `json:"case_id"`
	Status       HearingStatus `json:"status"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	Location     string        `json:"location,omitempty"`
}

// WorkflowSnapshot carries the workflow step fields emitted on step completion.
type WorkflowSnapshot struct {
	CaseID     string `json:"case_id"`
	TemplateID string `json:"template_id"`
	StepID     string `json:"step_id"`
	StepName   string `json:"step_name"`
	StepOrder  int    `json:"step_order"`
}

// Map renders the payload as a generic map for expression evaluation
// (CEL guards, expr formulas, jq extraction). Times serialize as RFC 3339
// strings; absent variants are omitted.
func (p EventPayload) Map() (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, NewError(ErrCodeExecution, "marshal event payload").WithCause(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, NewError(ErrCodeExecution, "unmarshal event payload").WithCause(err)
	}
	return m, nil
}
