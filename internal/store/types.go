package store

import (
	"time"

	"github.com/anferov/lexflow/pkg/schema"
)

// Case is the persisted case record, reduced to the fields the automation
// core reads. Full case CRUD lives with the CRM's API layer.
type Case struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Status       schema.CaseStatus `json:"status"`
	Stage        schema.CaseStage  `json:"stage"`
	DecisionDate *time.Time        `json:"decision_date,omitempty"`
	LawyerID     string            `json:"lawyer_id"`
	ClientID     string            `json:"client_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Hearing is the persisted hearing record.
type Hearing struct {
	ID           string               `json:"id"`
	CaseID       string               `json:"case_id"`
	Title        string               `json:"title"`
	Status       schema.HearingStatus `json:"status"`
	ScheduledFor time.Time            `json:"scheduled_for"`
	Location     string               `json:"location,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Task is a persisted follow-up task, usually spawned by a rule handler.
type Task struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	CaseID      string              `json:"case_id,omitempty"`
	HearingID   string              `json:"hearing_id,omitempty"`
	AssigneeID  string              `json:"assignee_id"`
	Priority    schema.TaskPriority `json:"priority"`
	Status      schema.TaskStatus   `json:"status"`
	DueDate     time.Time           `json:"due_date"`
	CreatedAt   time.Time           `json:"created_at"`
}

// CalendarEvent is a persisted calendar entry for one subject. All-day events
// carry AllDay=true and their stored times are widened to the full day when
// building busy sets.
type CalendarEvent struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	CaseID    string    `json:"case_id,omitempty"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	AllDay    bool      `json:"all_day"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Calendar event booking states. Only scheduled events block availability.
const (
	EventStatusScheduled = "scheduled"
	EventStatusCancelled = "cancelled"
)

// Notification is a reminder produced by the deadline sweeper. Uniqueness on
// (user, reference kind, reference id, due date) makes the sweep idempotent.
type Notification struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Message       string    `json:"message,omitempty"`
	ReferenceKind string    `json:"reference_kind"`
	ReferenceID   string    `json:"reference_id"`
	DueAt         time.Time `json:"due_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Dispatch audit outcomes.
const (
	DispatchStatusSucceeded = "succeeded"
	DispatchStatusFailed    = "failed"
)

// DispatchRecord is an immutable audit entry for one handler's outcome during
// a dispatch. Sequence increases monotonically per (entity_kind, entity_id),
// mirroring the commit order the persistence layer delivers events in.
type DispatchRecord struct {
	ID         int64     `json:"id"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	EventName  string    `json:"event_name"`
	RuleID     string    `json:"rule_id"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Timestamp  time.Time `json:"timestamp"`
	Sequence   int64     `json:"sequence"`
}

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	AssigneeID string             `json:"assignee_id,omitempty"`
	CaseID     string             `json:"case_id,omitempty"`
	Status     *schema.TaskStatus `json:"status,omitempty"`
	DueBefore  *time.Time         `json:"due_before,omitempty"`
	DueAfter   *time.Time         `json:"due_after,omitempty"`
	Limit      int                `json:"limit,omitempty"`
}

// HearingFilter specifies criteria for listing hearings.
type HearingFilter struct {
	CaseID          string     `json:"case_id,omitempty"`
	ScheduledBefore *time.Time `json:"scheduled_before,omitempty"`
	ScheduledAfter  *time.Time `json:"scheduled_after,omitempty"`
	Limit           int        `json:"limit,omitempty"`
}

// CaseUpdate specifies the mutable case fields the automation core touches.
type CaseUpdate struct {
	Status       *schema.CaseStatus `json:"status,omitempty"`
	Stage        *schema.CaseStage  `json:"stage,omitempty"`
	DecisionDate *time.Time         `json:"decision_date,omitempty"`
}
