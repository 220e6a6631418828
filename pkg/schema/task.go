package schema

import "time"

// TaskPriority orders follow-up work.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskSpawnRequest is the output contract of a rule handler: a request for the
// task store to create a follow-up task. The rule engine never writes tasks
// directly.
type TaskSpawnRequest struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	DueDate     time.Time    `json:"due_date"`
	CaseID      string       `json:"case_id,omitempty"`
	HearingID   string       `json:"hearing_id,omitempty"`
	Priority    TaskPriority `json:"priority"`
	AssigneeID  string       `json:"assignee_id"`
}
