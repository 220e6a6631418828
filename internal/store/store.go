package store

import (
	"context"
	"time"

	"github.com/anferov/lexflow/internal/interval"
	"github.com/anferov/lexflow/pkg/schema"
)

// Store defines the persistence contract the automation core consumes.
// All implementations must be safe for concurrent use.
type Store interface {
	// Cases
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	UpdateCase(ctx context.Context, id string, update CaseUpdate) error

	// Hearings
	CreateHearing(ctx context.Context, h *Hearing) error
	GetHearing(ctx context.Context, id string) (*Hearing, error)
	ListHearings(ctx context.Context, filter HearingFilter) ([]*Hearing, error)

	// Tasks. CreateTask is the rule engine's spawn contract: it assigns the
	// task ID and returns it.
	CreateTask(ctx context.Context, req schema.TaskSpawnRequest) (string, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)

	// Calendar
	CreateEvent(ctx context.Context, ev *CalendarEvent) error
	ListEventsInRange(ctx context.Context, subjectID string, start, end time.Time) ([]interval.TimeInterval, error)

	// Notifications. CreateNotification reports whether a row was written;
	// false means an identical reminder already exists.
	CreateNotification(ctx context.Context, n *Notification) (bool, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]*Notification, error)

	// Workflow templates and case workflows
	StoreTemplate(ctx context.Context, tpl *schema.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string) (*schema.WorkflowTemplate, error)
	SaveCaseWorkflow(ctx context.Context, wf *schema.CaseWorkflow) error
	GetCaseWorkflow(ctx context.Context, id string) (*schema.CaseWorkflow, error)

	// Dispatch audit log (append-only)
	AppendDispatch(ctx context.Context, rec *DispatchRecord) error
	GetDispatches(ctx context.Context, entityKind, entityID string, since int64) ([]*DispatchRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
