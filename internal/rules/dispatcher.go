package rules

import (
	"context"
	"log/slog"

	"github.com/anferov/lexflow/internal/logging"
	"github.com/anferov/lexflow/internal/store"
	"github.com/anferov/lexflow/pkg/schema"
)

// TaskCreator is the external task-store collaborator. Creation is
// at-least-once; the dispatcher never retries on its own.
type TaskCreator interface {
	CreateTask(ctx context.Context, req schema.TaskSpawnRequest) (string, error)
}

// DispatchAppender records dispatch outcomes in the append-only audit log.
// Satisfied by the store's dispatch log; nil disables auditing.
type DispatchAppender interface {
	AppendDispatch(ctx context.Context, rec *store.DispatchRecord) error
}

// Dispatcher resolves and invokes the handlers bound to one lifecycle event.
// It is stateless over its inputs: distinct Dispatch calls may run
// concurrently, provided the registry was frozen first. Within one call,
// handlers run sequentially in registration order.
type Dispatcher struct {
	registry *Registry
	tasks    TaskCreator
	audit    DispatchAppender
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over a frozen-by-startup registry.
func NewDispatcher(registry *Registry, tasks TaskCreator, audit DispatchAppender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, tasks: tasks, audit: audit, logger: logger}
}

// Dispatch invokes every handler bound to the event's key, in registration
// order, continuing past individual handler failures. Handler output is
// forwarded to the task creator; a creation failure is recorded against that
// handler. An event with no bound handlers yields an empty result, not an
// error. The returned error covers only malformed input, never handler
// outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, event *schema.LifecycleEvent) (*DispatchResult, error) {
	if event == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "event is nil")
	}
	if event.EntityKind == "" || event.EventName == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"event key must be fully qualified, got (%q, %q)", event.EntityKind, event.EventName)
	}

	ctx = logging.WithEntity(ctx, event.EntityKind, event.EntityID)
	result := &DispatchResult{Succeeded: []string{}}

	for _, h := range d.registry.HandlersFor(event.EntityKind, event.EventName) {
		hctx := logging.WithRuleID(ctx, h.ID())

		reqs, err := h.Evaluate(hctx, event)
		if err == nil {
			err = d.spawn(hctx, reqs, result)
		}

		if err != nil {
			result.Failed = append(result.Failed, HandlerFailure{HandlerID: h.ID(), Err: err})
			d.logger.ErrorContext(hctx, "rule handler failed",
				slog.String("event", event.Key()),
				slog.String("error", err.Error()),
			)
			d.record(hctx, event, h.ID(), store.DispatchStatusFailed, err.Error())
			continue
		}

		result.Succeeded = append(result.Succeeded, h.ID())
		if len(reqs) > 0 {
			d.logger.InfoContext(hctx, "rule handler spawned tasks",
				slog.String("event", event.Key()),
				slog.Int("tasks", len(reqs)),
			)
		}
		d.record(hctx, event, h.ID(), store.DispatchStatusSucceeded, "")
	}

	return result, nil
}

// spawn forwards a handler's task requests to the task creator. The first
// creation failure is returned; earlier creations stand (at-least-once).
func (d *Dispatcher) spawn(ctx context.Context, reqs []schema.TaskSpawnRequest, result *DispatchResult) error {
	for _, req := range reqs {
		taskID, err := d.tasks.CreateTask(ctx, req)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeHandlerFailed,
				"create task %q: %s", req.Title, err.Error()).WithCause(err)
		}
		result.TasksCreated = append(result.TasksCreated, taskID)
	}
	return nil
}

// record appends a dispatch audit entry. Auditing is best-effort: a log write
// failure never affects the dispatch outcome.
func (d *Dispatcher) record(ctx context.Context, event *schema.LifecycleEvent, ruleID, status, detail string) {
	if d.audit == nil {
		return
	}
	rec := &store.DispatchRecord{
		EntityKind: event.EntityKind,
		EntityID:   event.EntityID,
		EventName:  event.EventName,
		RuleID:     ruleID,
		Status:     status,
		Detail:     detail,
		OccurredAt: event.OccurredAt,
	}
	if err := d.audit.AppendDispatch(ctx, rec); err != nil {
		d.logger.WarnContext(ctx, "dispatch audit append failed",
			slog.String("error", err.Error()))
	}
}
