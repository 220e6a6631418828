package rules

import (
	"context"

	"github.com/anferov/lexflow/pkg/schema"
)

// Handler is one unit of business logic bound to a lifecycle event key. It
// decides against the event payload alone (no re-fetch of the triggering
// entity) and produces zero or more follow-up task requests.
type Handler interface {
	// ID identifies the handler for idempotent registration and for failure
	// reporting. Stable across process restarts.
	ID() string
	Evaluate(ctx context.Context, event *schema.LifecycleEvent) ([]schema.TaskSpawnRequest, error)
}

// HandlerFunc adapts a function to the Handler interface. Register the
// pointer form so handler identity comparisons stay well-defined.
type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, event *schema.LifecycleEvent) ([]schema.TaskSpawnRequest, error)
}

func (h *HandlerFunc) ID() string { return h.Name }

func (h *HandlerFunc) Evaluate(ctx context.Context, event *schema.LifecycleEvent) ([]schema.TaskSpawnRequest, error) {
	return h.Fn(ctx, event)
}

// HandlerFailure records one handler's error during a dispatch.
type HandlerFailure struct {
	HandlerID string `json:"handler_id"`
	Err       error  `json:"-"`
}

// DispatchResult aggregates per-handler outcomes of one dispatch. Handler
// failures never abort the batch; they are collected here so the caller can
// log or alert without losing the successes.
type DispatchResult struct {
	Succeeded    []string           `json:"succeeded"`
	Failed       []HandlerFailure   `json:"failed,omitempty"`
	TasksCreated []string           `json:"tasks_created,omitempty"`
}

// Ok reports whether every handler succeeded.
func (r *DispatchResult) Ok() bool {
	return len(r.Failed) == 0
}
