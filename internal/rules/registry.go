package rules

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/anferov/lexflow/pkg/schema"
)

// Registry maps (entityKind, eventName) keys to ordered handler lists. It is
// append-only during process startup and read-only once frozen; concurrent
// dispatch reads the binding table without locking after the freeze barrier.
type Registry struct {
	mu       sync.Mutex
	frozen   atomic.Bool
	bindings map[string][]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string][]Handler),
	}
}

// Register binds a handler to an event key, preserving registration order.
// Registration is idempotent by (entityKind, eventName, handler ID): binding
// the same handler to the same key again is a no-op, so repeated process
// initialization is safe. Binding a different handler under an already-used
// ID for the same key is a startup conflict.
func (r *Registry) Register(entityKind, eventName string, h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	if h.ID() == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler ID is empty")
	}
	if entityKind == "" || eventName == "" {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"event key must be fully qualified, got (%q, %q)", entityKind, eventName)
	}
	if r.frozen.Load() {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"registry is frozen; cannot register %q after dispatch has begun", h.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := entityKind + "." + eventName
	for _, existing := range r.bindings[key] {
		if existing.ID() != h.ID() {
			continue
		}
		if handlerEqual(existing, h) {
			return nil // same handler, same key: no-op
		}
		return schema.NewErrorf(schema.ErrCodeConflict,
			"handler %q already registered for %s with a different implementation", h.ID(), key).
			WithRule(h.ID())
	}

	r.bindings[key] = append(r.bindings[key], h)
	return nil
}

// handlerEqual decides whether two handlers with the same ID are the same
// registration. Handlers of the same dynamic type are considered identical so
// that repeated initialization (which constructs fresh instances) stays a
// no-op; a same ID on a different type is a genuine collision.
func handlerEqual(a, b Handler) bool {
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}

// Freeze ends the registration phase. After Freeze the binding table is
// immutable and HandlersFor needs no lock. Idempotent.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether the registration phase has ended.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// HandlersFor returns the ordered handler list for an event key. A missing
// key yields an empty list; unknown events are not errors.
func (r *Registry) HandlersFor(entityKind, eventName string) []Handler {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return r.bindings[entityKind+"."+eventName]
}

// Count returns the total number of bound handlers across all keys.
func (r *Registry) Count() int {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	n := 0
	for _, hs := range r.bindings {
		n += len(hs)
	}
	return n
}
