package calendar

import (
	"context"
	"log/slog"
	"time"

	"github.com/anferov/lexflow/internal/interval"
	"github.com/anferov/lexflow/pkg/schema"
)

// FindAvailableSlots generates conflict-free candidate slots of the given
// duration inside [windowStart, windowEnd), left to right. The sweep is linear
// in the size of the busy set: when a candidate intersects a busy interval the
// cursor jumps to that interval's end instead of re-scanning. A busy interval
// extending past windowEnd terminates the sweep. An empty result is a valid
// answer, not an error.
func FindAvailableSlots(busy interval.BusySet, windowStart, windowEnd time.Time, duration time.Duration) ([]interval.TimeInterval, error) {
	if duration <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "slot duration must be positive, got %s", duration)
	}
	if _, err := interval.New(windowStart, windowEnd); err != nil {
		return nil, err
	}

	sorted := busy.Sorted()
	slots := []interval.TimeInterval{}

	cursor := windowStart
	i := 0
	for !cursor.Add(duration).After(windowEnd) {
		// Skip busy intervals that end at or before the cursor; they can never
		// conflict with this or any later candidate.
		for i < len(sorted) && !sorted[i].End().After(cursor) {
			i++
		}

		candidate, err := interval.New(cursor, cursor.Add(duration))
		if err != nil {
			return nil, err
		}

		if i < len(sorted) && candidate.Overlaps(sorted[i]) {
			// Jump past the conflicting interval. If it runs beyond the window
			// no further candidate can fit.
			cursor = sorted[i].End()
			if cursor.Add(duration).After(windowEnd) {
				break
			}
			continue
		}

		slots = append(slots, candidate)
		cursor = candidate.End()
	}

	return slots, nil
}

// CheckConflicts returns every busy interval strictly overlapping the
// candidate, ordered by start ascending. Back-to-back intervals that only
// touch at a boundary are not conflicts. Booking validation and slot
// generation share the one overlap predicate on TimeInterval.
func CheckConflicts(busy interval.BusySet, candidate interval.TimeInterval) []interval.TimeInterval {
	conflicts := []interval.TimeInterval{}
	for _, b := range busy.Sorted() {
		if candidate.Overlaps(b) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts
}

// WorkingHours bounds the day-level availability window.
type WorkingHours struct {
	StartHour int
	EndHour   int
}

// DefaultWorkingHours matches the practice's standard office day.
var DefaultWorkingHours = WorkingHours{StartHour: 9, EndHour: 18}

// Window returns the working-hours interval for the calendar day containing t,
// in t's location.
func (wh WorkingHours) Window(t time.Time) (interval.TimeInterval, error) {
	y, m, d := t.Date()
	return interval.New(
		time.Date(y, m, d, wh.StartHour, 0, 0, 0, t.Location()),
		time.Date(y, m, d, wh.EndHour, 0, 0, 0, t.Location()),
	)
}

// BusySource supplies a subject's committed intervals over a query range.
// Satisfied by the store (calendar events plus hearings).
type BusySource interface {
	ListEventsInRange(ctx context.Context, subjectID string, start, end time.Time) ([]interval.TimeInterval, error)
}

// Engine answers availability queries for one subject at a time. It holds no
// state between calls; every query fetches a fresh busy set, so staleness is
// bounded by the source, not by the engine.
type Engine struct {
	source BusySource
	hours  WorkingHours
	logger *slog.Logger
}

// NewEngine creates an availability engine over the given busy source.
func NewEngine(source BusySource, hours WorkingHours, logger *slog.Logger) *Engine {
	if hours.StartHour == 0 && hours.EndHour == 0 {
		hours = DefaultWorkingHours
	}
	return &Engine{source: source, hours: hours, logger: logger}
}

// DaySlots returns the free slots of the given duration within the subject's
// working hours on the day containing day.
func (e *Engine) DaySlots(ctx context.Context, subjectID string, day time.Time, duration time.Duration) ([]interval.TimeInterval, error) {
	window, err := e.hours.Window(day)
	if err != nil {
		return nil, err
	}

	busy, err := e.source.ListEventsInRange(ctx, subjectID, window.Start(), window.End())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list busy intervals").WithCause(err)
	}

	slots, err := FindAvailableSlots(interval.BusySet(busy), window.Start(), window.End(), duration)
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "computed day slots",
		slog.String("subject_id", subjectID),
		slog.Int("busy", len(busy)),
		slog.Int("free", len(slots)),
	)
	return slots, nil
}

// ValidateBooking returns the busy intervals a proposed booking would collide
// with. An empty result means the booking is conflict-free.
func (e *Engine) ValidateBooking(ctx context.Context, subjectID string, candidate interval.TimeInterval) ([]interval.TimeInterval, error) {
	busy, err := e.source.ListEventsInRange(ctx, subjectID, candidate.Start(), candidate.End())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list busy intervals").WithCause(err)
	}
	return CheckConflicts(interval.BusySet(busy), candidate), nil
}
