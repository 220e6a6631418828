package interval

import (
	"fmt"
	"sort"
	"time"

	"github.com/anferov/lexflow/pkg/schema"
)

// TimeInterval is an immutable half-open time range [start, end).
// Construction enforces start < end; a zero-length or inverted range is an
// invariant violation, not a runtime condition callers are expected to handle.
type TimeInterval struct {
	start time.Time
	end   time.Time
}

// New validates and creates a TimeInterval.
func New(start, end time.Time) (TimeInterval, error) {
	if start.IsZero() || end.IsZero() {
		return TimeInterval{}, schema.NewError(schema.ErrCodeInvalidInterval,
			"interval bounds must be set")
	}
	if !start.Before(end) {
		return TimeInterval{}, schema.NewErrorf(schema.ErrCodeInvalidInterval,
			"interval start %s must precede end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeInterval{start: start, end: end}, nil
}

// MustNew is New for statically known-good bounds; it panics on violation.
// Intended for tests and package-internal constants.
func MustNew(start, end time.Time) TimeInterval {
	iv, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

// AllDay returns the interval covering the calendar day containing t, in t's
// location. All-day events participate in overlap checks exactly like timed
// events.
func AllDay(t time.Time) TimeInterval {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return TimeInterval{start: start, end: start.AddDate(0, 0, 1)}
}

// Start returns the inclusive lower bound.
func (iv TimeInterval) Start() time.Time { return iv.start }

// End returns the exclusive upper bound.
func (iv TimeInterval) End() time.Time { return iv.end }

// Duration returns end - start.
func (iv TimeInterval) Duration() time.Duration { return iv.end.Sub(iv.start) }

// Overlaps reports whether the two intervals share any instant. The predicate
// is strict: back-to-back intervals that only touch at a boundary do not
// overlap. Every overlap decision in the calendar code goes through this
// single predicate.
func (iv TimeInterval) Overlaps(other TimeInterval) bool {
	return iv.start.Before(other.end) && iv.end.After(other.start)
}

// Contains reports whether t falls inside [start, end).
func (iv TimeInterval) Contains(t time.Time) bool {
	return !t.Before(iv.start) && t.Before(iv.end)
}

func (iv TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.start.Format(time.RFC3339), iv.end.Format(time.RFC3339))
}

// BusySet is the ordered collection of intervals during which one subject is
// already committed over a query window. It is built fresh per query from
// calendar-event records and never persisted.
type BusySet []TimeInterval

// Sorted returns a copy ordered by start ascending, shorter interval first on
// ties. The slot sweep relies on this order to free the earliest possible
// cursor position.
func (b BusySet) Sorted() BusySet {
	out := make(BusySet, len(b))
	copy(out, b)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].start.Equal(out[j].start) {
			return out[i].end.Before(out[j].end)
		}
		return out[i].start.Before(out[j].start)
	})
	return out
}
