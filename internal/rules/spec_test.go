package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anferov/lexflow/pkg/schema"
)

func testEngines(t *testing.T, now time.Time) *SpecEngines {
	t.Helper()
	engines, err := NewSpecEngines(func() time.Time { return now })
	require.NoError(t, err)
	return engines
}

func TestCompileSpec_Validation(t *testing.T) {
	engines := testEngines(t, time.Now())

	valid := RuleSpec{
		ID:         "case.custom",
		EntityKind: schema.EntityCase,
		EventName:  schema.EventAfterUpdate,
		Title:      "Do something",
		Due:        `now + duration("24h")`,
		Assignee:   "payload.lawyer_id",
	}

	tests := []struct {
		name   string
		mutate func(*RuleSpec)
	}{
		{"missing id", func(s *RuleSpec) { s.ID = "" }},
		{"missing entity kind", func(s *RuleSpec) { s.EntityKind = "" }},
		{"missing title", func(s *RuleSpec) { s.Title = "" }},
		{"missing due", func(s *RuleSpec) { s.Due = "" }},
		{"missing assignee", func(s *RuleSpec) { s.Assignee = "" }},
		{"malformed guard", func(s *RuleSpec) { s.Guard = "payload.status ==" }},
		{"malformed context jq", func(s *RuleSpec) { s.Context = map[string]string{"x": ".payload["} }},
		{"malformed due formula", func(s *RuleSpec) { s.Due = "now +" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			tt.mutate(&spec)
			_, err := CompileSpec(spec, engines)
			require.Error(t, err)
		})
	}

	h, err := CompileSpec(valid, engines)
	require.NoError(t, err)
	assert.Equal(t, "case.custom", h.ID())
}

func TestSpecHandler_GuardAndFormulas(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	engines := testEngines(t, now)

	h, err := CompileSpec(RuleSpec{
		ID:          "case.archive_reminder",
		EntityKind:  schema.EntityCase,
		EventName:   schema.EventAfterUpdate,
		Guard:       `payload.status == "closed"`,
		Title:       "Archive case file",
		Description: `Archive the file for case "${{payload.title}}"`,
		Due:         `now + duration("72h")`,
		Priority:    "low",
		Assignee:    "payload.lawyer_id",
	}, engines)
	require.NoError(t, err)

	fires := caseEvent(schema.EventAfterUpdate, &schema.CaseSnapshot{
		Title:    "Estate dispute",
		Status:   schema.CaseStatusClosed,
		LawyerID: "lawyer-1",
	})
	reqs, err := h.Evaluate(context.Background(), fires)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "Archive case file", reqs[0].Title)
	assert.Equal(t, `Archive the file for case "Estate dispute"`, reqs[0].Description)
	assert.Equal(t, now.Add(72*time.Hour), reqs[0].DueDate.UTC())
	assert.Equal(t, schema.TaskPriorityLow, reqs[0].Priority)
	assert.Equal(t, "lawyer-1", reqs[0].AssigneeID)
	assert.Equal(t, "case-1", reqs[0].CaseID)

	silent := caseEvent(schema.EventAfterUpdate, &schema.CaseSnapshot{Status: schema.CaseStatusOpen})
	reqs, err = h.Evaluate(context.Background(), silent)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestSpecHandler_DueFromPayloadDate(t *testing.T) {
	engines := testEngines(t, time.Now())

	h, err := CompileSpec(RuleSpec{
		ID:         "case.decision_deadline",
		EntityKind: schema.EntityCase,
		EventName:  schema.EventAfterUpdate,
		Guard:      `has(payload.decision_date)`,
		Title:      "Check decision",
		Due:        `date(payload.decision_date) + duration("240h")`,
		Assignee:   "payload.lawyer_id",
	}, engines)
	require.NoError(t, err)

	decision := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reqs, err := h.Evaluate(context.Background(), caseEvent(schema.EventAfterUpdate, &schema.CaseSnapshot{
		Status:       schema.CaseStatusClosed,
		DecisionDate: &decision,
		LawyerID:     "lawyer-1",
	}))
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), reqs[0].DueDate.UTC())
}

func TestSpecHandler_HearingContext(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	engines := testEngines(t, now)

	h, err := CompileSpec(RuleSpec{
		ID:         "hearing.location_check",
		EntityKind: schema.EntityHearing,
		EventName:  schema.EventAfterInsert,
		Title:      "Confirm venue: ${{context.venue}}",
		Due:        `date(payload.scheduled_for) - duration("24h")`,
		Assignee:   `"clerk-1"`,
		Context: map[string]string{
			"venue": `.payload.location // "unknown"`,
		},
	}, engines)
	require.NoError(t, err)

	scheduled := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	reqs, err := h.Evaluate(context.Background(), &schema.LifecycleEvent{
		EntityKind: schema.EntityHearing,
		EventName:  schema.EventAfterInsert,
		EntityID:   "hearing-1",
		Payload: schema.EventPayload{Hearing: &schema.HearingSnapshot{
			CaseID:       "case-9",
			ScheduledFor: scheduled,
			Location:     "Room 4",
		}},
	})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "Confirm venue: Room 4", reqs[0].Title)
	assert.Equal(t, "hearing-1", reqs[0].HearingID)
	assert.Equal(t, "case-9", reqs[0].CaseID)
	assert.Equal(t, scheduled.Add(-24*time.Hour), reqs[0].DueDate.UTC())
}

func TestSpecHandler_AssigneeMustBeString(t *testing.T) {
	engines := testEngines(t, time.Now())

	h, err := CompileSpec(RuleSpec{
		ID:         "case.bad_assignee",
		EntityKind: schema.EntityCase,
		EventName:  schema.EventAfterUpdate,
		Title:      "x",
		Due:        `now + duration("24h")`,
		Assignee:   "42",
	}, engines)
	require.NoError(t, err)

	_, err = h.Evaluate(context.Background(), caseEvent(schema.EventAfterUpdate, &schema.CaseSnapshot{}))
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, flowErr.Code)
	assert.Equal(t, "case.bad_assignee", flowErr.RuleID)
}

func TestRegisterSpecs(t *testing.T) {
	engines := testEngines(t, time.Now())
	reg := NewRegistry()

	specs := []RuleSpec{
		{
			ID:         "case.a",
			EntityKind: schema.EntityCase,
			EventName:  schema.EventAfterUpdate,
			Title:      "A",
			Due:        `now + duration("24h")`,
			Assignee:   "payload.lawyer_id",
		},
		{
			ID:         "case.b",
			EntityKind: schema.EntityCase,
			EventName:  schema.EventAfterUpdate,
			Title:      "B",
			Due:        `now + duration("48h")`,
			Assignee:   "payload.lawyer_id",
		},
	}
	require.NoError(t, RegisterSpecs(reg, specs, engines))
	assert.Equal(t, 2, reg.Count())

	handlers := reg.HandlersFor(schema.EntityCase, schema.EventAfterUpdate)
	require.Len(t, handlers, 2)
	assert.Equal(t, "case.a", handlers[0].ID())
	assert.Equal(t, "case.b", handlers[1].ID())
}
