package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anferov/lexflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCase(t *testing.T, s *LibSQLStore, status schema.CaseStatus, stage schema.CaseStage) *Case {
	t.Helper()
	c := &Case{
		Title:    "Ivanov v. Petrov",
		Status:   status,
		Stage:    stage,
		LawyerID: uuid.NewString(),
	}
	require.NoError(t, s.CreateCase(context.Background(), c))
	return c
}

// --- Case Tests ---

func TestCreateAndGetCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	decision := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Case{
		Title:        "Estate dispute",
		Status:       schema.CaseStatusClosed,
		Stage:        schema.CaseStageAppeal,
		DecisionDate: &decision,
		LawyerID:     "lawyer-1",
		ClientID:     "client-1",
	}
	require.NoError(t, s.CreateCase(ctx, c))
	require.NotEmpty(t, c.ID)

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Estate dispute", got.Title)
	assert.Equal(t, schema.CaseStatusClosed, got.Status)
	assert.Equal(t, "lawyer-1", got.LawyerID)
	assert.Equal(t, "client-1", got.ClientID)
	require.NotNil(t, got.DecisionDate)
	assert.WithinDuration(t, decision, *got.DecisionDate, time.Second)
}

func TestGetCase_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCase(context.Background(), "nonexistent")
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestUpdateCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s, schema.CaseStatusOpen, schema.CaseStageLitigation)

	closed := schema.CaseStatusClosed
	decision := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateCase(ctx, c.ID, CaseUpdate{Status: &closed, DecisionDate: &decision}))

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.CaseStatusClosed, got.Status)
	assert.Equal(t, schema.CaseStageLitigation, got.Stage)
	require.NotNil(t, got.DecisionDate)
	assert.WithinDuration(t, decision, *got.DecisionDate, time.Second)
}

func TestUpdateCase_NotFound(t *testing.T) {
	s := newTestStore(t)
	closed := schema.CaseStatusClosed
	err := s.UpdateCase(context.Background(), "nonexistent", CaseUpdate{Status: &closed})
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

// --- Hearing Tests ---

func TestCreateAndListHearings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s, schema.CaseStatusOpen, schema.CaseStageLitigation)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		h := &Hearing{
			CaseID:       c.ID,
			Title:        "Preliminary hearing",
			ScheduledFor: base.AddDate(0, 0, i*7),
		}
		require.NoError(t, s.CreateHearing(ctx, h))
		assert.Equal(t, schema.HearingStatusScheduled, h.Status)
	}

	all, err := s.ListHearings(ctx, HearingFilter{CaseID: c.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].ScheduledFor.Before(all[1].ScheduledFor))

	after := base.AddDate(0, 0, 1)
	upcoming, err := s.ListHearings(ctx, HearingFilter{CaseID: c.ID, ScheduledAfter: &after, Limit: 1})
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.WithinDuration(t, base.AddDate(0, 0, 7), upcoming[0].ScheduledFor, time.Second)
}

// --- Task Tests ---

func TestCreateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	id, err := s.CreateTask(ctx, schema.TaskSpawnRequest{
		Title:      "Prepare appeal",
		DueDate:    due,
		AssigneeID: "lawyer-1",
		Priority:   schema.TaskPriorityHigh,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Prepare appeal", got.Title)
	assert.Equal(t, schema.TaskPriorityHigh, got.Priority)
	assert.Equal(t, schema.TaskStatusTodo, got.Status)
	assert.WithinDuration(t, due, got.DueDate, time.Second)
}

func TestCreateTask_DefaultsPriority(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateTask(context.Background(), schema.TaskSpawnRequest{
		Title:      "Review file",
		DueDate:    time.Now().AddDate(0, 0, 7),
		AssigneeID: "lawyer-1",
	})
	require.NoError(t, err)

	got, err := s.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, schema.TaskPriorityMedium, got.Priority)
}

func TestCreateTask_Validation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTask(context.Background(), schema.TaskSpawnRequest{AssigneeID: "lawyer-1"})
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)

	_, err = s.CreateTask(context.Background(), schema.TaskSpawnRequest{Title: "Orphan task"})
	require.Error(t, err)
}

func TestListTasks_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, assignee := range []string{"lawyer-1", "lawyer-1", "lawyer-2"} {
		_, err := s.CreateTask(ctx, schema.TaskSpawnRequest{
			Title:      "Task",
			DueDate:    base.AddDate(0, 0, i),
			AssigneeID: assignee,
		})
		require.NoError(t, err)
	}

	mine, err := s.ListTasks(ctx, TaskFilter{AssigneeID: "lawyer-1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	before := base.AddDate(0, 0, 1)
	early, err := s.ListTasks(ctx, TaskFilter{DueBefore: &before})
	require.NoError(t, err)
	assert.Len(t, early, 1)
}

// --- Calendar Tests ---

func TestListEventsInRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	mk := func(startH, endH int, status string) *CalendarEvent {
		return &CalendarEvent{
			SubjectID: "lawyer-1",
			Title:     "Meeting",
			StartTime: day.Add(time.Duration(startH) * time.Hour),
			EndTime:   day.Add(time.Duration(endH) * time.Hour),
			Status:    status,
		}
	}
	require.NoError(t, s.CreateEvent(ctx, mk(9, 10, EventStatusScheduled)))
	require.NoError(t, s.CreateEvent(ctx, mk(11, 12, EventStatusCancelled)))
	require.NoError(t, s.CreateEvent(ctx, mk(20, 21, EventStatusScheduled)))

	// Other subjects must not leak in.
	other := mk(9, 10, EventStatusScheduled)
	other.SubjectID = "lawyer-2"
	require.NoError(t, s.CreateEvent(ctx, other))

	busy, err := s.ListEventsInRange(ctx, "lawyer-1", day.Add(8*time.Hour), day.Add(18*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, day.Add(9*time.Hour), busy[0].Start().UTC())
	assert.Equal(t, day.Add(10*time.Hour), busy[0].End().UTC())
}

func TestListEventsInRange_AllDayWidened(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	ev := &CalendarEvent{
		SubjectID: "lawyer-1",
		Title:     "Court holiday",
		StartTime: day.Add(10 * time.Hour),
		EndTime:   day.Add(11 * time.Hour),
		AllDay:    true,
	}
	require.NoError(t, s.CreateEvent(ctx, ev))

	busy, err := s.ListEventsInRange(ctx, "lawyer-1", day.Add(8*time.Hour), day.Add(18*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, day, busy[0].Start().UTC())
	assert.Equal(t, day.AddDate(0, 0, 1), busy[0].End().UTC())
}

func TestCreateEvent_InvalidInterval(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	err := s.CreateEvent(context.Background(), &CalendarEvent{
		SubjectID: "lawyer-1",
		Title:     "Backwards",
		StartTime: day.Add(10 * time.Hour),
		EndTime:   day.Add(9 * time.Hour),
	})
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeInvalidInterval, flowErr.Code)
}

// --- Notification Tests ---

func TestCreateNotification_Dedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	n := &Notification{
		UserID:        "lawyer-1",
		Title:         "Task due tomorrow",
		ReferenceKind: "task",
		ReferenceID:   "task-1",
		DueAt:         due,
	}
	created, err := s.CreateNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &Notification{
		UserID:        "lawyer-1",
		Title:         "Task due tomorrow",
		ReferenceKind: "task",
		ReferenceID:   "task-1",
		DueAt:         due,
	}
	created, err = s.CreateNotification(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	all, err := s.ListNotifications(ctx, "lawyer-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// --- Workflow Tests ---

func TestTemplateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tpl := &schema.WorkflowTemplate{
		Name: "Civil litigation",
		Steps: []schema.WorkflowStep{
			{ID: "intake", Name: "Client intake", Order: 1, Required: true},
			{ID: "filing", Name: "File claim", Order: 2, Required: true, AutoComplete: true},
		},
	}
	require.NoError(t, s.StoreTemplate(ctx, tpl))

	got, err := s.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Civil litigation", got.Name)
	require.Len(t, got.Steps, 2)
	assert.True(t, got.Steps[1].AutoComplete)
}

func TestSaveCaseWorkflow_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s, schema.CaseStatusOpen, schema.CaseStagePreLitigation)

	tpl := &schema.WorkflowTemplate{
		Name:  "Basic",
		Steps: []schema.WorkflowStep{{ID: "s1", Name: "Step 1", Order: 1}},
	}
	require.NoError(t, s.StoreTemplate(ctx, tpl))

	wf := &schema.CaseWorkflow{
		ID:            uuid.NewString(),
		CaseID:        c.ID,
		TemplateID:    tpl.ID,
		CurrentStepID: "s1",
		Status:        schema.WorkflowStatusInProgress,
	}
	require.NoError(t, s.SaveCaseWorkflow(ctx, wf))

	done := time.Now().UTC()
	wf.Status = schema.WorkflowStatusCompleted
	wf.CompletedAt = &done
	require.NoError(t, s.SaveCaseWorkflow(ctx, wf))

	got, err := s.GetCaseWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

// --- Dispatch Log Tests ---

func TestAppendDispatch_Sequencing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dl := NewDispatchLog(s)

	occurred := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, rule := range []string{"case.appeal_deadline", "case.client_followup"} {
		rec := &DispatchRecord{
			EntityKind: schema.EntityCase,
			EntityID:   "case-1",
			EventName:  schema.EventAfterUpdate,
			RuleID:     rule,
			Status:     DispatchStatusSucceeded,
			OccurredAt: occurred,
		}
		require.NoError(t, dl.AppendDispatch(ctx, rec))
		assert.Equal(t, int64(i+1), rec.Sequence)
	}

	// Sequences are per entity, not global.
	other := &DispatchRecord{
		EntityKind: schema.EntityCase,
		EntityID:   "case-2",
		EventName:  schema.EventAfterUpdate,
		RuleID:     "case.review",
		Status:     DispatchStatusFailed,
		Detail:     "store unavailable",
		OccurredAt: occurred,
	}
	require.NoError(t, dl.AppendDispatch(ctx, other))
	assert.Equal(t, int64(1), other.Sequence)

	recs, err := dl.GetDispatches(ctx, schema.EntityCase, "case-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "case.appeal_deadline", recs[0].RuleID)
	assert.Equal(t, "case.client_followup", recs[1].RuleID)
	assert.Equal(t, int64(2), recs[1].Sequence)
}
