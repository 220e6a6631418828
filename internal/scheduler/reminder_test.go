package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anferov/lexflow/internal/store"
	"github.com/anferov/lexflow/pkg/schema"
)

// mockReminderStore satisfies store.Store for sweeper tests.
type mockReminderStore struct {
	store.Store
	mu            sync.Mutex
	tasks         []*store.Task
	hearings      []*store.Hearing
	cases         map[string]*store.Case
	notifications []*store.Notification
}

func newMockReminderStore() *mockReminderStore {
	return &mockReminderStore{cases: make(map[string]*store.Case)}
}

func (m *mockReminderStore) ListTasks(_ context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Task
	for _, t := range m.tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.DueAfter != nil && t.DueDate.Before(*filter.DueAfter) {
			continue
		}
		if filter.DueBefore != nil && !t.DueDate.Before(*filter.DueBefore) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockReminderStore) ListHearings(_ context.Context, filter store.HearingFilter) ([]*store.Hearing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Hearing
	for _, h := range m.hearings {
		if filter.ScheduledAfter != nil && h.ScheduledFor.Before(*filter.ScheduledAfter) {
			continue
		}
		if filter.ScheduledBefore != nil && !h.ScheduledFor.Before(*filter.ScheduledBefore) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (m *mockReminderStore) GetCase(_ context.Context, id string) (*store.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "case %q not found", id)
	}
	return c, nil
}

func (m *mockReminderStore) CreateNotification(_ context.Context, n *store.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.notifications {
		if existing.UserID == n.UserID && existing.ReferenceKind == n.ReferenceKind &&
			existing.ReferenceID == n.ReferenceID && existing.DueAt.Equal(n.DueAt) {
			return false, nil
		}
	}
	m.notifications = append(m.notifications, n)
	return true, nil
}

func newTestSweeper(t *testing.T, s store.Store, now time.Time) *ReminderSweeper {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper, err := NewReminderSweeper(s, DefaultConfig(), logger, func() time.Time { return now })
	require.NoError(t, err)
	return sweeper
}

func TestNewReminderSweeper_BadSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewReminderSweeper(newMockReminderStore(), Config{Schedule: "not a cron"}, logger, nil)
	require.Error(t, err)
}

func TestSweep_TaskReminders(t *testing.T) {
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	s := newMockReminderStore()
	s.tasks = []*store.Task{
		{ID: "t1", Title: "Prepare appeal", AssigneeID: "lawyer-1", Status: schema.TaskStatusTodo, DueDate: now.Add(6 * time.Hour)},
		{ID: "t2", Title: "Far future", AssigneeID: "lawyer-1", Status: schema.TaskStatusTodo, DueDate: now.Add(80 * time.Hour)},
		{ID: "t3", Title: "Already done", AssigneeID: "lawyer-1", Status: schema.TaskStatusDone, DueDate: now.Add(6 * time.Hour)},
	}
	sweeper := newTestSweeper(t, s, now)

	created, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.Len(t, s.notifications, 1)
	assert.Equal(t, "task", s.notifications[0].ReferenceKind)
	assert.Equal(t, "t1", s.notifications[0].ReferenceID)
	assert.Equal(t, "lawyer-1", s.notifications[0].UserID)
}

func TestSweep_HearingReminders(t *testing.T) {
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	s := newMockReminderStore()
	s.cases["case-1"] = &store.Case{ID: "case-1", Title: "Estate dispute", LawyerID: "lawyer-2"}
	s.hearings = []*store.Hearing{
		{ID: "h1", CaseID: "case-1", Title: "Preliminary hearing", Status: schema.HearingStatusScheduled, ScheduledFor: now.Add(48 * time.Hour)},
		{ID: "h2", CaseID: "case-1", Title: "Cancelled", Status: schema.HearingStatusCancelled, ScheduledFor: now.Add(48 * time.Hour)},
		{ID: "h3", CaseID: "missing", Title: "Orphan", Status: schema.HearingStatusScheduled, ScheduledFor: now.Add(24 * time.Hour)},
	}
	sweeper := newTestSweeper(t, s, now)

	created, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.Len(t, s.notifications, 1)
	assert.Equal(t, "hearing", s.notifications[0].ReferenceKind)
	assert.Equal(t, "h1", s.notifications[0].ReferenceID)
	assert.Equal(t, "lawyer-2", s.notifications[0].UserID)
}

func TestSweep_Idempotent(t *testing.T) {
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	s := newMockReminderStore()
	s.tasks = []*store.Task{
		{ID: "t1", Title: "Prepare appeal", AssigneeID: "lawyer-1", Status: schema.TaskStatusTodo, DueDate: now.Add(6 * time.Hour)},
	}
	sweeper := newTestSweeper(t, s, now)

	created, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Len(t, s.notifications, 1)
}

func TestStartStop(t *testing.T) {
	sweeper := newTestSweeper(t, newMockReminderStore(), time.Now())

	require.NoError(t, sweeper.Start(context.Background()))
	require.Error(t, sweeper.Start(context.Background()))

	sweeper.Stop()
	// Stop again is a no-op.
	sweeper.Stop()

	require.NoError(t, sweeper.Start(context.Background()))
	sweeper.Stop()
}
