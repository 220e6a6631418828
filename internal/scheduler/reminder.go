package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anferov/lexflow/internal/store"
	"github.com/anferov/lexflow/pkg/schema"
)

// Config controls the reminder sweep cadence and lead times.
type Config struct {
	// Schedule is a five-field cron expression for the sweep cadence.
	Schedule string
	// TaskLead is how far ahead of a task's due date its reminder fires.
	TaskLead time.Duration
	// HearingLead is how far ahead of a hearing its reminder fires.
	HearingLead time.Duration
}

// DefaultConfig sweeps every hour, reminding one day ahead of task due dates
// and three days ahead of hearings.
func DefaultConfig() Config {
	return Config{
		Schedule:    "0 * * * *",
		TaskLead:    24 * time.Hour,
		HearingLead: 72 * time.Hour,
	}
}

// ReminderSweeper periodically scans for approaching task due dates and
// hearings and writes deduplicated notifications. The store's uniqueness
// constraint makes repeated sweeps over the same items harmless.
type ReminderSweeper struct {
	store    store.Store
	cfg      Config
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReminderSweeper parses the configured cron expression and creates a
// sweeper. A nil now defaults to time.Now.
func NewReminderSweeper(s store.Store, cfg Config, logger *slog.Logger, now func() time.Time) (*ReminderSweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cfg.Schedule, err)
	}
	if now == nil {
		now = time.Now
	}
	return &ReminderSweeper{
		store:    s,
		cfg:      cfg,
		schedule: schedule,
		logger:   logger,
		now:      now,
	}, nil
}

// Start launches the background sweep loop.
func (r *ReminderSweeper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("reminder sweeper already started")
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.loop(sweepCtx, done)
	r.logger.Info("reminder sweeper started", slog.String("schedule", r.cfg.Schedule))
	return nil
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (r *ReminderSweeper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *ReminderSweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		next := r.schedule.Next(r.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reminder sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one pass and returns how many new notifications were written.
func (r *ReminderSweeper) Sweep(ctx context.Context) (int, error) {
	now := r.now().UTC()
	created := 0

	n, err := r.sweepTasks(ctx, now)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.sweepHearings(ctx, now)
	if err != nil {
		return created, err
	}
	created += n

	if created > 0 {
		r.logger.Info("reminder sweep complete", slog.Int("notifications", created))
	}
	return created, nil
}

func (r *ReminderSweeper) sweepTasks(ctx context.Context, now time.Time) (int, error) {
	horizon := now.Add(r.cfg.TaskLead)
	status := schema.TaskStatusTodo
	tasks, err := r.store.ListTasks(ctx, store.TaskFilter{
		Status:    &status,
		DueAfter:  &now,
		DueBefore: &horizon,
	})
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}

	created := 0
	for _, task := range tasks {
		ok, err := r.store.CreateNotification(ctx, &store.Notification{
			UserID:        task.AssigneeID,
			Title:         fmt.Sprintf("Task due soon: %s", task.Title),
			Message:       fmt.Sprintf("Task %q is due %s.", task.Title, task.DueDate.Format("2006-01-02 15:04")),
			ReferenceKind: "task",
			ReferenceID:   task.ID,
			DueAt:         task.DueDate,
		})
		if err != nil {
			return created, fmt.Errorf("create task reminder: %w", err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (r *ReminderSweeper) sweepHearings(ctx context.Context, now time.Time) (int, error) {
	horizon := now.Add(r.cfg.HearingLead)
	hearings, err := r.store.ListHearings(ctx, store.HearingFilter{
		ScheduledAfter:  &now,
		ScheduledBefore: &horizon,
	})
	if err != nil {
		return 0, fmt.Errorf("list upcoming hearings: %w", err)
	}

	created := 0
	for _, hearing := range hearings {
		if hearing.Status == schema.HearingStatusCancelled {
			continue
		}
		// The case lookup resolves who to notify; a missing case is logged
		// and skipped so one orphaned hearing doesn't stall the sweep.
		c, err := r.store.GetCase(ctx, hearing.CaseID)
		if err != nil {
			r.logger.Warn("skipping hearing reminder; case lookup failed",
				slog.String("hearing_id", hearing.ID),
				slog.String("case_id", hearing.CaseID),
				slog.String("error", err.Error()),
			)
			continue
		}

		ok, err := r.store.CreateNotification(ctx, &store.Notification{
			UserID:        c.LawyerID,
			Title:         fmt.Sprintf("Upcoming hearing: %s", hearing.Title),
			Message:       fmt.Sprintf("Hearing %q in case %q is scheduled for %s.", hearing.Title, c.Title, hearing.ScheduledFor.Format("2006-01-02 15:04")),
			ReferenceKind: "hearing",
			ReferenceID:   hearing.ID,
			DueAt:         hearing.ScheduledFor,
		})
		if err != nil {
			return created, fmt.Errorf("create hearing reminder: %w", err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}
