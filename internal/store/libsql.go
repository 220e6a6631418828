package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/anferov/lexflow/internal/interval"
	"github.com/anferov/lexflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. the dispatch log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Cases ---

func (s *LibSQLStore) CreateCase(ctx context.Context, c *Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (id, title, status, stage, decision_date, lawyer_id, client_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, string(c.Status), string(c.Stage), nullTime(c.DecisionDate),
		c.LawyerID, nullStr(c.ClientID), timeOrNow(c.CreatedAt), now,
	)
	return err
}

func (s *LibSQLStore) GetCase(ctx context.Context, id string) (*Case, error) {
	c := &Case{}
	var decision sql.NullTime
	var client sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, stage, decision_date, lawyer_id, client_id, created_at, updated_at
		 FROM cases WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.Status, &c.Stage, &decision, &c.LawyerID, &client, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("case", id)
	}
	if err != nil {
		return nil, err
	}
	if decision.Valid {
		c.DecisionDate = &decision.Time
	}
	c.ClientID = client.String
	return c, nil
}

func (s *LibSQLStore) UpdateCase(ctx context.Context, id string, update CaseUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Stage != nil {
		sets = append(sets, "stage = ?")
		args = append(args, string(*update.Stage))
	}
	if update.DecisionDate != nil {
		sets = append(sets, "decision_date = ?")
		args = append(args, *update.DecisionDate)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE cases SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "case", id)
}

// --- Hearings ---

func (s *LibSQLStore) CreateHearing(ctx context.Context, h *Hearing) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Status == "" {
		h.Status = schema.HearingStatusScheduled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hearings (id, case_id, title, status, scheduled_for, location, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.CaseID, h.Title, string(h.Status), h.ScheduledFor, nullStr(h.Location), timeOrNow(h.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetHearing(ctx context.Context, id string) (*Hearing, error) {
	h := &Hearing{}
	var location sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, title, status, scheduled_for, location, created_at
		 FROM hearings WHERE id = ?`, id,
	).Scan(&h.ID, &h.CaseID, &h.Title, &h.Status, &h.ScheduledFor, &location, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("hearing", id)
	}
	if err != nil {
		return nil, err
	}
	h.Location = location.String
	return h, nil
}

func (s *LibSQLStore) ListHearings(ctx context.Context, filter HearingFilter) ([]*Hearing, error) {
	query := `SELECT id, case_id, title, status, scheduled_for, location, created_at FROM hearings WHERE 1=1`
	var args []any

	if filter.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	if filter.ScheduledAfter != nil {
		query += ` AND scheduled_for >= ?`
		args = append(args, *filter.ScheduledAfter)
	}
	if filter.ScheduledBefore != nil {
		query += ` AND scheduled_for < ?`
		args = append(args, *filter.ScheduledBefore)
	}
	query += ` ORDER BY scheduled_for ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Hearing
	for rows.Next() {
		h := &Hearing{}
		var location sql.NullString
		if err := rows.Scan(&h.ID, &h.CaseID, &h.Title, &h.Status, &h.ScheduledFor, &location, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Location = location.String
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- Tasks ---

// CreateTask persists a spawned follow-up task and returns its assigned ID.
func (s *LibSQLStore) CreateTask(ctx context.Context, req schema.TaskSpawnRequest) (string, error) {
	if req.Title == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "task title is empty")
	}
	if req.AssigneeID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "task assignee is empty")
	}
	priority := req.Priority
	if priority == "" {
		priority = schema.TaskPriorityMedium
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, case_id, hearing_id, assignee_id, priority, status, due_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.Title, nullStr(req.Description), nullStr(req.CaseID), nullStr(req.HearingID),
		req.AssigneeID, string(priority), string(schema.TaskStatusTodo), req.DueDate, time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *LibSQLStore) GetTask(ctx context.Context, id string) (*Task, error) {
	t := &Task{}
	var desc, caseID, hearingID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, case_id, hearing_id, assignee_id, priority, status, due_date, created_at
		 FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &desc, &caseID, &hearingID, &t.AssigneeID, &t.Priority, &t.Status, &t.DueDate, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.CaseID = caseID.String
	t.HearingID = hearingID.String
	return t, nil
}

func (s *LibSQLStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := `SELECT id, title, description, case_id, hearing_id, assignee_id, priority, status, due_date, created_at
		 FROM tasks WHERE 1=1`
	var args []any

	if filter.AssigneeID != "" {
		query += ` AND assignee_id = ?`
		args = append(args, filter.AssigneeID)
	}
	if filter.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.DueAfter != nil {
		query += ` AND due_date >= ?`
		args = append(args, *filter.DueAfter)
	}
	if filter.DueBefore != nil {
		query += ` AND due_date < ?`
		args = append(args, *filter.DueBefore)
	}
	query += ` ORDER BY due_date ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t := &Task{}
		var desc, caseID, hearingID sql.NullString
		if err := rows.Scan(&t.ID, &t.Title, &desc, &caseID, &hearingID, &t.AssigneeID, &t.Priority, &t.Status, &t.DueDate, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Description = desc.String
		t.CaseID = caseID.String
		t.HearingID = hearingID.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Calendar ---

func (s *LibSQLStore) CreateEvent(ctx context.Context, ev *CalendarEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = EventStatusScheduled
	}
	if _, err := interval.New(ev.StartTime, ev.EndTime); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (id, subject_id, case_id, title, start_time, end_time, all_day, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SubjectID, nullStr(ev.CaseID), ev.Title, ev.StartTime, ev.EndTime,
		boolToInt(ev.AllDay), ev.Status, timeOrNow(ev.CreatedAt),
	)
	return err
}

// ListEventsInRange builds a subject's busy intervals over [start, end).
// Only scheduled events block availability; all-day events are widened to the
// full calendar day.
func (s *LibSQLStore) ListEventsInRange(ctx context.Context, subjectID string, start, end time.Time) ([]interval.TimeInterval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT start_time, end_time, all_day FROM calendar_events
		 WHERE subject_id = ? AND status = ? AND start_time < ? AND end_time > ?
		 ORDER BY start_time ASC`,
		subjectID, EventStatusScheduled, end, start,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []interval.TimeInterval
	for rows.Next() {
		var evStart, evEnd time.Time
		var allDay int
		if err := rows.Scan(&evStart, &evEnd, &allDay); err != nil {
			return nil, err
		}
		var iv interval.TimeInterval
		if allDay != 0 {
			iv = interval.AllDay(evStart.In(start.Location()))
		} else {
			iv, err = interval.New(evStart, evEnd)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// --- Notifications ---

func (s *LibSQLStore) CreateNotification(ctx context.Context, n *Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications (id, user_id, title, message, reference_kind, reference_id, due_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, nullStr(n.Message), n.ReferenceKind, n.ReferenceID, n.DueAt, timeOrNow(n.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *LibSQLStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	query := `SELECT id, user_id, title, message, reference_kind, reference_id, due_at, created_at
		 FROM notifications WHERE user_id = ? ORDER BY due_at ASC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var msg sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &msg, &n.ReferenceKind, &n.ReferenceID, &n.DueAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Message = msg.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Workflow templates and case workflows ---

func (s *LibSQLStore) StoreTemplate(ctx context.Context, tpl *schema.WorkflowTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	steps, err := json.Marshal(tpl.Steps)
	if err != nil {
		return fmt.Errorf("marshal template steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_templates (id, name, steps, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, steps=excluded.steps`,
		tpl.ID, tpl.Name, string(steps), time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) GetTemplate(ctx context.Context, id string) (*schema.WorkflowTemplate, error) {
	tpl := &schema.WorkflowTemplate{}
	var steps string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, steps FROM workflow_templates WHERE id = ?`, id,
	).Scan(&tpl.ID, &tpl.Name, &steps)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow template", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &tpl.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal template steps: %w", err)
	}
	return tpl, nil
}

func (s *LibSQLStore) SaveCaseWorkflow(ctx context.Context, wf *schema.CaseWorkflow) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_workflows (id, case_id, template_id, current_step_id, status, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   current_step_id=excluded.current_step_id,
		   status=excluded.status,
		   completed_at=excluded.completed_at,
		   updated_at=excluded.updated_at`,
		wf.ID, wf.CaseID, wf.TemplateID, wf.CurrentStepID, string(wf.Status),
		nullTime(wf.CompletedAt), timeOrNow(wf.CreatedAt), now,
	)
	return err
}

func (s *LibSQLStore) GetCaseWorkflow(ctx context.Context, id string) (*schema.CaseWorkflow, error) {
	wf := &schema.CaseWorkflow{}
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, template_id, current_step_id, status, completed_at, created_at, updated_at
		 FROM case_workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.CaseID, &wf.TemplateID, &wf.CurrentStepID, &wf.Status, &completed, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("case workflow", id)
	}
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		wf.CompletedAt = &completed.Time
	}
	return wf, nil
}

// --- Dispatch audit log ---

// AppendDispatch records a rule-dispatch outcome. See DispatchLog for the
// sequencing details.
func (s *LibSQLStore) AppendDispatch(ctx context.Context, rec *DispatchRecord) error {
	return NewDispatchLog(s).AppendDispatch(ctx, rec)
}

// GetDispatches returns an entity's dispatch records with sequence > since.
func (s *LibSQLStore) GetDispatches(ctx context.Context, entityKind, entityID string, since int64) ([]*DispatchRecord, error) {
	return NewDispatchLog(s).GetDispatches(ctx, entityKind, entityID, since)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
