// Package store persists tasks and workers in SQLite. Task updates are
// guarded by a per-row version counter so concurrent state transitions
// resolve to exactly one winner.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contabix/dispatch/internal/clock"
	"github.com/contabix/dispatch/internal/db"
	"github.com/contabix/dispatch/internal/model"
)

// TaskStore provides CRUD and predicate queries over tasks.
type TaskStore struct {
	db  *sql.DB
	clk clock.Clock
}

// NewTaskStore creates a TaskStore over an open database.
func NewTaskStore(database *db.DB, clk clock.Clock) *TaskStore {
	return &TaskStore{db: database.SQL(), clk: clk}
}

const taskColumns = `id, tenant_id, kind, title, description, priority, state,
	assigned_worker_id, created_at, due_at, completed_at, estimated_hours,
	required_documents, period, version`

// Create inserts a new task and returns it with generated fields filled in.
// An empty state defaults to pending. The completed-at and assignment
// invariants are enforced up front rather than left to drift.
func (s *TaskStore) Create(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = model.StatePending
	}
	if !model.ValidStoredState(t.State) {
		return model.Task{}, fmt.Errorf("%w: cannot create task in state %q", ErrInvalidTransition, t.State)
	}
	if (t.CompletedAt != nil) != (t.State == model.StateCompleted) {
		return model.Task{}, fmt.Errorf("%w: completed_at must be set exactly when state is completed", ErrInvalidTransition)
	}
	if t.AssignedWorkerID != "" && t.State == model.StatePending {
		return model.Task{}, fmt.Errorf("%w: pending task cannot carry an assignment", ErrInvalidTransition)
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	if t.DueAt.IsZero() {
		return model.Task{}, fmt.Errorf("task %s: due date is required", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clk.Now()
	}
	t.Version = 1

	if t.AssignedWorkerID != "" {
		if err := s.workerExists(ctx, t.AssignedWorkerID); err != nil {
			return model.Task{}, err
		}
	}

	docs, err := json.Marshal(t.RequiredDocuments)
	if err != nil {
		return model.Task{}, fmt.Errorf("marshaling required documents: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, tenant_id, kind, title, description, priority, state,
			assigned_worker_id, created_at, due_at, completed_at, estimated_hours,
			required_documents, period, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, string(t.Kind), t.Title, t.Description, string(t.Priority),
		string(t.State), nullString(t.AssignedWorkerID), t.CreatedAt, t.DueAt,
		nullTime(t.CompletedAt), t.EstimatedHours, string(docs), t.Period, t.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Task{}, fmt.Errorf("%w: tenant %s kind %s period %s", ErrDuplicate, t.TenantID, t.Kind, t.Period)
		}
		return model.Task{}, fmt.Errorf("inserting task: %w", err)
	}

	return t, nil
}

// Get returns the task with the given id.
func (s *TaskStore) Get(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return model.Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("querying task %s: %w", id, err)
	}
	return t, nil
}

// TaskUpdate describes a partial update. Nil fields are left unchanged.
type TaskUpdate struct {
	Title             *string
	Description       *string
	Priority          *model.Priority
	State             *model.State
	AssignedWorkerID  *string
	DueAt             *time.Time
	EstimatedHours    *float64
	RequiredDocuments *[]string
}

// Update applies a partial update with compare-and-swap on the version
// counter. State changes are validated against the lifecycle; a lost
// version race returns ErrConflict. Completed tasks are immutable, so
// any update against one fails, including a repeated completion.
func (s *TaskStore) Update(ctx context.Context, id string, u TaskUpdate) (model.Task, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if cur.Terminal() {
		return model.Task{}, fmt.Errorf("%w: task %s is completed", ErrInvalidTransition, id)
	}

	next := cur
	if u.Title != nil {
		next.Title = *u.Title
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
	}
	if u.EstimatedHours != nil {
		next.EstimatedHours = *u.EstimatedHours
	}
	if u.RequiredDocuments != nil {
		next.RequiredDocuments = *u.RequiredDocuments
	}
	if u.DueAt != nil {
		next.DueAt = *u.DueAt
	}
	if u.AssignedWorkerID != nil {
		if *u.AssignedWorkerID == "" {
			return model.Task{}, fmt.Errorf("%w: cannot unassign task %s", ErrInvalidTransition, id)
		}
		if cur.AssignedWorkerID != "" && *u.AssignedWorkerID != cur.AssignedWorkerID {
			return model.Task{}, fmt.Errorf("%w: task %s already has a worker", ErrInvalidTransition, id)
		}
		next.AssignedWorkerID = *u.AssignedWorkerID
	}

	if u.State != nil {
		if !model.ValidStoredState(*u.State) {
			return model.Task{}, fmt.Errorf("%w: %q is not a storable state", ErrInvalidTransition, *u.State)
		}
		if !model.CanTransition(cur.State, *u.State) {
			return model.Task{}, fmt.Errorf("%w: %s -> %s for task %s", ErrInvalidTransition, cur.State, *u.State, id)
		}
		next.State = *u.State
		switch next.State {
		case model.StateInProgress:
			if next.AssignedWorkerID == "" {
				return model.Task{}, fmt.Errorf("%w: starting task %s requires a worker", ErrInvalidTransition, id)
			}
		case model.StateCompleted:
			now := s.clk.Now()
			next.CompletedAt = &now
		}
	}

	if next.State == model.StatePending && next.AssignedWorkerID != "" {
		return model.Task{}, fmt.Errorf("%w: pending task %s cannot carry an assignment", ErrInvalidTransition, id)
	}
	if next.AssignedWorkerID != "" && next.AssignedWorkerID != cur.AssignedWorkerID {
		if err := s.workerExists(ctx, next.AssignedWorkerID); err != nil {
			return model.Task{}, err
		}
	}

	docs, err := json.Marshal(next.RequiredDocuments)
	if err != nil {
		return model.Task{}, fmt.Errorf("marshaling required documents: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, priority = ?, state = ?,
			assigned_worker_id = ?, due_at = ?, completed_at = ?,
			estimated_hours = ?, required_documents = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		next.Title, next.Description, string(next.Priority), string(next.State),
		nullString(next.AssignedWorkerID), next.DueAt, nullTime(next.CompletedAt),
		next.EstimatedHours, string(docs), id, cur.Version,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("updating task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Task{}, fmt.Errorf("updating task %s: %w", id, err)
	}
	if n == 0 {
		// Either the row vanished or another writer bumped the version.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return model.Task{}, getErr
		}
		return model.Task{}, fmt.Errorf("%w: task %s", ErrConflict, id)
	}

	next.Version = cur.Version + 1
	return next, nil
}

// Assign commits an assignment: sets the worker and transitions
// pending -> in_progress as one atomic update. The statement itself
// requires an unassigned pending row, so two callers racing for the same
// task resolve to exactly one winner.
func (s *TaskStore) Assign(ctx context.Context, id, workerID string) (model.Task, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if err := s.workerExists(ctx, workerID); err != nil {
		return model.Task{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = ?, assigned_worker_id = ?, version = version + 1
		WHERE id = ? AND state = ? AND assigned_worker_id IS NULL AND version = ?`,
		string(model.StateInProgress), workerID, id, string(model.StatePending), cur.Version,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("assigning task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Task{}, fmt.Errorf("assigning task %s: %w", id, err)
	}
	if n == 0 {
		latest, getErr := s.Get(ctx, id)
		if getErr != nil {
			return model.Task{}, getErr
		}
		if latest.State != model.StatePending || latest.AssignedWorkerID != "" {
			return model.Task{}, fmt.Errorf("%w: task %s is %s and already assigned", ErrInvalidTransition, id, latest.State)
		}
		return model.Task{}, fmt.Errorf("%w: task %s", ErrConflict, id)
	}

	cur.State = model.StateInProgress
	cur.AssignedWorkerID = workerID
	cur.Version++
	return cur, nil
}

// Reassign moves an in_progress task to a different worker.
func (s *TaskStore) Reassign(ctx context.Context, id, workerID string) (model.Task, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if cur.State != model.StateInProgress {
		return model.Task{}, fmt.Errorf("%w: cannot reassign %s task %s", ErrInvalidTransition, cur.State, id)
	}
	if err := s.workerExists(ctx, workerID); err != nil {
		return model.Task{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET assigned_worker_id = ?, version = version + 1
		WHERE id = ? AND state = ? AND version = ?`,
		workerID, id, string(model.StateInProgress), cur.Version,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("reassigning task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Task{}, fmt.Errorf("reassigning task %s: %w", id, err)
	}
	if n == 0 {
		return model.Task{}, fmt.Errorf("%w: task %s", ErrConflict, id)
	}

	cur.AssignedWorkerID = workerID
	cur.Version++
	return cur, nil
}

// Complete transitions in_progress -> completed and stamps completed_at.
func (s *TaskStore) Complete(ctx context.Context, id string) (model.Task, error) {
	state := model.StateCompleted
	return s.Update(ctx, id, TaskUpdate{State: &state})
}

// Reschedule changes the due date of a non-completed task.
func (s *TaskStore) Reschedule(ctx context.Context, id string, dueAt time.Time) (model.Task, error) {
	return s.Update(ctx, id, TaskUpdate{DueAt: &dueAt})
}

// Filter selects tasks in Query. Zero values mean "no constraint".
type Filter struct {
	TenantID   string
	Kind       model.Kind
	States     []model.State
	WorkerID   string
	Unassigned bool
}

// Query returns tasks matching the filter, ordered by creation time then id
// so batch processing is stable.
func (s *TaskStore) Query(ctx context.Context, f Filter) ([]model.Task, error) {
	var (
		conds []string
		args  []any
	)
	if f.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if len(f.States) > 0 {
		ph := make([]string, len(f.States))
		for i, st := range f.States {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "state IN ("+strings.Join(ph, ", ")+")")
	}
	if f.WorkerID != "" {
		conds = append(conds, "assigned_worker_id = ?")
		args = append(args, f.WorkerID)
	}
	if f.Unassigned {
		conds = append(conds, "assigned_worker_id IS NULL")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// ListPendingUnassigned returns the scheduler's work queue in creation order.
func (s *TaskStore) ListPendingUnassigned(ctx context.Context) ([]model.Task, error) {
	return s.Query(ctx, Filter{States: []model.State{model.StatePending}, Unassigned: true})
}

// ListAssigned returns every task that carries a worker assignment,
// for load and efficiency derivation.
func (s *TaskStore) ListAssigned(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE assigned_worker_id IS NOT NULL ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying assigned tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assigned tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskStore) workerExists(ctx context.Context, workerID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM workers WHERE id = ?`, workerID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: worker %s", ErrNotFound, workerID)
	}
	if err != nil {
		return fmt.Errorf("checking worker %s: %w", workerID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t           model.Task
		kind        string
		priority    string
		state       string
		workerID    sql.NullString
		completedAt sql.NullTime
		docs        string
		period      sql.NullString
	)
	err := row.Scan(&t.ID, &t.TenantID, &kind, &t.Title, &t.Description, &priority,
		&state, &workerID, &t.CreatedAt, &t.DueAt, &completedAt, &t.EstimatedHours,
		&docs, &period, &t.Version)
	if err != nil {
		return model.Task{}, err
	}
	t.Kind = model.Kind(kind)
	t.Priority = model.Priority(priority)
	t.State = model.State(state)
	if workerID.Valid {
		t.AssignedWorkerID = workerID.String
	}
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	if period.Valid {
		t.Period = period.String
	}
	if docs != "" && docs != "null" {
		if err := json.Unmarshal([]byte(docs), &t.RequiredDocuments); err != nil {
			return model.Task{}, fmt.Errorf("unmarshaling required documents: %w", err)
		}
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
