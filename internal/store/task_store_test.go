package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/contabix/dispatch/internal/clock"
	"github.com/contabix/dispatch/internal/db"
	"github.com/contabix/dispatch/internal/model"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupStores(t *testing.T) (*TaskStore, *WorkerRegistry, *clock.Fake) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "dispatch.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	clk := clock.NewFake(testNow)
	return NewTaskStore(database, clk), NewWorkerRegistry(database, clk), clk
}

func newWorker(t *testing.T, reg *WorkerRegistry, name string, specialties ...model.Kind) model.Worker {
	t.Helper()

	w, err := reg.Create(context.Background(), model.Worker{
		Name:        name,
		Specialties: specialties,
		Capacity:    5,
	})
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

func newTask(t *testing.T, ts *TaskStore, tenant string, kind model.Kind) model.Task {
	t.Helper()

	task, err := ts.Create(context.Background(), model.Task{
		TenantID: tenant,
		Kind:     kind,
		Title:    string(kind) + " for " + tenant,
		DueAt:    testNow.AddDate(0, 0, 15),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateAndGet(t *testing.T) {
	ts, _, _ := setupStores(t)
	ctx := context.Background()

	task := newTask(t, ts, "acme", model.KindMonthlyClose)
	if task.ID == "" {
		t.Fatal("expected generated id")
	}
	if task.State != model.StatePending {
		t.Fatalf("expected pending state, got %s", task.State)
	}
	if task.Version != 1 {
		t.Fatalf("expected version 1, got %d", task.Version)
	}

	got, err := ts.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.TenantID != "acme" || got.Kind != model.KindMonthlyClose {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(testNow) {
		t.Fatalf("expected created_at %v, got %v", testNow, got.CreatedAt)
	}
	if got.CompletedAt != nil {
		t.Fatal("completed_at must be nil for pending task")
	}
}

func TestCreateRejectsBadInvariants(t *testing.T) {
	ts, _, _ := setupStores(t)
	ctx := context.Background()

	completed := testNow
	tests := []struct {
		name string
		task model.Task
	}{
		{
			name: "completed_at on pending",
			task: model.Task{TenantID: "acme", Kind: "k", Title: "t", DueAt: testNow, CompletedAt: &completed},
		},
		{
			name: "assignment on pending",
			task: model.Task{TenantID: "acme", Kind: "k", Title: "t", DueAt: testNow, AssignedWorkerID: "w1"},
		},
		{
			name: "overdue as stored state",
			task: model.Task{TenantID: "acme", Kind: "k", Title: "t", DueAt: testNow, State: model.StateOverdue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Create(ctx, tt.task); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}

	if _, err := ts.Create(ctx, model.Task{TenantID: "acme", Kind: "k", Title: "t"}); err == nil {
		t.Fatal("expected error for missing due date")
	}
}

func TestGetNotFound(t *testing.T) {
	ts, _, _ := setupStores(t)

	if _, err := ts.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignLifecycle(t *testing.T) {
	ts, reg, clk := setupStores(t)
	ctx := context.Background()

	worker := newWorker(t, reg, "Ana", model.KindMonthlyClose)
	task := newTask(t, ts, "acme", model.KindMonthlyClose)

	assigned, err := ts.Assign(ctx, task.ID, worker.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.State != model.StateInProgress {
		t.Fatalf("expected in_progress, got %s", assigned.State)
	}
	if assigned.AssignedWorkerID != worker.ID {
		t.Fatalf("expected worker %s, got %s", worker.ID, assigned.AssignedWorkerID)
	}
	if assigned.Version != 2 {
		t.Fatalf("expected version 2, got %d", assigned.Version)
	}

	// Second assignment attempt fails cleanly.
	if _, err := ts.Assign(ctx, task.ID, worker.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-assign, got %v", err)
	}

	clk.Advance(2 * time.Hour)
	done, err := ts.Complete(ctx, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.State != model.StateCompleted {
		t.Fatalf("expected completed, got %s", done.State)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(testNow.Add(2*time.Hour)) {
		t.Fatalf("expected completed_at stamped from clock, got %v", done.CompletedAt)
	}

	// Completed is terminal.
	if _, err := ts.Complete(ctx, task.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double complete, got %v", err)
	}
}

func TestCompletedTaskIsImmutable(t *testing.T) {
	ts, reg, _ := setupStores(t)
	ctx := context.Background()

	worker := newWorker(t, reg, "Ana")
	task := newTask(t, ts, "acme", model.KindMonthlyClose)
	if _, err := ts.Assign(ctx, task.ID, worker.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	done, err := ts.Complete(ctx, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	title := "amended"
	priority := model.PriorityHigh
	state := model.StateCompleted
	updates := []struct {
		name string
		u    TaskUpdate
	}{
		{"edit title", TaskUpdate{Title: &title}},
		{"edit priority", TaskUpdate{Priority: &priority}},
		{"repeat completion", TaskUpdate{State: &state}},
	}
	for _, tt := range updates {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Update(ctx, task.ID, tt.u); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}

	got, err := ts.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != done.Version {
		t.Fatalf("rejected updates must not bump the version: got %d, want %d", got.Version, done.Version)
	}
	if got.Title != task.Title || got.CompletedAt == nil {
		t.Fatalf("rejected updates leaked into the row: %+v", got)
	}
}

func TestSameStateUpdateRejected(t *testing.T) {
	ts, _, _ := setupStores(t)
	ctx := context.Background()

	task := newTask(t, ts, "acme", model.KindMonthlyClose)
	state := model.StatePending
	if _, err := ts.Update(ctx, task.ID, TaskUpdate{State: &state}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending -> pending, got %v", err)
	}
}

func TestAssignUnknownWorker(t *testing.T) {
	ts, _, _ := setupStores(t)

	task := newTask(t, ts, "acme", model.KindMonthlyClose)
	if _, err := ts.Assign(context.Background(), task.ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown worker, got %v", err)
	}
}

func TestCompletePendingRejected(t *testing.T) {
	ts, _, _ := setupStores(t)

	task := newTask(t, ts, "acme", model.KindMonthlyClose)
	if _, err := ts.Complete(context.Background(), task.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition completing pending task, got %v", err)
	}
}

func TestConcurrentAssignExactlyOneWinner(t *testing.T) {
	ts, reg, _ := setupStores(t)
	ctx := context.Background()

	a := newWorker(t, reg, "Ana")
	b := newWorker(t, reg, "Bruno")
	task := newTask(t, ts, "acme", model.KindPeriodicFiling)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, w := range []model.Worker{a, b} {
		wg.Add(1)
		go func(i int, workerID string) {
			defer wg.Done()
			_, errs[i] = ts.Assign(ctx, task.ID, workerID)
		}(i, w.ID)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner, got %d wins %d losses", wins, losses)
	}

	got, err := ts.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.StateInProgress || got.AssignedWorkerID == "" {
		t.Fatalf("task left in invalid combination: %+v", got)
	}
}

func TestStaleVersionWriteDoesNotApply(t *testing.T) {
	ts, reg, _ := setupStores(t)
	ctx := context.Background()

	worker := newWorker(t, reg, "Ana")
	task := newTask(t, ts, "acme", model.KindMonthlyClose)
	assigned, err := ts.Assign(ctx, task.ID, worker.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	// A write carrying the pre-assignment version must hit zero rows.
	res, err := ts.db.Exec(
		`UPDATE tasks SET title = 'stale' , version = version + 1 WHERE id = ? AND version = ?`,
		task.ID, task.Version)
	if err != nil {
		t.Fatalf("raw update: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 0 {
		t.Fatal("stale version write must not apply")
	}

	got, err := ts.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != assigned.Version || got.Title == "stale" {
		t.Fatalf("stale write leaked: %+v", got)
	}
}

func TestReassign(t *testing.T) {
	ts, reg, _ := setupStores(t)
	ctx := context.Background()

	a := newWorker(t, reg, "Ana")
	b := newWorker(t, reg, "Bruno")
	task := newTask(t, ts, "acme", model.KindPayrollFiling)

	if _, err := ts.Reassign(ctx, task.ID, b.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition reassigning pending task, got %v", err)
	}

	if _, err := ts.Assign(ctx, task.ID, a.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, err := ts.Reassign(ctx, task.ID, b.ID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.AssignedWorkerID != b.ID {
		t.Fatalf("expected worker %s, got %s", b.ID, got.AssignedWorkerID)
	}
	if got.State != model.StateInProgress {
		t.Fatalf("reassignment must not change state, got %s", got.State)
	}
}

func TestReschedule(t *testing.T) {
	ts, reg, _ := setupStores(t)
	ctx := context.Background()

	task := newTask(t, ts, "acme", model.KindMonthlyClose)
	newDue := testNow.AddDate(0, 1, 0)

	got, err := ts.Reschedule(ctx, task.ID, newDue)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !got.DueAt.Equal(newDue) {
		t.Fatalf("expected due %v, got %v", newDue, got.DueAt)
	}

	worker := newWorker(t, reg, "Ana")
	if _, err := ts.Assign(ctx, task.ID, worker.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := ts.Complete(ctx, task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := ts.Reschedule(ctx, task.ID, newDue.AddDate(0, 1, 0)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition rescheduling completed task, got %v", err)
	}
}

func TestQueryFilters(t *testing.T) {
	ts, reg, _ := setupStores(t)
	ctx := context.Background()

	worker := newWorker(t, reg, "Ana")
	t1 := newTask(t, ts, "acme", model.KindMonthlyClose)
	t2 := newTask(t, ts, "acme", model.KindPayrollFiling)
	t3 := newTask(t, ts, "globex", model.KindMonthlyClose)

	if _, err := ts.Assign(ctx, t2.ID, worker.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
	}{
		{"by tenant", Filter{TenantID: "acme"}, []string{t1.ID, t2.ID}},
		{"by kind", Filter{Kind: model.KindMonthlyClose}, []string{t1.ID, t3.ID}},
		{"pending unassigned", Filter{States: []model.State{model.StatePending}, Unassigned: true}, []string{t1.ID, t3.ID}},
		{"by worker", Filter{WorkerID: worker.ID}, []string{t2.ID}},
		{"no match", Filter{TenantID: "initech"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ts.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d tasks, want %d", len(got), len(tt.wantIDs))
			}
			gotIDs := make(map[string]bool, len(got))
			for _, task := range got {
				gotIDs[task.ID] = true
			}
			for _, id := range tt.wantIDs {
				if !gotIDs[id] {
					t.Errorf("missing task %s in result", id)
				}
			}
		})
	}
}

func TestQueryOrderIsCreationAscending(t *testing.T) {
	ts, _, clk := setupStores(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		task := newTaskAt(t, ts, clk, "acme")
		want = append(want, task.ID)
		clk.Advance(time.Minute)
	}

	got, err := ts.ListPendingUnassigned(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(got), len(want))
	}
	for i, task := range got {
		if task.ID != want[i] {
			t.Fatalf("position %d: got %s, want %s (creation order broken)", i, task.ID, want[i])
		}
	}
}

func newTaskAt(t *testing.T, ts *TaskStore, clk *clock.Fake, tenant string) model.Task {
	t.Helper()

	task, err := ts.Create(context.Background(), model.Task{
		TenantID: tenant,
		Kind:     model.KindMonthlyClose,
		Title:    "close",
		DueAt:    clk.Now().AddDate(0, 0, 10),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestPeriodDuplicate(t *testing.T) {
	ts, _, _ := setupStores(t)
	ctx := context.Background()

	base := model.Task{
		TenantID: "acme",
		Kind:     model.KindMonthlyClose,
		Title:    "close",
		DueAt:    testNow.AddDate(0, 0, 10),
		Period:   "2026-03",
	}
	if _, err := ts.Create(ctx, base); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := ts.Create(ctx, base); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Without a period key, duplicates are allowed.
	base.Period = ""
	if _, err := ts.Create(ctx, base); err != nil {
		t.Fatalf("create without period: %v", err)
	}
	if _, err := ts.Create(ctx, base); err != nil {
		t.Fatalf("second create without period: %v", err)
	}
}

func TestCompletedAtInvariant(t *testing.T) {
	ts, reg, _ := setupStores(t)
	ctx := context.Background()

	worker := newWorker(t, reg, "Ana")
	task := newTask(t, ts, "acme", model.KindMonthlyClose)
	if _, err := ts.Assign(ctx, task.ID, worker.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := ts.Complete(ctx, task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	all, err := ts.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, got := range all {
		hasStamp := got.CompletedAt != nil
		isCompleted := got.State == model.StateCompleted
		if hasStamp != isCompleted {
			t.Fatalf("completed_at invariant broken for task %s: stamp=%v state=%s", got.ID, hasStamp, got.State)
		}
	}
}
