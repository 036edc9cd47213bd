package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/contabix/dispatch/internal/clock"
	"github.com/contabix/dispatch/internal/db"
	"github.com/contabix/dispatch/internal/model"
)

// WorkerRegistry administers the worker pool. Workers are deactivated
// rather than deleted so historical task references stay valid.
type WorkerRegistry struct {
	db  *sql.DB
	clk clock.Clock
}

// NewWorkerRegistry creates a WorkerRegistry over an open database.
func NewWorkerRegistry(database *db.DB, clk clock.Clock) *WorkerRegistry {
	return &WorkerRegistry{db: database.SQL(), clk: clk}
}

// Create registers a new worker and returns it with generated fields filled in.
func (r *WorkerRegistry) Create(ctx context.Context, w model.Worker) (model.Worker, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Name == "" {
		return model.Worker{}, fmt.Errorf("worker name is required")
	}
	if w.Capacity <= 0 {
		return model.Worker{}, fmt.Errorf("worker capacity must be positive, got %d", w.Capacity)
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = r.clk.Now()
	}
	w.Active = true

	specialties, err := json.Marshal(w.Specialties)
	if err != nil {
		return model.Worker{}, fmt.Errorf("marshaling specialties: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workers (id, name, active, specialties, capacity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, boolInt(w.Active), string(specialties), w.Capacity, w.CreatedAt,
	)
	if err != nil {
		return model.Worker{}, fmt.Errorf("inserting worker: %w", err)
	}
	return w, nil
}

// Get returns the worker with the given id.
func (r *WorkerRegistry) Get(ctx context.Context, id string) (model.Worker, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, active, specialties, capacity, created_at FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return model.Worker{}, fmt.Errorf("%w: worker %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Worker{}, fmt.Errorf("querying worker %s: %w", id, err)
	}
	return w, nil
}

// ListActive returns a read-only snapshot of the active pool, ordered by id
// so scoring tie-breaks are reproducible.
func (r *WorkerRegistry) ListActive(ctx context.Context) ([]model.Worker, error) {
	return r.list(ctx, true)
}

// List returns all workers, active and inactive.
func (r *WorkerRegistry) List(ctx context.Context) ([]model.Worker, error) {
	return r.list(ctx, false)
}

func (r *WorkerRegistry) list(ctx context.Context, activeOnly bool) ([]model.Worker, error) {
	query := `SELECT id, name, active, specialties, capacity, created_at FROM workers`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying workers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workers []model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning worker: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workers: %w", err)
	}
	return workers, nil
}

// Deactivate soft-disables a worker. Existing task assignments are left
// untouched: deactivation only removes the worker from future scheduling.
func (r *WorkerRegistry) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE workers SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivating worker %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivating worker %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: worker %s", ErrNotFound, id)
	}
	return nil
}

func scanWorker(row rowScanner) (model.Worker, error) {
	var (
		w           model.Worker
		active      int
		specialties string
	)
	if err := row.Scan(&w.ID, &w.Name, &active, &specialties, &w.Capacity, &w.CreatedAt); err != nil {
		return model.Worker{}, err
	}
	w.Active = active != 0
	if specialties != "" && specialties != "null" {
		if err := json.Unmarshal([]byte(specialties), &w.Specialties); err != nil {
			return model.Worker{}, fmt.Errorf("unmarshaling specialties: %w", err)
		}
	}
	return w, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
