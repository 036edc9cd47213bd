// Package generator creates recurring obligations in bulk: one task per
// tenant for a given kind and due-date offset.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/contabix/dispatch/internal/clock"
	"github.com/contabix/dispatch/internal/logging"
	"github.com/contabix/dispatch/internal/model"
	"github.com/contabix/dispatch/internal/store"
	"github.com/contabix/dispatch/internal/tenants"
)

// Directory supplies the tenant list. Read-only dependency.
type Directory interface {
	Tenants(ctx context.Context) ([]tenants.Tenant, error)
}

// TaskCreator is the slice of the task store the generator needs.
type TaskCreator interface {
	Create(ctx context.Context, t model.Task) (model.Task, error)
}

// TenantError records one tenant's generation failure.
type TenantError struct {
	TenantID string
	Err      string
}

// Summary aggregates a generation run. One tenant's failure never
// blocks task creation for the others.
type Summary struct {
	Created int
	Skipped int
	Failed  int
	Errors  []TenantError
}

// Generator creates recurring obligations against the task store.
type Generator struct {
	tasks TaskCreator
	dir   Directory
	clk   clock.Clock
	log   *logging.Logger
}

// New creates a Generator.
func New(tasks TaskCreator, dir Directory, clk clock.Clock) *Generator {
	return &Generator{
		tasks: tasks,
		dir:   dir,
		clk:   clk,
		log:   logging.Component("generator"),
	}
}

// Generate creates one pending task of the given kind per tenant, due
// dueOffsetDays from now.
//
// When period is non-empty, a task already existing for the same
// (tenant, kind, period) is counted as skipped instead of created, so
// re-invoking for the same period is safe. With an empty period every
// invocation creates new tasks, matching a purely cron-driven contract.
func (g *Generator) Generate(ctx context.Context, kind model.Kind, dueOffsetDays int, period string) (Summary, error) {
	if kind == "" {
		return Summary{}, fmt.Errorf("obligation kind is required")
	}
	if dueOffsetDays < 0 {
		return Summary{}, fmt.Errorf("due offset must not be negative, got %d", dueOffsetDays)
	}

	list, err := g.dir.Tenants(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing tenants: %w", err)
	}

	now := g.clk.Now()
	dueAt := now.AddDate(0, 0, dueOffsetDays)

	var summary Summary
	for _, tenant := range list {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		name := tenant.Name
		if name == "" {
			name = tenant.ID
		}

		_, err := g.tasks.Create(ctx, model.Task{
			TenantID:  tenant.ID,
			Kind:      kind,
			Title:     fmt.Sprintf("%s for %s", kind, name),
			Priority:  model.PriorityMedium,
			CreatedAt: now,
			DueAt:     dueAt,
			Period:    period,
		})
		switch {
		case err == nil:
			summary.Created++
		case errors.Is(err, store.ErrDuplicate):
			summary.Skipped++
			g.log.DebugEvent().
				Str("tenant", tenant.ID).
				Str("period", period).
				Msg("obligation already generated for period")
		default:
			summary.Failed++
			summary.Errors = append(summary.Errors, TenantError{TenantID: tenant.ID, Err: err.Error()})
			g.log.WarnEvent().Str("tenant", tenant.ID).Err(err).Msg("generation failed")
		}
	}

	g.log.InfoEvent().
		Str("kind", string(kind)).
		Str("period", period).
		Int("created", summary.Created).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("obligation generation finished")
	return summary, nil
}
