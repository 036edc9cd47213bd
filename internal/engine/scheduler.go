package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/contabix/dispatch/internal/clock"
	"github.com/contabix/dispatch/internal/logging"
	"github.com/contabix/dispatch/internal/model"
)

// Outcome classifies one task's fate within a batch run.
type Outcome string

const (
	OutcomeAssigned         Outcome = "assigned"
	OutcomeNoEligibleWorker Outcome = "no_eligible_worker"
	OutcomeFailed           Outcome = "failed"
)

// Result records the outcome of one task's assignment attempt.
type Result struct {
	TaskID   string
	WorkerID string
	Score    float64
	Outcome  Outcome
	Err      string
}

// Summary aggregates a batch run. Batch operations always return a
// summary so callers can report partial success accurately.
type Summary struct {
	Assigned int
	Skipped  int
	Failed   int
	Results  []Result
}

// TaskQueue is the slice of the task store the scheduler needs.
type TaskQueue interface {
	ListPendingUnassigned(ctx context.Context) ([]model.Task, error)
	ListAssigned(ctx context.Context) ([]model.Task, error)
	Assign(ctx context.Context, id, workerID string) (model.Task, error)
}

// WorkerPool is the read path the scheduler uses on the registry.
type WorkerPool interface {
	ListActive(ctx context.Context) ([]model.Worker, error)
}

// Scheduler runs discrete assignment batches over the pending queue.
type Scheduler struct {
	tasks   TaskQueue
	workers WorkerPool
	clk     clock.Clock
	log     *logging.Logger
}

// NewScheduler creates a Scheduler over the given stores.
func NewScheduler(tasks TaskQueue, workers WorkerPool, clk clock.Clock) *Scheduler {
	return &Scheduler{
		tasks:   tasks,
		workers: workers,
		clk:     clk,
		log:     logging.Component("scheduler"),
	}
}

// RunBatch assigns every pending unassigned task to its best-scoring
// active worker, in creation order so the earliest-created task gets
// first pick. Worker loads are re-tallied after each commit; otherwise
// the scorer would systematically overload the top-ranked worker.
//
// A single task's failure does not abort the batch: it is recorded in
// the summary and the loop continues. Context cancellation stops before
// the next task, leaving committed assignments intact.
func (s *Scheduler) RunBatch(ctx context.Context) (Summary, error) {
	pending, err := s.tasks.ListPendingUnassigned(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing pending tasks: %w", err)
	}
	workers, err := s.workers.ListActive(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing active workers: %w", err)
	}

	now := s.clk.Now()
	var summary Summary

	for _, task := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		best, score, ok, err := s.pickBest(ctx, task, workers, now)
		if err != nil {
			summary.Failed++
			summary.Results = append(summary.Results, Result{
				TaskID:  task.ID,
				Outcome: OutcomeFailed,
				Err:     err.Error(),
			})
			s.log.WarnEvent().Str("task", task.ID).Err(err).Msg("scoring failed")
			continue
		}
		if !ok {
			summary.Skipped++
			summary.Results = append(summary.Results, Result{
				TaskID:  task.ID,
				Outcome: OutcomeNoEligibleWorker,
			})
			s.log.DebugEvent().Str("task", task.ID).Msg("no eligible worker")
			continue
		}

		if _, err := s.tasks.Assign(ctx, task.ID, best.ID); err != nil {
			summary.Failed++
			summary.Results = append(summary.Results, Result{
				TaskID:  task.ID,
				Outcome: OutcomeFailed,
				Err:     err.Error(),
			})
			s.log.WarnEvent().Str("task", task.ID).Err(err).Msg("assignment failed")
			continue
		}

		summary.Assigned++
		summary.Results = append(summary.Results, Result{
			TaskID:   task.ID,
			WorkerID: best.ID,
			Score:    score,
			Outcome:  OutcomeAssigned,
		})
		s.log.InfoEvent().
			Str("task", task.ID).
			Str("worker", best.ID).
			Float64("score", score).
			Msg("task assigned")
	}

	s.log.InfoEvent().
		Int("assigned", summary.Assigned).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("assignment batch finished")
	return summary, nil
}

// Plan previews a batch without committing. Chosen workers' loads are
// simulated forward so the preview matches what RunBatch would do.
func (s *Scheduler) Plan(ctx context.Context) (Summary, error) {
	pending, err := s.tasks.ListPendingUnassigned(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing pending tasks: %w", err)
	}
	workers, err := s.workers.ListActive(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing active workers: %w", err)
	}

	assigned, err := s.tasks.ListAssigned(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing assigned tasks: %w", err)
	}
	now := s.clk.Now()
	loads, histories := tallyByWorker(assigned)

	var summary Summary
	for _, task := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		best, score, ok := bestCandidate(task, workers, loads, histories, now)
		if !ok {
			summary.Skipped++
			summary.Results = append(summary.Results, Result{
				TaskID:  task.ID,
				Outcome: OutcomeNoEligibleWorker,
			})
			continue
		}

		loads[best.ID]++
		summary.Assigned++
		summary.Results = append(summary.Results, Result{
			TaskID:   task.ID,
			WorkerID: best.ID,
			Score:    score,
			Outcome:  OutcomeAssigned,
		})
	}
	return summary, nil
}

// pickBest re-reads assignment state so in-batch commits are reflected
// in the load tallies. A read failure is the caller's to report; it is
// not the same as finding no eligible worker.
func (s *Scheduler) pickBest(ctx context.Context, task model.Task, workers []model.Worker, now time.Time) (model.Worker, float64, bool, error) {
	assigned, err := s.tasks.ListAssigned(ctx)
	if err != nil {
		return model.Worker{}, 0, false, fmt.Errorf("loading assignment state: %w", err)
	}
	loads, histories := tallyByWorker(assigned)
	best, score, ok := bestCandidate(task, workers, loads, histories, now)
	return best, score, ok, nil
}

// bestCandidate scores every worker and returns the maximum. Workers
// arrive ordered by id, and only a strictly greater score replaces the
// current best, so ties break to the lowest worker id.
func bestCandidate(task model.Task, workers []model.Worker, loads map[string]int, histories map[string][]model.Task, now time.Time) (model.Worker, float64, bool) {
	var (
		best      model.Worker
		bestScore float64
		found     bool
	)
	for _, w := range workers {
		eff := Efficiency(histories[w.ID], now)
		score := Score(task, w, loads[w.ID], eff)
		if !found || score > bestScore {
			best = w
			bestScore = score
			found = true
		}
	}
	return best, bestScore, found
}

// tallyByWorker buckets assigned tasks into per-worker non-terminal
// load counts and full per-worker histories.
func tallyByWorker(assigned []model.Task) (map[string]int, map[string][]model.Task) {
	loads := make(map[string]int)
	histories := make(map[string][]model.Task)
	for _, t := range assigned {
		histories[t.AssignedWorkerID] = append(histories[t.AssignedWorkerID], t)
		if t.State == model.StatePending || t.State == model.StateInProgress {
			loads[t.AssignedWorkerID]++
		}
	}
	return loads, histories
}
