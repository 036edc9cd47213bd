package commands

import (
	"context"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/contabix/dispatch/internal/clock"
	"github.com/contabix/dispatch/internal/model"
	"github.com/contabix/dispatch/internal/store"
	"github.com/contabix/dispatch/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the queue live in the terminal",
	Long: `Open a terminal dashboard showing task counts, worker loads, and the
open-task list, refreshed on an interval.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	interval, _ := cmd.Flags().GetDuration("interval")
	source := &storeSource{tasks: a.tasks, workers: a.workers, clk: a.clk}
	return ui.New(source, interval).Run()
}

// storeSource builds dashboard snapshots from the stores.
type storeSource struct {
	tasks   *store.TaskStore
	workers *store.WorkerRegistry
	clk     clock.Clock
}

func (s *storeSource) Snapshot() (ui.Snapshot, error) {
	ctx := context.Background()
	now := s.clk.Now()

	tasks, err := s.tasks.Query(ctx, store.Filter{})
	if err != nil {
		return ui.Snapshot{}, err
	}
	workers, err := s.workers.ListActive(ctx)
	if err != nil {
		return ui.Snapshot{}, err
	}

	snap := ui.Snapshot{Taken: now}
	loads := make(map[string]int)
	names := make(map[string]string)
	for _, w := range workers {
		names[w.ID] = w.Name
	}

	for _, t := range tasks {
		switch model.EffectiveState(t, now) {
		case model.StatePending:
			snap.Pending++
		case model.StateInProgress:
			snap.InProgress++
		case model.StateOverdue:
			snap.Overdue++
		case model.StateCompleted:
			snap.Completed++
		}
		if t.State == model.StatePending && t.AssignedWorkerID == "" {
			snap.Unassigned++
		}
		if t.State != model.StateCompleted && t.AssignedWorkerID != "" {
			loads[t.AssignedWorkerID]++
		}
		if t.State != model.StateCompleted {
			snap.Tasks = append(snap.Tasks, ui.TaskRow{
				ID:       t.ID,
				TenantID: t.TenantID,
				Kind:     string(t.Kind),
				Title:    t.Title,
				State:    model.EffectiveState(t, now),
				DueAt:    t.DueAt,
				Worker:   names[t.AssignedWorkerID],
			})
		}
	}

	// Most urgent first.
	sort.SliceStable(snap.Tasks, func(i, j int) bool {
		return snap.Tasks[i].DueAt.Before(snap.Tasks[j].DueAt)
	})

	for _, w := range workers {
		snap.Workers = append(snap.Workers, ui.WorkerRow{
			ID:     w.ID,
			Name:   w.Name,
			Load:   loads[w.ID],
			Active: w.Active,
		})
	}

	return snap, nil
}
