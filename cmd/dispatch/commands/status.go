package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/contabix/dispatch/internal/model"
	"github.com/contabix/dispatch/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue overview",
	Long: `Display task counts by effective state and per-worker loads.

Overdue counts non-completed tasks past their due date; the stored
state never changes, so a rescheduled task drops out of the overdue
count immediately.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("tenant", "", "Restrict to one tenant")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	tenant, _ := cmd.Flags().GetString("tenant")
	ctx := context.Background()

	tasks, err := a.tasks.Query(ctx, store.Filter{TenantID: tenant})
	if err != nil {
		return fmt.Errorf("querying tasks: %w", err)
	}

	now := a.clk.Now()
	counts := map[model.State]int{}
	unassigned := 0
	for _, t := range tasks {
		counts[model.EffectiveState(t, now)]++
		if t.State == model.StatePending && t.AssignedWorkerID == "" {
			unassigned++
		}
	}

	fmt.Println("Queue")
	fmt.Println("=====")
	fmt.Printf("Pending:      %d\n", counts[model.StatePending])
	fmt.Printf("In progress:  %d\n", counts[model.StateInProgress])
	fmt.Printf("Overdue:      %d\n", counts[model.StateOverdue])
	fmt.Printf("Completed:    %d\n", counts[model.StateCompleted])
	fmt.Printf("Unassigned:   %d\n", unassigned)

	workers, err := a.workers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing workers: %w", err)
	}
	if len(workers) == 0 {
		fmt.Println("\nNo active workers.")
		return nil
	}

	loads, err := openTaskCounts(ctx, a.tasks)
	if err != nil {
		return fmt.Errorf("counting loads: %w", err)
	}

	fmt.Println("\nWorkers")
	fmt.Println("=======")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, wk := range workers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d open\n", shortID(wk.ID), wk.Name, loads[wk.ID])
	}
	_ = w.Flush()
	return nil
}
