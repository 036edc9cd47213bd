package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/contabix/dispatch/internal/model"
	"github.com/contabix/dispatch/internal/store"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the worker pool",
	Long:  `Register workers, list them with current loads, and deactivate leavers.`,
}

var workerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a worker",
	Long: `Register a worker in the pool.

Specialties are obligation kinds the worker is preferred for during
auto-assignment, e.g. --specialties monthly-close,payroll-filing.`,
	RunE: runWorkerAdd,
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers with current loads",
	Long: `List active workers with their open-task counts.

Use --all to include deactivated workers. Use --json for scripting.`,
	RunE: runWorkerList,
}

var workerDeactivateCmd = &cobra.Command{
	Use:   "deactivate <worker-id>",
	Short: "Remove a worker from the assignment pool",
	Long: `Deactivate a worker so new tasks are no longer assigned to them.

Tasks already assigned stay assigned; reassign them explicitly if
needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkerDeactivate,
}

func init() {
	workerAddCmd.Flags().String("name", "", "Worker display name")
	workerAddCmd.Flags().StringSlice("specialties", nil, "Obligation kinds this worker specializes in")
	workerAddCmd.Flags().Int("capacity", 10, "Declared concurrent-task capacity")
	_ = workerAddCmd.MarkFlagRequired("name")

	workerListCmd.Flags().Bool("all", false, "Include deactivated workers")
	workerListCmd.Flags().Bool("json", false, "Output as JSON")

	workerCmd.AddCommand(workerAddCmd)
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerDeactivateCmd)
	rootCmd.AddCommand(workerCmd)
}

func runWorkerAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name, _ := cmd.Flags().GetString("name")
	specialties, _ := cmd.Flags().GetStringSlice("specialties")
	capacity, _ := cmd.Flags().GetInt("capacity")

	kinds := make([]model.Kind, len(specialties))
	for i, s := range specialties {
		kinds[i] = model.Kind(strings.TrimSpace(s))
	}

	worker, err := a.workers.Create(context.Background(), model.Worker{
		Name:        name,
		Specialties: kinds,
		Capacity:    capacity,
	})
	if err != nil {
		return fmt.Errorf("registering worker: %w", err)
	}

	fmt.Printf("Registered worker %s (%s)\n", worker.ID, worker.Name)
	return nil
}

func runWorkerList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx := context.Background()
	var workers []model.Worker
	if all {
		workers, err = a.workers.List(ctx)
	} else {
		workers, err = a.workers.ListActive(ctx)
	}
	if err != nil {
		return fmt.Errorf("listing workers: %w", err)
	}

	if len(workers) == 0 {
		fmt.Println("No workers registered.")
		return nil
	}

	loads, err := openTaskCounts(ctx, a.tasks)
	if err != nil {
		return fmt.Errorf("counting loads: %w", err)
	}

	if asJSON {
		return printWorkersJSON(workers, loads)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tACTIVE\tLOAD\tCAPACITY\tSPECIALTIES")
	for _, wk := range workers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%d\t%s\n",
			shortID(wk.ID),
			wk.Name,
			wk.Active,
			loads[wk.ID],
			wk.Capacity,
			joinKinds(wk.Specialties),
		)
	}
	_ = w.Flush()
	fmt.Printf("\n%d worker(s)\n", len(workers))
	return nil
}

func runWorkerDeactivate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.workers.Deactivate(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Worker %s deactivated\n", args[0])
	return nil
}

// openTaskCounts tallies non-terminal assigned tasks per worker.
func openTaskCounts(ctx context.Context, tasks *store.TaskStore) (map[string]int, error) {
	assigned, err := tasks.ListAssigned(ctx)
	if err != nil {
		return nil, err
	}
	loads := make(map[string]int)
	for _, t := range assigned {
		if t.State != model.StateCompleted {
			loads[t.AssignedWorkerID]++
		}
	}
	return loads, nil
}

func joinKinds(kinds []model.Kind) string {
	if len(kinds) == 0 {
		return "-"
	}
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// --- JSON output ---

type workerEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Active      bool     `json:"active"`
	Load        int      `json:"load"`
	Capacity    int      `json:"capacity"`
	Specialties []string `json:"specialties,omitempty"`
}

func printWorkersJSON(workers []model.Worker, loads map[string]int) error {
	entries := make([]workerEntry, len(workers))
	for i, wk := range workers {
		specs := make([]string, len(wk.Specialties))
		for j, k := range wk.Specialties {
			specs[j] = string(k)
		}
		entries[i] = workerEntry{
			ID:          wk.ID,
			Name:        wk.Name,
			Active:      wk.Active,
			Load:        loads[wk.ID],
			Capacity:    wk.Capacity,
			Specialties: specs,
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
