package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/contabix/dispatch/internal/model"
	"github.com/contabix/dispatch/internal/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage work items",
	Long:  `Create, list, and transition tasks through their lifecycle.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	Long: `Create a pending task for a tenant.

The --tenant, --kind, --title flags and a due date (--due or --due-in)
are required. Use --period to deduplicate recurring obligations: a second
create with the same tenant, kind, and period is rejected.`,
	RunE: runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List tasks with optional filters.

The --state filter accepts pending, in_progress, completed, or overdue.
Overdue is a view over non-completed tasks past their due date.
Use --json to output as JSON for scripting.`,
	RunE: runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task-id> --worker <worker-id>",
	Short: "Assign a pending task and start work",
	Long: `Assign a pending task to a worker, moving it to in_progress.

Fails if the task is not pending or is already assigned.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskStart,
}

var taskReassignCmd = &cobra.Command{
	Use:   "reassign <task-id> --worker <worker-id>",
	Short: "Move an in-progress task to a different worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskReassign,
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark an in-progress task completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskComplete,
}

var taskRescheduleCmd = &cobra.Command{
	Use:   "reschedule <task-id>",
	Short: "Change a task's due date",
	Long: `Change the due date of a pending or in-progress task.

Completed tasks cannot be rescheduled. A task past its old due date
stops reading as overdue once the new date is in the future.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskReschedule,
}

func init() {
	taskCreateCmd.Flags().String("tenant", "", "Tenant (client) id")
	taskCreateCmd.Flags().String("kind", "", "Obligation kind (e.g. monthly-close, payroll-filing)")
	taskCreateCmd.Flags().String("title", "", "Short task title")
	taskCreateCmd.Flags().String("description", "", "Longer description")
	taskCreateCmd.Flags().String("priority", "medium", "Priority (low, medium, high, critical)")
	taskCreateCmd.Flags().String("due", "", "Due date (YYYY-MM-DD or RFC3339)")
	taskCreateCmd.Flags().Int("due-in", 0, "Due date as days from now")
	taskCreateCmd.Flags().Float64("hours", 0, "Estimated hours")
	taskCreateCmd.Flags().StringSlice("docs", nil, "Required documents")
	taskCreateCmd.Flags().String("period", "", "Generation period key for dedup (e.g. 2026-09)")
	_ = taskCreateCmd.MarkFlagRequired("tenant")
	_ = taskCreateCmd.MarkFlagRequired("kind")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskListCmd.Flags().String("tenant", "", "Filter by tenant id")
	taskListCmd.Flags().String("kind", "", "Filter by kind")
	taskListCmd.Flags().String("state", "", "Filter by state (pending, in_progress, completed, overdue)")
	taskListCmd.Flags().String("worker", "", "Filter by assigned worker id")
	taskListCmd.Flags().Bool("unassigned", false, "Only unassigned tasks")
	taskListCmd.Flags().Bool("json", false, "Output as JSON")

	taskShowCmd.Flags().Bool("json", false, "Output as JSON")

	taskStartCmd.Flags().String("worker", "", "Worker id to assign")
	_ = taskStartCmd.MarkFlagRequired("worker")

	taskReassignCmd.Flags().String("worker", "", "Worker id to take over")
	_ = taskReassignCmd.MarkFlagRequired("worker")

	taskRescheduleCmd.Flags().String("due", "", "New due date (YYYY-MM-DD or RFC3339)")
	taskRescheduleCmd.Flags().Int("due-in", 0, "New due date as days from now")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskReassignCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskRescheduleCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	tenant, _ := cmd.Flags().GetString("tenant")
	kind, _ := cmd.Flags().GetString("kind")
	title, _ := cmd.Flags().GetString("title")
	description, _ := cmd.Flags().GetString("description")
	priorityStr, _ := cmd.Flags().GetString("priority")
	hours, _ := cmd.Flags().GetFloat64("hours")
	docs, _ := cmd.Flags().GetStringSlice("docs")
	period, _ := cmd.Flags().GetString("period")

	priority, err := model.ParsePriority(priorityStr)
	if err != nil {
		return err
	}
	dueAt, err := parseDue(cmd, a.clk.Now())
	if err != nil {
		return err
	}

	task, err := a.tasks.Create(context.Background(), model.Task{
		TenantID:          tenant,
		Kind:              model.Kind(kind),
		Title:             title,
		Description:       description,
		Priority:          priority,
		DueAt:             dueAt,
		EstimatedHours:    hours,
		RequiredDocuments: docs,
		Period:            period,
	})
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	fmt.Printf("Created task %s (%s, due %s)\n", task.ID, task.Kind, formatTime(task.DueAt))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	tenant, _ := cmd.Flags().GetString("tenant")
	kind, _ := cmd.Flags().GetString("kind")
	stateStr, _ := cmd.Flags().GetString("state")
	worker, _ := cmd.Flags().GetString("worker")
	unassigned, _ := cmd.Flags().GetBool("unassigned")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter := store.Filter{
		TenantID:   tenant,
		Kind:       model.Kind(kind),
		WorkerID:   worker,
		Unassigned: unassigned,
	}

	// Overdue is derived, so filter it after the query.
	overdueOnly := false
	switch strings.ToLower(stateStr) {
	case "":
	case "overdue":
		overdueOnly = true
		filter.States = []model.State{model.StatePending, model.StateInProgress}
	default:
		state := model.State(stateStr)
		if !model.ValidStoredState(state) {
			return fmt.Errorf("unknown state: %s (valid: pending, in_progress, completed, overdue)", stateStr)
		}
		filter.States = []model.State{state}
	}

	tasks, err := a.tasks.Query(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	now := a.clk.Now()
	if overdueOnly {
		var kept []model.Task
		for _, t := range tasks {
			if model.IsOverdue(t, now) {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks match the given filters.")
		return nil
	}

	if asJSON {
		return printTasksJSON(tasks, now)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTENANT\tKIND\tPRI\tSTATE\tDUE\tWORKER\tTITLE")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(t.ID),
			t.TenantID,
			t.Kind,
			t.Priority,
			model.EffectiveState(t, now),
			formatTime(t.DueAt),
			orDash(t.AssignedWorkerID),
			t.Title,
		)
	}
	_ = w.Flush()
	fmt.Printf("\n%d task(s)\n", len(tasks))
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.tasks.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	now := a.clk.Now()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printTasksJSON([]model.Task{task}, now)
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Tenant:      %s\n", task.TenantID)
	fmt.Printf("Kind:        %s\n", task.Kind)
	fmt.Printf("Title:       %s\n", task.Title)
	if task.Description != "" {
		fmt.Printf("Description: %s\n", task.Description)
	}
	fmt.Printf("Priority:    %s\n", task.Priority)
	fmt.Printf("State:       %s\n", model.EffectiveState(task, now))
	fmt.Printf("Worker:      %s\n", orDash(task.AssignedWorkerID))
	fmt.Printf("Created:     %s\n", formatTime(task.CreatedAt))
	fmt.Printf("Due:         %s", formatTime(task.DueAt))
	if model.IsOverdue(task, now) {
		fmt.Printf("  (%s overdue)", formatAgo(task.DueAt, now))
	}
	fmt.Println()
	if task.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", formatTime(*task.CompletedAt))
	}
	if task.EstimatedHours > 0 {
		fmt.Printf("Est. hours:  %.1f\n", task.EstimatedHours)
	}
	if len(task.RequiredDocuments) > 0 {
		fmt.Printf("Documents:   %s\n", strings.Join(task.RequiredDocuments, ", "))
	}
	if task.Period != "" {
		fmt.Printf("Period:      %s\n", task.Period)
	}
	return nil
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	workerID, _ := cmd.Flags().GetString("worker")
	task, err := a.tasks.Assign(context.Background(), args[0], workerID)
	if err != nil {
		return err
	}

	fmt.Printf("Task %s assigned to %s, now in_progress\n", shortID(task.ID), task.AssignedWorkerID)
	return nil
}

func runTaskReassign(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	workerID, _ := cmd.Flags().GetString("worker")
	task, err := a.tasks.Reassign(context.Background(), args[0], workerID)
	if err != nil {
		return err
	}

	fmt.Printf("Task %s reassigned to %s\n", shortID(task.ID), task.AssignedWorkerID)
	return nil
}

func runTaskComplete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.tasks.Complete(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Task %s completed at %s\n", shortID(task.ID), formatTime(*task.CompletedAt))
	return nil
}

func runTaskReschedule(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	dueAt, err := parseDue(cmd, a.clk.Now())
	if err != nil {
		return err
	}

	task, err := a.tasks.Reschedule(context.Background(), args[0], dueAt)
	if err != nil {
		return err
	}

	fmt.Printf("Task %s now due %s\n", shortID(task.ID), formatTime(task.DueAt))
	return nil
}

// shortID abbreviates UUIDs for table output; full ids still work as
// command arguments.
func shortID(id string) string {
	if len(id) > 8 && strings.Count(id, "-") == 4 {
		return id[:8]
	}
	return id
}

// --- JSON output ---

type taskEntry struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	Kind              string     `json:"kind"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Priority          string     `json:"priority"`
	State             string     `json:"state"`
	EffectiveState    string     `json:"effective_state"`
	AssignedWorkerID  string     `json:"assigned_worker_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	DueAt             time.Time  `json:"due_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	EstimatedHours    float64    `json:"estimated_hours,omitempty"`
	RequiredDocuments []string   `json:"required_documents,omitempty"`
	Period            string     `json:"period,omitempty"`
}

func printTasksJSON(tasks []model.Task, now time.Time) error {
	entries := make([]taskEntry, len(tasks))
	for i, t := range tasks {
		entries[i] = taskEntry{
			ID:                t.ID,
			TenantID:          t.TenantID,
			Kind:              string(t.Kind),
			Title:             t.Title,
			Description:       t.Description,
			Priority:          string(t.Priority),
			State:             string(t.State),
			EffectiveState:    string(model.EffectiveState(t, now)),
			AssignedWorkerID:  t.AssignedWorkerID,
			CreatedAt:         t.CreatedAt,
			DueAt:             t.DueAt,
			CompletedAt:       t.CompletedAt,
			EstimatedHours:    t.EstimatedHours,
			RequiredDocuments: t.RequiredDocuments,
			Period:            t.Period,
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
