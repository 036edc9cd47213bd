package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/contabix/dispatch/internal/engine"
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Run an auto-assignment batch",
	Long: `Score every active worker against each unassigned pending task and
commit the best match per task.

Tasks are processed in creation order and loads refresh after every
assignment, so a batch spreads work instead of piling it on one worker.
Use --dry-run to preview the plan without committing anything.`,
	RunE: runAssign,
}

func init() {
	assignCmd.Flags().Bool("dry-run", false, "Plan assignments without committing")
	rootCmd.AddCommand(assignCmd)
}

var (
	assignOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"})
	assignSkipStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"})
	assignFailStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}).Bold(true)
	assignBold      = lipgloss.NewStyle().Bold(true)
)

func runAssign(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	sched := engine.NewScheduler(a.tasks, a.workers, a.clk)

	ctx := context.Background()
	var summary engine.Summary
	if dryRun {
		summary, err = sched.Plan(ctx)
	} else {
		summary, err = sched.RunBatch(ctx)
	}
	if err != nil {
		return fmt.Errorf("assignment batch: %w", err)
	}

	if len(summary.Results) == 0 {
		fmt.Println("Nothing to assign.")
		return nil
	}

	if dryRun {
		fmt.Println(assignBold.Render("[dry-run] Planned assignments:"))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, r := range summary.Results {
		switch r.Outcome {
		case engine.OutcomeAssigned:
			_, _ = fmt.Fprintf(w, "  %s\t%s\t-> %s\t(score %.2f)\n",
				assignOKStyle.Render("assigned"), shortID(r.TaskID), shortID(r.WorkerID), r.Score)
		case engine.OutcomeNoEligibleWorker:
			_, _ = fmt.Fprintf(w, "  %s\t%s\tno eligible worker\t\n",
				assignSkipStyle.Render("skipped"), shortID(r.TaskID))
		default:
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t\n",
				assignFailStyle.Render("failed"), shortID(r.TaskID), r.Err)
		}
	}
	_ = w.Flush()

	fmt.Println()
	fmt.Printf("%s %d assigned, %d skipped, %d failed\n",
		assignBold.Render("Batch:"), summary.Assigned, summary.Skipped, summary.Failed)
	return nil
}
