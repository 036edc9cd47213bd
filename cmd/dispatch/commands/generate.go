package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contabix/dispatch/internal/generator"
	"github.com/contabix/dispatch/internal/model"
	"github.com/contabix/dispatch/internal/tenants"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate recurring obligations for every tenant",
	Long: `Create one pending task of the given kind per tenant, due a fixed
number of days from now.

Tenants come from the tenants file configured under tenants.path.
Pass --period to make the run idempotent: a tenant that already has a
task for the same kind and period is skipped, so re-running after a
partial failure only fills the gaps.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().String("kind", "", "Obligation kind (e.g. monthly-close)")
	generateCmd.Flags().Int("due-in", 0, "Due date as days from now")
	generateCmd.Flags().String("period", "", "Period key for dedup (e.g. 2026-09)")
	generateCmd.Flags().String("tenants", "", "Tenants file (overrides config)")
	_ = generateCmd.MarkFlagRequired("kind")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	kind, _ := cmd.Flags().GetString("kind")
	dueIn, _ := cmd.Flags().GetInt("due-in")
	period, _ := cmd.Flags().GetString("period")
	tenantsPath, _ := cmd.Flags().GetString("tenants")

	if tenantsPath == "" {
		tenantsPath = a.cfg.Tenants.Path
	}
	dir, err := tenants.NewFileDirectory(tenantsPath)
	if err != nil {
		return fmt.Errorf("loading tenants: %w", err)
	}

	gen := generator.New(a.tasks, dir, a.clk)
	summary, err := gen.Generate(context.Background(), model.Kind(kind), dueIn, period)
	if err != nil {
		return fmt.Errorf("generating tasks: %w", err)
	}

	fmt.Printf("Generated %d task(s), skipped %d, failed %d\n",
		summary.Created, summary.Skipped, summary.Failed)
	for _, e := range summary.Errors {
		fmt.Printf("  %s: %s\n", e.TenantID, e.Err)
	}
	return nil
}
