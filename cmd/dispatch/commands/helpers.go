package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/contabix/dispatch/internal/clock"
	"github.com/contabix/dispatch/internal/config"
	"github.com/contabix/dispatch/internal/db"
	"github.com/contabix/dispatch/internal/logging"
	"github.com/contabix/dispatch/internal/store"
)

// app bundles the wired-up stores a command needs. Close it when done.
type app struct {
	cfg      config.Config
	database *db.DB
	tasks    *store.TaskStore
	workers  *store.WorkerRegistry
	clk      clock.Clock
}

// openApp loads config, initializes logging, opens the database, and
// builds the stores.
func openApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	clk := clock.System()
	return &app{
		cfg:      cfg,
		database: database,
		tasks:    store.NewTaskStore(database, clk),
		workers:  store.NewWorkerRegistry(database, clk),
		clk:      clk,
	}, nil
}

func (a *app) Close() {
	_ = a.database.Close()
}

// parseDue resolves the --due / --due-in flag pair into a due date.
// --due takes YYYY-MM-DD or RFC3339; --due-in counts days from now.
func parseDue(cmd *cobra.Command, now time.Time) (time.Time, error) {
	due, _ := cmd.Flags().GetString("due")
	dueIn, _ := cmd.Flags().GetInt("due-in")

	if due != "" {
		if t, err := time.Parse(time.RFC3339, due); err == nil {
			return t, nil
		}
		t, err := time.ParseInLocation("2006-01-02", due, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --due %q (use YYYY-MM-DD or RFC3339)", due)
		}
		// default to end of business day
		return t.Add(17 * time.Hour), nil
	}
	if dueIn > 0 {
		return now.AddDate(0, 0, dueIn), nil
	}
	return time.Time{}, fmt.Errorf("a due date is required (--due or --due-in)")
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}

func formatAgo(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
