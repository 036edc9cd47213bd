package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/contabix/dispatch/internal/engine"
	"github.com/contabix/dispatch/internal/generator"
	"github.com/contabix/dispatch/internal/logging"
	"github.com/contabix/dispatch/internal/model"
	"github.com/contabix/dispatch/internal/tenants"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled assignment and generation in the foreground",
	Long: `Run the dispatch schedules until interrupted.

The assignment batch runs on daemon.assignment_schedule. Each entry
under daemon.generation runs on its own cron schedule, rendering
period_format against the current time as the dedup period key.

Edits to the tenants file are picked up without a restart.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	log := logging.Component("daemon")

	dir, err := tenants.NewFileDirectory(a.cfg.Tenants.Path)
	if err != nil {
		// Generation jobs need tenants; assignment alone still works.
		log.Warnf("tenants file unavailable: %v", err)
		dir = nil
	}

	sched := engine.NewScheduler(a.tasks, a.workers, a.clk)
	var gen *generator.Generator
	if dir != nil {
		gen = generator.New(a.tasks, dir, a.clk)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()

	if _, err := c.AddFunc(a.cfg.Daemon.AssignmentSchedule, func() {
		summary, err := sched.RunBatch(ctx)
		if err != nil {
			log.Errorf("assignment batch: %v", err)
			return
		}
		log.InfoEvent().
			Int("assigned", summary.Assigned).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Msg("assignment batch finished")
	}); err != nil {
		return fmt.Errorf("invalid assignment schedule %q: %w", a.cfg.Daemon.AssignmentSchedule, err)
	}

	for _, job := range a.cfg.Daemon.Generation {
		if gen == nil {
			log.Warnf("skipping generation job %s: no tenants file", job.Kind)
			continue
		}
		job := job
		if _, err := c.AddFunc(job.Schedule, func() {
			period := ""
			if job.PeriodFormat != "" {
				period = a.clk.Now().Format(job.PeriodFormat)
			}
			summary, err := gen.Generate(ctx, model.Kind(job.Kind), job.DueInDays, period)
			if err != nil {
				log.Errorf("generation %s: %v", job.Kind, err)
				return
			}
			log.InfoEvent().
				Str("kind", job.Kind).
				Str("period", period).
				Int("created", summary.Created).
				Int("skipped", summary.Skipped).
				Int("failed", summary.Failed).
				Msg("generation finished")
		}); err != nil {
			return fmt.Errorf("invalid schedule for generation job %s: %w", job.Kind, err)
		}
	}

	var watcher *fsnotify.Watcher
	if dir != nil {
		watcher, err = watchTenants(ctx, dir, log)
		if err != nil {
			log.Warnf("tenants watch disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	c.Start()
	defer c.Stop()

	fmt.Printf("dispatch daemon running (assignment: %s, %d generation job(s))\n",
		a.cfg.Daemon.AssignmentSchedule, len(a.cfg.Daemon.Generation))
	log.Info("daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	<-sigCh
	fmt.Println("\nshutting down...")
	log.Info("daemon stopped")
	return nil
}

// watchTenants reloads the tenant directory when its file changes.
// Editors replace files on save, so the watch covers the parent
// directory and filters events by name.
func watchTenants(ctx context.Context, dir *tenants.FileDirectory, log *logging.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(dir.Path())); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching tenants dir: %w", err)
	}

	target := filepath.Base(dir.Path())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := dir.Reload(); err != nil {
					log.Warnf("tenants reload failed, keeping previous list: %v", err)
					continue
				}
				log.Infof("tenants file reloaded: %s", dir.Path())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("tenants watch error: %v", err)
			}
		}
	}()
	return watcher, nil
}
