package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/pfrederiksen/seia-monitor/internal/logger"
	"github.com/pfrederiksen/seia-monitor/internal/runner"
	"github.com/pfrederiksen/seia-monitor/internal/storage"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run monitoring cycles on the configured cron schedule",
		Long: `Runs the monitor as a long-lived process, executing one cycle per
schedule tick (schedule.spec in the config). A tick that fires while the
previous cycle is still running is skipped. Stops cleanly on SIGINT or
SIGTERM.`,
		RunE: runSchedule,
	}
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	fetcher := runner.NewFetcher(cfg)
	defer fetcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg, store, fetcher, buildNotifier(cfg, flagDryRun))

	var busy int32
	cycle := func() {
		if !atomic.CompareAndSwapInt32(&busy, 0, 1) {
			logger.Warn("previous cycle still running, skipping tick", nil)
			return
		}
		defer atomic.StoreInt32(&busy, 0)

		if _, err := r.Execute(ctx); err != nil {
			// Already recorded in the run log; the scheduler keeps going
			logger.Error("scheduled cycle failed", nil, err)
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Schedule.Spec, cycle); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule.Spec, err)
	}

	logger.Info("scheduler started", logger.Fields{"spec": cfg.Schedule.Spec})
	scheduler.Start()

	<-ctx.Done()
	logger.Info("scheduler stopping", nil)

	// Let an in-flight cycle finish before exiting
	<-scheduler.Stop().Done()
	return nil
}
