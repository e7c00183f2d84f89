// Package harvest implements the harvest command: one ingestion run per
// invocation, or a cron-scheduled daemon with --schedule.
package harvest

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	cmdcommon "github.com/fairdatahub/arc-harvester/cmd/common"
	"github.com/fairdatahub/arc-harvester/internal/convert"
	"github.com/fairdatahub/arc-harvester/internal/harvest"
	"github.com/fairdatahub/arc-harvester/internal/logger"
	"github.com/fairdatahub/arc-harvester/internal/source"
)

// drainTimeout bounds how long completion waits for the sync queue.
const drainTimeout = 5 * time.Minute

// Command returns the harvest command.
func Command(cfgFile *string, debug *bool) *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest the configured source into the record store",
		Long: `Harvest streams investigations from the source database, converts
them into canonical documents, reconciles them against the record store
with change detection, and queues changed records for downstream sync.
With --schedule the command stays up and runs harvests on a cron
expression.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := cmdcommon.Build(ctx, *cfgFile, *debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			if schedule != "" {
				return runScheduled(ctx, deps, schedule)
			}

			return runOnce(ctx, deps)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression for daemon mode (e.g. \"0 2 * * *\")")

	return cmd
}

// runOnce executes a single harvest and drains the sync queue before
// returning.
func runOnce(ctx context.Context, deps *cmdcommon.Deps) error {
	lock, err := deps.NewHarvestLock(ctx)
	if err != nil {
		return err
	}

	if acquireErr := lock.Acquire(ctx); acquireErr != nil {
		return acquireErr
	}
	defer func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil {
			deps.Log.Warn("failed to release harvest lock", logger.Error(releaseErr))
		}
	}()

	sourceDB, err := source.Connect(deps.Config.Source)
	if err != nil {
		return err
	}
	defer sourceDB.Close()

	pool := convert.NewPool(
		deps.Config.Harvest.ConvertWorkers,
		convert.NewConverter(deps.Config.Harvest.SourceName),
		deps.Log,
	)
	if startErr := pool.Start(); startErr != nil {
		return fmt.Errorf("failed to start conversion pool: %w", startErr)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		_ = pool.Stop(stopCtx)
	}()

	deps.Queue.Start(ctx)
	defer deps.Queue.Stop()

	runner := harvest.NewRunner(
		source.NewExtractor(sourceDB, deps.Config.Harvest.BatchSize),
		pool,
		deps.Store,
		deps.Queue,
		deps.Metrics,
		deps.Config.Harvest,
		deps.Log,
	)

	h, runErr := runner.Run(ctx)
	if runErr != nil {
		// No harvest document exists when the start write itself failed.
		if h == nil {
			return runErr
		}
		return fmt.Errorf("harvest %s did not complete: %w", h.HarvestID, runErr)
	}

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if drainErr := deps.Queue.Drain(drainCtx); drainErr != nil {
		deps.Log.Warn("sync queue did not drain", logger.Error(drainErr))
	}

	return nil
}

// runScheduled runs harvests on a cron schedule until the context is
// cancelled. Runs never overlap: a tick that fires while a harvest is in
// progress is skipped by the per-source lock.
func runScheduled(ctx context.Context, deps *cmdcommon.Deps, schedule string) error {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		deps.Log.Info("scheduled harvest starting", logger.String("schedule", schedule))
		if runErr := runOnce(ctx, deps); runErr != nil {
			deps.Log.Error("scheduled harvest failed", logger.Error(runErr))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	c.Start()
	deps.Log.Info("harvest scheduler started", logger.String("schedule", schedule))

	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	deps.Log.Info("harvest scheduler stopped")

	return nil
}
