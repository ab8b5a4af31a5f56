package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/worker"
)

// ServeCmd starts the worker daemon.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the worker daemon",
	Long: `Start the worker daemon in foreground mode.

The daemon polls the job queue, executes collection and processing jobs
concurrently, and runs until interrupted (Ctrl+C) with graceful shutdown:
in-flight jobs are allowed to finish before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")

		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		poolCfg := worker.PoolConfig{
			Workers:        rt.cfg.Queue.Workers,
			PollInterval:   time.Duration(rt.cfg.Queue.PollIntervalSeconds) * time.Second,
			MaxJobsPerPoll: rt.cfg.Queue.MaxJobsPerPoll,
		}
		if workers > 0 {
			poolCfg.Workers = workers
		}

		processor := worker.NewProcessor(rt.store, rt.registry(), logger.ComponentLogger("worker"))
		pool := worker.NewPool(processor, poolCfg, logger.ComponentLogger("worker"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := pool.Start(ctx); err != nil {
			return err
		}

		// Purge old terminal jobs on startup so the table stays bounded.
		if removed, err := rt.store.CleanupOldJobs(time.Duration(rt.cfg.Queue.CleanupAfterHours) * time.Hour); err != nil {
			logger.Logger.Warnw("Job cleanup failed", logger.FieldError, err)
		} else if removed > 0 {
			logger.Logger.Infow("Purged old jobs", logger.FieldCount, removed)
		}

		fmt.Printf("Granary daemon started\n")
		fmt.Printf("  Workers:        %d\n", poolCfg.Workers)
		fmt.Printf("  Poll interval:  %v\n", poolCfg.PollInterval)
		fmt.Printf("  Database:       %s\n", rt.cfg.GetDatabasePath())
		fmt.Printf("  Sources:        %s\n", sourceNames(rt.collectors))
		fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nShutting down...\n")
		if err := pool.Stop(); err != nil {
			return err
		}
		fmt.Printf("Granary daemon stopped\n")
		return nil
	},
}

func init() {
	ServeCmd.Flags().Int("workers", 0, "Number of concurrent workers (overrides config)")
}
