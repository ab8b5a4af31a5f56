package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/pipeline"
	"github.com/corvid-labs/granary/queue"
	"github.com/corvid-labs/granary/worker"
)

// CollectCmd runs a collection pass, either synchronously through the
// orchestrator or by enqueuing a job for the daemon.
var CollectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect and index documents from configured sources",
	Long: `Run a collection pass over the configured sources.

By default the pass runs synchronously in the foreground: collect,
summarize, chunk, embed and store, with progress on the run record.
Ctrl+C cancels cooperatively; the run is marked cancelled.

With --async a collection job is enqueued for the daemon instead. An
already-active job for the same source is reused, not duplicated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		async, _ := cmd.Flags().GetBool("async")
		source, _ := cmd.Flags().GetString("source")
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		if async {
			return enqueueCollection(rt, source, batchSize)
		}
		return runCollection(rt, source, batchSize)
	},
}

func init() {
	CollectCmd.Flags().String("source", "", "Collect a single source (default: all configured)")
	CollectCmd.Flags().Bool("async", false, "Enqueue a job for the daemon instead of running in the foreground")
	CollectCmd.Flags().Int("batch-size", 0, "Documents per embed/store batch (default from config)")
}

func runCollection(rt *runtime, source string, batchSize int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nCancelling run...")
		cancel()
	}()

	opts := pipeline.Options{BatchSize: batchSize}
	if source != "" {
		opts.Sources = []string{source}
	}

	run, err := rt.orchestrator().RunDataCollection(ctx, opts)
	if errors.Is(err, pipeline.ErrRunCancelled) {
		if run != nil {
			fmt.Printf("Run %s cancelled\n", run.ID)
		} else {
			fmt.Println("Run cancelled")
		}
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Run %s %s\n", run.ID, run.Status)
	fmt.Printf("  Collected: %d documents\n", run.DocumentsCollected)
	fmt.Printf("  Processed: %d of %d items\n", run.DocumentsProcessed, run.TotalEstimated)
	if run.ErrorMessage != "" {
		fmt.Printf("  Error:     %s\n", run.ErrorMessage)
	}
	return nil
}

func enqueueCollection(rt *runtime, source string, batchSize int) error {
	sources := make([]string, 0, len(rt.collectors))
	if source != "" {
		if _, ok := rt.collectors[source]; !ok {
			return errors.Newf("no collector configured for source: %s", source)
		}
		sources = append(sources, source)
	} else {
		for name := range rt.collectors {
			sources = append(sources, name)
		}
		if len(sources) == 0 {
			return errors.New("no collectors configured")
		}
	}

	for _, src := range sources {
		if existing, err := rt.store.FindActiveJobBySourceAndKind(src, queue.KindCollectSource); err != nil {
			return err
		} else if existing != nil {
			fmt.Printf("Collection for %s already queued (job %s), skipping\n", src, existing.ID)
			continue
		}

		run := queue.NewCollectionRun(src)
		if err := rt.store.CreateCollectionRun(run); err != nil {
			return err
		}

		job, err := queue.NewRunJob(queue.KindCollectSource, src, worker.PriorityCollect, run.ID, queue.CollectSourcePayload{
			Source:    src,
			RunID:     run.ID,
			BatchSize: batchSize,
		})
		if err != nil {
			return err
		}
		if err := rt.store.CreateJob(job); err != nil {
			return err
		}
		fmt.Printf("Queued collection for %s (run %s)\n", src, run.ID)
	}
	return nil
}
