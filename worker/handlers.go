package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/collect"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/queue"
)

// DefaultBatchSize is the fan-out size when a payload does not set one.
const DefaultBatchSize = 20

// Job priorities. Collection runs before fan-out, fan-out before items, so
// a poll tends to widen work before deepening it.
const (
	PriorityCollect = 10
	PriorityBatch   = 50
	PriorityItem    = 100
	PriorityDrain   = 200
)

// CollectSourceHandler lists items from a source, records them as work
// items and fans out process_batch jobs.
type CollectSourceHandler struct {
	store      *queue.Store
	collectors map[string]collect.Collector
	states     *collect.StateStore
	log        *zap.SugaredLogger
}

// NewCollectSourceHandler creates the collect_source handler. collectors is
// keyed by the source name used in payloads.
func NewCollectSourceHandler(store *queue.Store, collectors map[string]collect.Collector, states *collect.StateStore, log *zap.SugaredLogger) *CollectSourceHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CollectSourceHandler{store: store, collectors: collectors, states: states, log: log}
}

func (h *CollectSourceHandler) Kind() queue.JobKind { return queue.KindCollectSource }

func (h *CollectSourceHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload queue.CollectSourcePayload
	if err := queue.DecodePayload(job, &payload); err != nil {
		return err
	}
	batchSize := payload.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	collector, ok := h.collectors[payload.Source]
	if !ok {
		return errors.Newf("no collector configured for source: %s", payload.Source)
	}

	if err := h.store.UpdateRunProgress(payload.RunID, "collecting", "listing items from "+collector.Source()); err != nil {
		return err
	}

	prev, err := h.states.Get(collector.Source())
	if err != nil {
		return err
	}

	result, err := collector.Collect(ctx, prev)
	if err != nil {
		return err
	}
	if err := h.states.Save(collector.Source(), result.State); err != nil {
		return err
	}

	if result.NotModified || len(result.Items) == 0 {
		h.log.Infow("Nothing new to collect",
			logger.FieldSource, collector.Source(),
			logger.FieldRunID, payload.RunID,
		)
		return h.store.UpdateRunProgress(payload.RunID, "collecting", "source unchanged, nothing to do")
	}

	items := make([]*queue.WorkItem, len(result.Items))
	for i, it := range result.Items {
		items[i] = queue.NewWorkItem(payload.RunID, it.Type, it.ID, it.Data)
	}
	if err := h.store.CreateWorkItems(items); err != nil {
		return err
	}
	if err := h.store.SetRunTotalEstimated(payload.RunID, len(items)); err != nil {
		return err
	}

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		ids := make([]string, end-start)
		for i, item := range items[start:end] {
			ids[i] = item.ID
		}

		batchJob, err := queue.NewRunJob(queue.KindProcessBatch, job.Source, PriorityBatch, payload.RunID, queue.ProcessBatchPayload{
			RunID:       payload.RunID,
			WorkItemIDs: ids,
		})
		if err != nil {
			return err
		}
		if err := h.store.CreateJob(batchJob); err != nil {
			return err
		}
	}

	return h.store.UpdateRunProgress(payload.RunID, "processing",
		fmt.Sprintf("queued %d items for processing", len(items)))
}

// ProcessBatchHandler expands a batch of work items into per-item jobs.
type ProcessBatchHandler struct {
	store *queue.Store
}

// NewProcessBatchHandler creates the process_batch handler.
func NewProcessBatchHandler(store *queue.Store) *ProcessBatchHandler {
	return &ProcessBatchHandler{store: store}
}

func (h *ProcessBatchHandler) Kind() queue.JobKind { return queue.KindProcessBatch }

func (h *ProcessBatchHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload queue.ProcessBatchPayload
	if err := queue.DecodePayload(job, &payload); err != nil {
		return err
	}

	for _, itemID := range payload.WorkItemIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		itemJob, err := queue.NewRunJob(queue.KindProcessItem, job.Source, PriorityItem, payload.RunID, queue.ProcessItemPayload{
			RunID:      payload.RunID,
			WorkItemID: itemID,
		})
		if err != nil {
			return err
		}
		if err := h.store.CreateJob(itemJob); err != nil {
			return err
		}
	}
	return nil
}

// ProcessItemHandler processes a single work item end to end.
type ProcessItemHandler struct {
	items *ItemProcessor
}

// NewProcessItemHandler creates the process_item handler.
func NewProcessItemHandler(items *ItemProcessor) *ProcessItemHandler {
	return &ProcessItemHandler{items: items}
}

func (h *ProcessItemHandler) Kind() queue.JobKind { return queue.KindProcessItem }

func (h *ProcessItemHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload queue.ProcessItemPayload
	if err := queue.DecodePayload(job, &payload); err != nil {
		return err
	}
	return h.items.ProcessWorkItem(ctx, payload.WorkItemID)
}

// ProcessPendingItemsHandler drains pending work items inline, batch by
// batch, re-enqueuing itself while any remain. It is the safety net for
// items whose per-item jobs were lost.
type ProcessPendingItemsHandler struct {
	store *queue.Store
	items *ItemProcessor
	log   *zap.SugaredLogger
}

// NewProcessPendingItemsHandler creates the process_pending_items handler.
func NewProcessPendingItemsHandler(store *queue.Store, items *ItemProcessor, log *zap.SugaredLogger) *ProcessPendingItemsHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ProcessPendingItemsHandler{store: store, items: items, log: log}
}

func (h *ProcessPendingItemsHandler) Kind() queue.JobKind { return queue.KindProcessPendingItems }

func (h *ProcessPendingItemsHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload queue.ProcessPendingItemsPayload
	if err := queue.DecodePayload(job, &payload); err != nil {
		return err
	}
	batchSize := payload.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	pending, err := h.store.GetPendingWorkItems(payload.RunID, batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// Item failures do not abort the drain; each item settles on its own
	// and failed ones stay visible through their work item status.
	var failures int
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.items.ProcessWorkItem(ctx, item.ID); err != nil {
			failures++
			h.log.Warnw("Drain failed to process work item",
				logger.FieldItemID, item.ID,
				logger.FieldError, err,
			)
		}
	}

	remaining, err := h.store.GetPendingWorkItems(payload.RunID, 1)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if failures > 0 {
			return errors.Newf("drain settled with %d item failures", failures)
		}
		return nil
	}

	next, err := queue.NewRunJob(queue.KindProcessPendingItems, job.Source, PriorityDrain, payload.RunID, payload)
	if err != nil {
		return err
	}
	return h.store.CreateJob(next)
}
