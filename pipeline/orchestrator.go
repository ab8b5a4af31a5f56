// Package pipeline runs a data collection synchronously: collect, filter,
// chunk, embed and store, phase by phase, with cooperative cancellation.
// The asynchronous path through the job queue covers the same ground; this
// one exists for CLI-driven runs where the caller wants to wait.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/chunk"
	"github.com/corvid-labs/granary/collect"
	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/embedder"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/queue"
	"github.com/corvid-labs/granary/summarize"
	"github.com/corvid-labs/granary/textutil"
	"github.com/corvid-labs/granary/vectorstore"
)

// ErrRunCancelled marks a run stopped by context cancellation. Callers can
// detect it with errors.Is; the run itself is already marked cancelled when
// this is returned.
var ErrRunCancelled = errors.New("collection run cancelled")

// DefaultBatchSize is how many documents are chunked, embedded and stored
// per pass when the caller does not choose one.
const DefaultBatchSize = 10

// Options configures one synchronous collection run.
type Options struct {
	// Sources to collect from. Empty means every configured collector.
	Sources []string
	// BatchSize is the embed/store batch size.
	BatchSize int
}

// Orchestrator drives a complete collection pass without the job queue.
type Orchestrator struct {
	store      *queue.Store
	collectors map[string]collect.Collector
	states     *collect.StateStore
	summarizer summarize.Summarizer
	chunker    *chunk.Chunker
	batcher    *embedder.Batcher
	vectors    vectorstore.Store

	maxContentBytes int
	log             *zap.SugaredLogger
}

// NewOrchestrator creates a synchronous pipeline orchestrator.
func NewOrchestrator(
	store *queue.Store,
	collectors map[string]collect.Collector,
	states *collect.StateStore,
	summarizer summarize.Summarizer,
	chunker *chunk.Chunker,
	batcher *embedder.Batcher,
	vectors vectorstore.Store,
	maxContentBytes int,
	log *zap.SugaredLogger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		store:           store,
		collectors:      collectors,
		states:          states,
		summarizer:      summarizer,
		chunker:         chunker,
		batcher:         batcher,
		vectors:         vectors,
		maxContentBytes: maxContentBytes,
		log:             log,
	}
}

// RunDataCollection collects every requested source, processes the material
// and stores the resulting vectors, reporting progress on the run record as
// it goes. Cancellation is polled at phase boundaries; a cancelled run is
// marked cancelled and ErrRunCancelled is returned.
func (o *Orchestrator) RunDataCollection(ctx context.Context, opts Options) (*queue.CollectionRun, error) {
	sources, err := o.resolveSources(opts.Sources)
	if err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	run := queue.NewCollectionRun(joinSources(sources))
	if err := o.store.CreateCollectionRun(run); err != nil {
		return nil, err
	}

	log := o.log.With(logger.FieldRunID, run.ID)
	var completed, failed int

	for _, source := range sources {
		n, f, err := o.runSource(ctx, run.ID, source, batchSize, log)
		if err != nil {
			if errors.Is(err, ErrRunCancelled) {
				return o.reloadRun(run.ID, err)
			}
			// A broken source does not stop the others.
			failed++
			log.Errorw("Source collection failed",
				logger.FieldSource, source,
				logger.FieldError, err,
			)
			continue
		}
		completed += n
		failed += f
	}

	if completed == 0 && failed > 0 {
		if err := o.store.MarkRunFailed(run.ID, errors.Newf("no items completed, %d failed", failed)); err != nil {
			return nil, err
		}
	} else if err := o.store.CheckAndCompleteCollectionRun(run.ID); err != nil {
		return nil, err
	}
	return o.reloadRun(run.ID, nil)
}

func (o *Orchestrator) resolveSources(requested []string) ([]string, error) {
	if len(requested) == 0 {
		all := make([]string, 0, len(o.collectors))
		for name := range o.collectors {
			all = append(all, name)
		}
		if len(all) == 0 {
			return nil, errors.New("no collectors configured")
		}
		sort.Strings(all)
		return all, nil
	}
	for _, name := range requested {
		if _, ok := o.collectors[name]; !ok {
			return nil, errors.Newf("no collector configured for source: %s", name)
		}
	}
	return requested, nil
}

func joinSources(sources []string) string {
	if len(sources) == 1 {
		return sources[0]
	}
	out := sources[0]
	for _, s := range sources[1:] {
		out += "," + s
	}
	return out
}

// runSource takes one source through all phases. Returns how many items
// completed and how many failed.
func (o *Orchestrator) runSource(ctx context.Context, runID, source string, batchSize int, log *zap.SugaredLogger) (int, int, error) {
	collector := o.collectors[source]

	if err := o.checkCancellation(ctx, runID); err != nil {
		return 0, 0, err
	}
	if err := o.store.UpdateRunProgress(runID, "collecting", "listing items from "+collector.Source()); err != nil {
		return 0, 0, err
	}

	prev, err := o.states.Get(collector.Source())
	if err != nil {
		return 0, 0, err
	}
	result, err := collector.Collect(ctx, prev)
	if err != nil {
		return 0, 0, err
	}
	if err := o.states.Save(collector.Source(), result.State); err != nil {
		return 0, 0, err
	}
	if result.NotModified || len(result.Items) == 0 {
		log.Infow("Source unchanged", logger.FieldSource, source)
		return 0, 0, nil
	}

	items := make([]*queue.WorkItem, len(result.Items))
	for i, it := range result.Items {
		items[i] = queue.NewWorkItem(runID, it.Type, it.ID, it.Data)
	}
	if err := o.store.CreateWorkItems(items); err != nil {
		return 0, 0, err
	}
	if err := o.store.SetRunTotalEstimated(runID, len(items)); err != nil {
		return 0, 0, err
	}

	if err := o.checkCancellation(ctx, runID); err != nil {
		return 0, 0, err
	}
	docs, itemsByDoc, failures, err := o.summarizePhase(ctx, runID, items, log)
	if err != nil {
		return 0, 0, err
	}

	var completed int
	for start := 0; start < len(docs); start += batchSize {
		if err := o.checkCancellation(ctx, runID); err != nil {
			return completed, failures, err
		}
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		n, f, err := o.storeBatch(ctx, runID, docs[start:end], itemsByDoc, log)
		if err != nil {
			return completed, failures, err
		}
		completed += n
		failures += f

		if err := o.store.UpdateRunProgress(runID, "storing",
			fmt.Sprintf("stored %d of %d documents", start+n, len(docs))); err != nil {
			return completed, failures, err
		}
	}

	return completed, failures, nil
}

// summarizePhase runs the quality gate over every work item. Items the gate
// drops are marked skipped; summarizer failures mark the item failed but do
// not stop the phase.
func (o *Orchestrator) summarizePhase(ctx context.Context, runID string, items []*queue.WorkItem, log *zap.SugaredLogger) ([]document.Document, map[string]*queue.WorkItem, int, error) {
	if err := o.store.UpdateRunProgress(runID, "summarizing",
		fmt.Sprintf("summarizing %d items", len(items))); err != nil {
		return nil, nil, 0, err
	}

	var docs []document.Document
	itemsByDoc := make(map[string]*queue.WorkItem, len(items))
	var failures int

	for _, item := range items {
		if err := o.checkCancellation(ctx, runID); err != nil {
			return nil, nil, failures, err
		}
		if err := o.store.MarkWorkItemProcessing(item.ID); err != nil {
			return nil, nil, failures, err
		}

		doc, err := o.buildDocument(item)
		if err == nil {
			var summary *summarize.Summary
			summary, err = o.summarizer.Summarize(ctx, doc)
			if err == nil {
				if summary == nil {
					if err := o.store.MarkWorkItemSkipped(item.ID, "no substantive content"); err != nil {
						return nil, nil, failures, err
					}
					if err := o.store.AddRunCounts(runID, 0, 1); err != nil {
						return nil, nil, failures, err
					}
					continue
				}
				doc.Content = summary.Content
				docs = append(docs, doc)
				itemsByDoc[doc.ID] = item
				item.ProcessedData, _ = json.Marshal(summary)
				continue
			}
		}

		failures++
		log.Warnw("Work item failed during summarize",
			logger.FieldItemID, item.ID,
			logger.FieldError, err,
		)
		if markErr := o.store.MarkWorkItemFailed(item.ID, err); markErr != nil {
			return nil, nil, failures, markErr
		}
	}
	return docs, itemsByDoc, failures, nil
}

// storeBatch chunks, embeds and stores one batch of summarized documents,
// then settles their work items.
func (o *Orchestrator) storeBatch(ctx context.Context, runID string, docs []document.Document, itemsByDoc map[string]*queue.WorkItem, log *zap.SugaredLogger) (int, int, error) {
	chunkParent := make(map[string]string)
	var chunks []document.Document
	for _, doc := range docs {
		for _, ch := range o.chunker.ChunkDocument(doc) {
			chunkParent[ch.ID] = doc.ID
			chunks = append(chunks, ch)
		}
	}
	if len(chunks) == 0 {
		return 0, 0, errors.Newf("batch of %d documents produced no chunks", len(docs))
	}

	embedded, err := o.batcher.BatchProcess(ctx, chunks)
	if err != nil {
		return 0, 0, err
	}
	if err := o.vectors.Store(ctx, embedded); err != nil {
		return 0, 0, err
	}

	// Settle each item on whether any of its chunks made it through the
	// batcher; skipped sub-batches surface here as item failures. The
	// batcher may have re-split an oversize chunk, in which case the
	// stored id's parent is recorded in its metadata.
	storedByDoc := make(map[string]int, len(docs))
	for _, e := range embedded {
		id := e.ID
		if orig, ok := e.Metadata[document.MetaOriginalDoc].(string); ok {
			id = orig
		}
		if parent, ok := chunkParent[id]; ok {
			storedByDoc[parent]++
		}
	}

	var completed, failed int
	for _, doc := range docs {
		item := itemsByDoc[doc.ID]
		if item == nil {
			continue
		}
		if storedByDoc[doc.ID] == 0 {
			failed++
			if err := o.store.MarkWorkItemFailed(item.ID, errors.Newf("no embeddings stored for %s", doc.ID)); err != nil {
				return completed, failed, err
			}
			continue
		}
		if err := o.store.MarkWorkItemCompleted(item.ID, item.ProcessedData); err != nil {
			return completed, failed, err
		}
		if err := o.store.AddRunCounts(runID, 1, 1); err != nil {
			return completed, failed, err
		}
		completed++
	}

	log.Debugw("Stored batch",
		logger.FieldCount, len(embedded),
		"documents", len(docs),
	)
	return completed, failed, nil
}

func (o *Orchestrator) buildDocument(item *queue.WorkItem) (document.Document, error) {
	var data collect.ItemData
	if err := json.Unmarshal(item.SourceData, &data); err != nil {
		return document.Document{}, errors.Wrapf(err, "failed to decode source data for %s", item.ID)
	}

	content := data.Title
	if data.Body != "" {
		content += "\n\n" + data.Body
	}
	content = textutil.ValidateAndTruncateContent(content, o.maxContentBytes)

	return document.Document{
		ID:      textutil.EnsureSafeID(item.ItemID),
		Content: content,
		Metadata: map[string]any{
			document.MetaSourceType: string(item.ItemType),
			document.MetaTitle:      data.Title,
			document.MetaURL:        data.URL,
		},
	}, nil
}

// checkCancellation maps context cancellation onto the run record. Safe to
// call repeatedly; the run is only marked once.
func (o *Orchestrator) checkCancellation(ctx context.Context, runID string) error {
	if ctx.Err() == nil {
		return nil
	}
	if err := o.store.MarkRunCancelled(runID, "cancelled by caller"); err != nil {
		o.log.Errorw("Failed to mark run cancelled",
			logger.FieldRunID, runID,
			logger.FieldError, err,
		)
	}
	return errors.Wrapf(ErrRunCancelled, "run %s", runID)
}

func (o *Orchestrator) reloadRun(runID string, runErr error) (*queue.CollectionRun, error) {
	run, err := o.store.GetCollectionRun(runID)
	if err != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, err
	}
	return run, runErr
}
