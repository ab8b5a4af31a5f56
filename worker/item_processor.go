package worker

import (
	"context"
	"encoding/json"

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

// ItemProcessor runs a single work item through summarize, chunk, embed
// and store. It owns the work item state transitions and run counters.
type ItemProcessor struct {
	store      *queue.Store
	summarizer summarize.Summarizer
	chunker    *chunk.Chunker
	batcher    *embedder.Batcher
	vectors    vectorstore.Store

	maxContentBytes int
	log             *zap.SugaredLogger
}

// NewItemProcessor creates an item processor.
func NewItemProcessor(
	store *queue.Store,
	summarizer summarize.Summarizer,
	chunker *chunk.Chunker,
	batcher *embedder.Batcher,
	vectors vectorstore.Store,
	maxContentBytes int,
	log *zap.SugaredLogger,
) *ItemProcessor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ItemProcessor{
		store:           store,
		summarizer:      summarizer,
		chunker:         chunker,
		batcher:         batcher,
		vectors:         vectors,
		maxContentBytes: maxContentBytes,
		log:             log,
	}
}

// ProcessWorkItem takes one work item from pending to a terminal state.
// A quality-gate rejection is a skip, not an error; only real failures
// propagate so the surrounding job can retry.
func (p *ItemProcessor) ProcessWorkItem(ctx context.Context, itemID string) error {
	item, err := p.store.GetWorkItem(itemID)
	if err != nil {
		return err
	}
	if item.Status != queue.WorkItemPending {
		// Already handled, likely by an earlier attempt of a retried job
		return nil
	}

	run, err := p.store.GetCollectionRun(item.CollectionRunID)
	if err != nil {
		return err
	}
	if run.Status == queue.RunStatusCancelled {
		return nil // cancellation already swept the run's items
	}

	if err := p.store.MarkWorkItemProcessing(item.ID); err != nil {
		return err
	}

	log := p.log.With(
		logger.FieldItemID, item.ID,
		logger.FieldItemType, string(item.ItemType),
		logger.FieldRunID, item.CollectionRunID,
	)

	summary, err := p.summarizeItem(ctx, item)
	if err != nil {
		if markErr := p.store.MarkWorkItemFailed(item.ID, err); markErr != nil {
			log.Errorw("Failed to record work item failure",
				logger.FieldError, markErr,
			)
		}
		return err
	}
	if summary == nil {
		log.Infow("Work item skipped by quality gate")
		if err := p.store.MarkWorkItemSkipped(item.ID, "no substantive content"); err != nil {
			return err
		}
		return p.store.AddRunCounts(item.CollectionRunID, 0, 1)
	}

	stored, err := p.embedAndStore(ctx, item, summary)
	if err != nil {
		if markErr := p.store.MarkWorkItemFailed(item.ID, err); markErr != nil {
			log.Errorw("Failed to record work item failure",
				logger.FieldError, markErr,
			)
		}
		return err
	}

	processedData, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrapf(err, "failed to encode summary for %s", item.ID)
	}
	if err := p.store.MarkWorkItemCompleted(item.ID, processedData); err != nil {
		return err
	}

	log.Infow("Work item processed",
		logger.FieldCount, stored,
	)
	return p.store.AddRunCounts(item.CollectionRunID, 1, 1)
}

// summarizeItem builds the source document and runs the quality gate.
func (p *ItemProcessor) summarizeItem(ctx context.Context, item *queue.WorkItem) (*summarize.Summary, error) {
	var data collect.ItemData
	if err := json.Unmarshal(item.SourceData, &data); err != nil {
		return nil, errors.Wrapf(err, "failed to decode source data for %s", item.ID)
	}

	content := data.Title
	if data.Body != "" {
		content += "\n\n" + data.Body
	}
	content = textutil.ValidateAndTruncateContent(content, p.maxContentBytes)

	doc := document.Document{
		ID:      textutil.EnsureSafeID(item.ItemID),
		Content: content,
		Metadata: map[string]any{
			document.MetaSourceType: string(item.ItemType),
			document.MetaTitle:      data.Title,
			document.MetaURL:        data.URL,
		},
	}
	return p.summarizer.Summarize(ctx, doc)
}

// embedAndStore chunks the summary, embeds the chunks and upserts them.
// Returns how many documents were stored.
func (p *ItemProcessor) embedAndStore(ctx context.Context, item *queue.WorkItem, summary *summarize.Summary) (int, error) {
	var data collect.ItemData
	if err := json.Unmarshal(item.SourceData, &data); err != nil {
		return 0, errors.Wrapf(err, "failed to decode source data for %s", item.ID)
	}

	doc := document.Document{
		ID:      textutil.EnsureSafeID(item.ItemID),
		Content: summary.Content,
		Metadata: map[string]any{
			document.MetaSourceType: string(item.ItemType),
			document.MetaTitle:      data.Title,
			document.MetaURL:        data.URL,
		},
	}

	chunks := p.chunker.ChunkDocument(doc)
	if len(chunks) == 0 {
		return 0, errors.Newf("summary for %s produced no chunks", item.ID)
	}

	embedded, err := p.batcher.BatchProcess(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if len(embedded) == 0 {
		return 0, errors.Newf("embedding produced no vectors for %s", item.ID)
	}

	if err := p.vectors.Store(ctx, embedded); err != nil {
		return 0, err
	}
	return len(embedded), nil
}
