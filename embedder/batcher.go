package embedder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/chunk"
	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/ratelimit"
	"github.com/corvid-labs/granary/textutil"
)

// Config holds batching budgets
type Config struct {
	SafeTokenLimit int // provider max tokens minus safety margin
	BatchSizeHint  int // starting batch size for the prefix scan
}

// DefaultConfig returns budgets for a typical embedding provider
func DefaultConfig() Config {
	return Config{
		SafeTokenLimit: 8192 - 500,
		BatchSizeHint:  20,
	}
}

const (
	// Inter-batch delay bounds: a small proportional pause between
	// successful batches smooths provider load
	minBatchDelay = 100 * time.Millisecond
	maxBatchDelay = 300 * time.Millisecond
)

// Batcher drives the embedding provider in token-budget-sized batches.
type Batcher struct {
	provider Provider
	limiter  *ratelimit.Limiter
	chunker  *chunk.Chunker
	cfg      Config
	log      *zap.SugaredLogger

	// Injectable for testing
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatcher creates a batcher. The limiter paces every provider call; the
// chunker splits documents that exceed the token budget on their own.
func NewBatcher(provider Provider, limiter *ratelimit.Limiter, chunker *chunk.Chunker, cfg Config, log *zap.SugaredLogger) *Batcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.SafeTokenLimit <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.BatchSizeHint <= 0 {
		cfg.BatchSizeHint = DefaultConfig().BatchSizeHint
	}
	return &Batcher{
		provider: provider,
		limiter:  limiter,
		chunker:  chunker,
		cfg:      cfg,
		log:      log,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BatchProcess embeds documents and returns the embedded results. Documents
// too large for the token budget are split first. A failing batch is skipped
// after retries rather than aborting the whole run; the error return is
// reserved for context cancellation.
func (b *Batcher) BatchProcess(ctx context.Context, docs []document.Document) ([]document.Embedded, error) {
	prepared := b.splitOversized(docs)

	var out []document.Embedded
	remaining := prepared
	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		texts := make([]string, len(remaining))
		for i, d := range remaining {
			texts[i] = d.Content
		}
		size := textutil.FindMaxBatchSize(texts, b.cfg.BatchSizeHint, b.cfg.SafeTokenLimit)

		batch := remaining[:size]
		embedded, consumed, err := b.embedWithNarrowing(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			// Skip this batch and keep going with the next one
			b.log.Warnw("Skipping batch after exhausted retries",
				logger.FieldBatchSize, size,
				logger.FieldError, err,
			)
			remaining = remaining[size:]
			continue
		}

		out = append(out, embedded...)
		remaining = remaining[consumed:]

		if len(remaining) > 0 {
			if err := b.sleep(ctx, batchDelay(consumed)); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// embedWithNarrowing embeds a batch, halving it once on a provider
// token-limit rejection. Returns the embedded documents and how many input
// documents were consumed.
func (b *Batcher) embedWithNarrowing(ctx context.Context, batch []document.Document) ([]document.Embedded, int, error) {
	embedded, err := b.embedBatch(ctx, batch)
	if err == nil {
		return embedded, len(batch), nil
	}

	if !IsTokenLimit(err) || len(batch) == 1 {
		return nil, 0, err
	}

	// The chars/4 estimate undershot the real tokenizer. Retry once at half
	// size; the untried half stays in the remaining queue.
	half := len(batch) / 2
	b.log.Infow("Provider token limit hit, halving batch",
		logger.FieldBatchSize, len(batch),
		"retry_size", half,
	)
	embedded, err = b.embedBatch(ctx, batch[:half])
	if err != nil {
		return nil, 0, err
	}
	return embedded, half, nil
}

// embedBatch performs one paced provider call for a batch.
func (b *Batcher) embedBatch(ctx context.Context, batch []document.Document) ([]document.Embedded, error) {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = d.Content
	}

	vectors, err := ratelimit.Do(ctx, b.limiter, func(ctx context.Context) ([][]float32, error) {
		return b.provider.Embed(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, errors.Newf("provider returned %d vectors for %d texts", len(vectors), len(batch))
	}

	out := make([]document.Embedded, len(batch))
	for i, d := range batch {
		out[i] = document.Embedded{Document: d, Embedding: vectors[i]}
	}
	return out, nil
}

// splitOversized replaces documents whose estimated token count exceeds the
// safe limit with their chunks, tagging each chunk with its provenance.
func (b *Batcher) splitOversized(docs []document.Document) []document.Document {
	var out []document.Document
	for _, doc := range docs {
		if textutil.EstimateTokens(doc.Content) <= b.cfg.SafeTokenLimit {
			out = append(out, doc)
			continue
		}
		out = append(out, b.SplitOversizedDocument(doc)...)
	}
	return out
}

// SplitOversizedDocument chunks a document that exceeds the token budget on
// its own, tagging every chunk with originalDocumentId, chunkIndex and
// isChunk metadata.
func (b *Batcher) SplitOversizedDocument(doc document.Document) []document.Document {
	chunks := b.chunker.ChunkDocument(doc)
	for i := range chunks {
		chunks[i].Metadata[document.MetaOriginalDoc] = doc.ID
		chunks[i].Metadata[document.MetaIsChunk] = true
	}
	b.log.Debugw("Split oversized document",
		logger.FieldItemID, doc.ID,
		logger.FieldCount, len(chunks),
		logger.FieldTokens, textutil.EstimateTokens(doc.Content),
	)
	return chunks
}

// batchDelay scales the inter-batch pause with the batch size just sent.
func batchDelay(batchSize int) time.Duration {
	delay := minBatchDelay + time.Duration(batchSize)*10*time.Millisecond
	if delay > maxBatchDelay {
		delay = maxBatchDelay
	}
	return delay
}
