package embedder

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/granary/chunk"
	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/ratelimit"
)

// fakeProvider scripts per-call outcomes. A nil error in script means the
// call succeeds with one unit vector per input text.
type fakeProvider struct {
	calls  [][]string
	script []error
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	call := len(f.calls)
	f.calls = append(f.calls, append([]string(nil), texts...))

	if call < len(f.script) && f.script[call] != nil {
		return nil, f.script[call]
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func newTestBatcher(t *testing.T, provider Provider, cfg Config) *Batcher {
	t.Helper()

	// Fake clock: no real time passes during pacing or inter-batch delays
	limiter := ratelimit.NewLimiterWithClock(
		ratelimit.DefaultConfig(1000), nil, nil,
		func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	)
	chunker := chunk.NewChunker(chunk.DefaultConfig(), nil)
	b := NewBatcher(provider, limiter, chunker, cfg, nil)
	b.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return b
}

func someDocs(n int, contentLen int) []document.Document {
	docs := make([]document.Document, n)
	for i := range docs {
		docs[i] = document.Document{
			ID:      fmt.Sprintf("doc_%d", i),
			Content: strings.Repeat("x", contentLen),
		}
	}
	return docs
}

func TestBatchProcessEmbedsAll(t *testing.T) {
	provider := &fakeProvider{}
	b := newTestBatcher(t, provider, Config{SafeTokenLimit: 1000, BatchSizeHint: 10})

	docs := someDocs(5, 100)
	out, err := b.BatchProcess(context.Background(), docs)

	require.NoError(t, err)
	require.Len(t, out, 5)
	for i, e := range out {
		assert.Equal(t, docs[i].ID, e.ID)
		assert.Equal(t, []float32{1, 0, 0}, e.Embedding)
	}
	assert.Len(t, provider.calls, 1, "all five fit one batch")
}

func TestBatchProcessSplitsByBudget(t *testing.T) {
	provider := &fakeProvider{}
	// 100 chars = 25 tokens each; budget of 60 tokens fits two per batch
	b := newTestBatcher(t, provider, Config{SafeTokenLimit: 60, BatchSizeHint: 10})

	out, err := b.BatchProcess(context.Background(), someDocs(5, 100))

	require.NoError(t, err)
	assert.Len(t, out, 5)
	require.Len(t, provider.calls, 3)
	assert.Len(t, provider.calls[0], 2)
	assert.Len(t, provider.calls[1], 2)
	assert.Len(t, provider.calls[2], 1)
}

func TestTokenLimitHalvesAndSucceeds(t *testing.T) {
	provider := &fakeProvider{
		script: []error{ratelimit.Permanent(&TokenLimitError{Message: "maximum token limit"})},
	}
	b := newTestBatcher(t, provider, Config{SafeTokenLimit: 1000, BatchSizeHint: 10})

	// Provider rejects the 2-document batch once, succeeds at half size;
	// the second document is re-queued and embedded on the next pass
	out, err := b.BatchProcess(context.Background(), someDocs(2, 100))

	require.NoError(t, err)
	assert.Len(t, out, 2, "both documents embedded despite the rejection")
	require.Len(t, provider.calls, 3)
	assert.Len(t, provider.calls[0], 2) // rejected
	assert.Len(t, provider.calls[1], 1) // half retry
	assert.Len(t, provider.calls[2], 1) // remainder
}

func TestTokenLimitTwiceSkipsBatch(t *testing.T) {
	tokenErr := ratelimit.Permanent(&TokenLimitError{})
	provider := &fakeProvider{script: []error{tokenErr, tokenErr}}
	b := newTestBatcher(t, provider, Config{SafeTokenLimit: 1000, BatchSizeHint: 10})

	out, err := b.BatchProcess(context.Background(), someDocs(2, 100))

	require.NoError(t, err, "a skipped batch does not abort the run")
	assert.Empty(t, out)
	assert.Len(t, provider.calls, 2)
}

func TestRetryableErrorSkipsAfterRetries(t *testing.T) {
	boom := errors.New("upstream hiccup")
	provider := &fakeProvider{script: []error{boom, boom, boom}}
	b := newTestBatcher(t, provider, Config{SafeTokenLimit: 60, BatchSizeHint: 10})

	// First batch (2 docs) fails through all limiter retries and is
	// skipped; remaining batches still process
	out, err := b.BatchProcess(context.Background(), someDocs(4, 100))

	require.NoError(t, err)
	assert.Len(t, out, 2, "later batches survive an earlier skipped batch")
}

func TestOversizedDocumentSplitBeforeBatching(t *testing.T) {
	provider := &fakeProvider{}
	b := newTestBatcher(t, provider, Config{SafeTokenLimit: 7000, BatchSizeHint: 10})

	big := document.Document{
		ID:      "big_doc",
		Content: strings.Repeat("lorem ipsum dolor sit amet ", 1200), // ~30k chars
	}

	chunks := b.SplitOversizedDocument(big)
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.Equal(t, true, ch.Metadata[document.MetaIsChunk])
		assert.Equal(t, "big_doc", ch.Metadata[document.MetaOriginalDoc])
		assert.Equal(t, i, ch.Metadata[document.MetaChunkIndex])
		assert.Equal(t, fmt.Sprintf("big_doc_chunk_%d", i), ch.ID)
	}

	out, err := b.BatchProcess(context.Background(), []document.Document{big})
	require.NoError(t, err)
	assert.Len(t, out, len(chunks))
}

func TestBatchProcessHonorsCancellation(t *testing.T) {
	provider := &fakeProvider{}
	b := newTestBatcher(t, provider, Config{SafeTokenLimit: 1000, BatchSizeHint: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.BatchProcess(ctx, someDocs(3, 100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	t.Run("zero magnitude yields zero, not NaN", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	})

	t.Run("dimension mismatch yields zero", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
	})
}

func TestCalculateSimilarity(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{{1, 0}, {0, 1}, {0, 0}}

	scores := CalculateSimilarity(query, candidates)
	require.Len(t, scores, 3)
	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.InDelta(t, 0.0, scores[1], 1e-9)
	assert.Equal(t, 0.0, scores[2])
}
