package vectorstore

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/granary/document"
	grtest "github.com/corvid-labs/granary/internal/testing"
)

const dims = 1536

// unitVector builds a deterministic 1536-dim unit vector concentrated on
// two axes, so distinct seeds give controlled similarities.
func unitVector(axis int, tilt float64) []float32 {
	v := make([]float32, dims)
	v[axis%dims] = float32(math.Cos(tilt))
	v[(axis+1)%dims] = float32(math.Sin(tilt))
	return v
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return NewSQLiteStore(grtest.CreateTestDB(t), "text-embedding-3-small", nil)
}

func embeddedDoc(id, content string, vec []float32) document.Embedded {
	return document.Embedded{
		Document: document.Document{
			ID:      id,
			Content: content,
			Metadata: map[string]any{
				document.MetaSourceType: "github",
			},
		},
		Embedding: vec,
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	original := []float32{0.5, -1.25, 3.75, 0}

	blob, err := SerializeEmbedding(original)
	require.NoError(t, err)
	assert.Len(t, blob, len(original)*4)

	decoded, err := DeserializeEmbedding(blob)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestSerializeRejectsEmpty(t *testing.T) {
	_, err := SerializeEmbedding(nil)
	assert.Error(t, err)

	_, err = DeserializeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err, "truncated blob must be rejected")
}

func TestStoreAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exact := unitVector(0, 0)
	near := unitVector(0, 0.1)
	far := unitVector(500, 0.3)

	err := store.Store(ctx, []document.Embedded{
		embeddedDoc("doc-exact", "the exact match", exact),
		embeddedDoc("doc-near", "a near match", near),
		embeddedDoc("doc-far", "something else entirely", far),
	})
	require.NoError(t, err)

	results, err := store.Search(ctx, exact, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "doc-exact", results[0].ID)
	assert.Equal(t, "doc-near", results[1].ID)
	assert.Equal(t, "doc-far", results[2].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[1].Score, results[2].Score)
	assert.Equal(t, "github", results[0].Metadata[document.MetaSourceType])
}

func TestSearchThresholdFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exact := unitVector(0, 0)
	orthogonal := unitVector(700, 0)

	require.NoError(t, store.Store(ctx, []document.Embedded{
		embeddedDoc("doc-exact", "match", exact),
		embeddedDoc("doc-orthogonal", "unrelated", orthogonal),
	}))

	// Orthogonal unit vectors sit at L2 distance sqrt(2), similarity ~0.29
	results, err := store.Search(ctx, exact, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-exact", results[0].ID)
}

func TestStoreIsIdempotentPerID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	vec := unitVector(0, 0)
	require.NoError(t, store.Store(ctx, []document.Embedded{
		embeddedDoc("doc-1", "first version", vec),
	}))
	require.NoError(t, store.Store(ctx, []document.Embedded{
		embeddedDoc("doc-1", "second version", vec),
	}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := store.Search(ctx, vec, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second version", results[0].Content)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	vec := unitVector(0, 0)
	require.NoError(t, store.Store(ctx, []document.Embedded{
		embeddedDoc("doc-1", "content", vec),
	}))

	require.NoError(t, store.Delete(ctx, "doc-1"))
	require.NoError(t, store.Delete(ctx, "doc-1"), "deleting a missing ID is not an error")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	results, err := store.Search(ctx, vec, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
