// Package vectorstore persists embedded documents and serves vector
// similarity search over them.
package vectorstore

import (
	"context"

	"github.com/corvid-labs/granary/document"
)

// Store is the vector persistence port. Implementations must make Store
// idempotent per document ID so re-processing a work item never duplicates.
type Store interface {
	// Store upserts embedded documents into the index.
	Store(ctx context.Context, docs []document.Embedded) error
	// Search returns up to limit documents nearest to query, filtered to
	// similarity >= threshold, most similar first.
	Search(ctx context.Context, query []float32, limit int, threshold float32) ([]document.SearchResult, error)
	// Delete removes a document from the index. Missing IDs are not errors.
	Delete(ctx context.Context, id string) error
	// Count returns how many documents are stored.
	Count(ctx context.Context) (int, error)
}
