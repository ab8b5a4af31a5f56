// Package embedder converts documents into vector embeddings in
// token-budget-sized batches, splitting oversized documents first and
// narrowing batches on provider-side limit errors.
package embedder

import (
	"context"
	"fmt"

	"github.com/corvid-labs/granary/errors"
)

// Provider is the embedding backend port. Implementations may reject a
// request with a TokenLimitError when the batch exceeds the provider's
// context window; the batcher reacts by shrinking the batch rather than
// failing the run.
type Provider interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenLimitError reports a provider-side token-limit rejection,
// distinguishable from generic failures so the batcher can narrow the batch.
type TokenLimitError struct {
	Message string
}

func (e *TokenLimitError) Error() string {
	if e.Message == "" {
		return "embedding provider rejected batch: token limit exceeded"
	}
	return fmt.Sprintf("embedding provider rejected batch: %s", e.Message)
}

// IsTokenLimit reports whether err is a provider token-limit rejection.
func IsTokenLimit(err error) bool {
	var tle *TokenLimitError
	return errors.As(err, &tle)
}
