// Package summarize normalizes raw source material into concise summaries
// and acts as the pipeline's quality gate.
package summarize

import (
	"context"

	"github.com/corvid-labs/granary/document"
)

// Summary is the normalized output for one document.
type Summary struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Tokens  int    `json:"tokens,omitempty"`
}

// Summarizer is the normalization port. A nil Summary with a nil error
// means the document failed the quality gate and should be skipped, not
// treated as an error.
type Summarizer interface {
	Summarize(ctx context.Context, doc document.Document) (*Summary, error)
}
