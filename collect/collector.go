// Package collect fetches item listings from external sources. Collectors
// stay thin: they list and fetch raw material, and everything downstream
// (summarize, chunk, embed) happens in the pipeline.
package collect

import (
	"context"
	"encoding/json"

	"github.com/corvid-labs/granary/queue"
)

// ConditionalState carries the validators from a previous fetch so sources
// can answer 304 Not Modified instead of a full listing.
type ConditionalState struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Item is one piece of collected source material.
type Item struct {
	Type queue.ItemType  `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// ItemData is the normalized payload collectors put in Item.Data.
type ItemData struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Result is the outcome of one collection pass. NotModified means the
// source reported no changes since the given ConditionalState; Items is
// empty and that is not an error.
type Result struct {
	Items       []Item           `json:"items"`
	NotModified bool             `json:"not_modified,omitempty"`
	State       ConditionalState `json:"state"`
}

// Collector is the source port.
type Collector interface {
	// Source names the collector for run tracking and deduplication.
	Source() string
	// Collect lists items, honoring the previous conditional state.
	Collect(ctx context.Context, prev ConditionalState) (*Result, error)
}
