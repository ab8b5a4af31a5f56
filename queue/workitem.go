package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ItemType categorizes what kind of source material a work item holds.
type ItemType string

const (
	ItemTypeGitHubIssue ItemType = "github_issue"
	ItemTypeGitHubFile  ItemType = "github_file"
	ItemTypeForumPost   ItemType = "forum_post"
)

// WorkItemStatus represents the processing state of a single work item.
type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "pending"
	WorkItemProcessing WorkItemStatus = "processing"
	WorkItemCompleted  WorkItemStatus = "completed"
	WorkItemFailed     WorkItemStatus = "failed"
	// WorkItemSkipped marks items the quality filter dropped. Skips are not
	// failures and never fail a run.
	WorkItemSkipped   WorkItemStatus = "skipped"
	WorkItemCancelled WorkItemStatus = "cancelled"
)

// WorkItem is a single piece of source material within a collection run.
type WorkItem struct {
	ID              string          `json:"id"`
	CollectionRunID string          `json:"collection_run_id"`
	ItemType        ItemType        `json:"item_type"`
	ItemID          string          `json:"item_id"` // source-native identifier
	Status          WorkItemStatus  `json:"status"`
	SourceData      json.RawMessage `json:"source_data,omitempty"`
	ProcessedData   json.RawMessage `json:"processed_data,omitempty"`
	RetryCount      int             `json:"retry_count,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

// NewWorkItem creates a pending work item for a run.
func NewWorkItem(runID string, itemType ItemType, itemID string, sourceData json.RawMessage) *WorkItem {
	return &WorkItem{
		ID:              uuid.NewString(),
		CollectionRunID: runID,
		ItemType:        itemType,
		ItemID:          itemID,
		Status:          WorkItemPending,
		SourceData:      sourceData,
		CreatedAt:       time.Now().UTC(),
	}
}
