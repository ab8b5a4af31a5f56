package queue

import (
	"encoding/json"

	"github.com/corvid-labs/granary/errors"
)

// Typed payloads, one per job kind. They are marshaled at enqueue time and
// decoded again immediately after dequeue; nothing downstream of the handler
// boundary sees raw JSON.

// CollectSourcePayload drives a collect_source job.
type CollectSourcePayload struct {
	Source    string `json:"source"`               // "github" or "forum"
	RunID     string `json:"run_id"`
	BatchSize int    `json:"batch_size,omitempty"` // items per process_batch fan-out
}

// ProcessBatchPayload drives a process_batch job.
type ProcessBatchPayload struct {
	RunID       string   `json:"run_id"`
	WorkItemIDs []string `json:"work_item_ids"`
}

// ProcessItemPayload drives a process_item job.
type ProcessItemPayload struct {
	RunID      string `json:"run_id"`
	WorkItemID string `json:"work_item_id"`
}

// ProcessPendingItemsPayload drives a process_pending_items job.
type ProcessPendingItemsPayload struct {
	RunID     string `json:"run_id"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// DecodePayload unmarshals raw into dst, with job context in the error.
func DecodePayload(job *Job, dst any) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return errors.Wrapf(err, "failed to decode %s payload for job %s", job.Kind, job.ID)
	}
	return nil
}
