package queue

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the overall state of a collection run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// CollectionRun tracks one end-to-end ingestion pass over a source.
type CollectionRun struct {
	ID                 string     `json:"id"`
	Source             string     `json:"source"`
	Status             RunStatus  `json:"status"`
	CurrentPhase       string     `json:"current_phase,omitempty"`
	ProgressMessage    string     `json:"progress_message,omitempty"`
	DocumentsCollected int        `json:"documents_collected"`
	DocumentsProcessed int        `json:"documents_processed"`
	TotalEstimated     int        `json:"total_estimated"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// NewCollectionRun creates a running collection run for a source.
func NewCollectionRun(source string) *CollectionRun {
	return &CollectionRun{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// IsTerminal reports whether the run reached a final state.
func (r *CollectionRun) IsTerminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}
