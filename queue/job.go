// Package queue provides the durable SQLite-backed job queue: jobs, work
// items and collection runs with their state machines.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/granary/errors"
)

// JobKind identifies which handler executes a job. The set is closed; an
// unknown kind fails the job at dequeue time instead of dispatching.
type JobKind string

const (
	// KindCollectSource fetches item listings from an external source and
	// fans out batch jobs.
	KindCollectSource JobKind = "collect_source"
	// KindProcessBatch expands a batch of collected items into per-item jobs.
	KindProcessBatch JobKind = "process_batch"
	// KindProcessItem summarizes, embeds and stores a single work item.
	KindProcessItem JobKind = "process_item"
	// KindProcessPendingItems drains remaining pending work items for a run,
	// re-enqueuing itself while any are left.
	KindProcessPendingItems JobKind = "process_pending_items"
)

// IsValidKind returns true if s names a known job kind.
func IsValidKind(s string) bool {
	switch JobKind(s) {
	case KindCollectSource, KindProcessBatch, KindProcessItem, KindProcessPendingItems:
		return true
	default:
		return false
	}
}

// IsCollection reports whether the kind talks to an external source, which
// makes it subject to the worker's start stagger.
func (k JobKind) IsCollection() bool {
	return k == KindCollectSource
}

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// DefaultMaxRetries bounds how many times a failing job is re-run before it
// is marked failed for good.
const DefaultMaxRetries = 3

// Job is one unit of queued work. Payload stays opaque JSON until the
// handler boundary, where it is decoded into the kind's typed payload.
type Job struct {
	ID              string          `json:"id"`
	Kind            JobKind         `json:"job_type"`
	Status          JobStatus       `json:"status"`
	Priority        int             `json:"priority"` // lower runs first
	Payload         json.RawMessage `json:"payload,omitempty"`
	Source          string          `json:"source,omitempty"` // for deduplication and logging
	CollectionRunID string          `json:"collection_run_id,omitempty"`
	RetryCount      int             `json:"retry_count,omitempty"`
	MaxRetries      int             `json:"max_retries"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewJob creates a pending job with a generated ID.
func NewJob(kind JobKind, source string, priority int, payload any) (*Job, error) {
	if !IsValidKind(string(kind)) {
		return nil, errors.Newf("unknown job kind: %s", kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s payload", kind)
	}

	return &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Status:     JobStatusPending,
		Priority:   priority,
		Payload:    raw,
		Source:     source,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// NewRunJob creates a pending job attached to a collection run.
func NewRunJob(kind JobKind, source string, priority int, runID string, payload any) (*Job, error) {
	job, err := NewJob(kind, source, priority, payload)
	if err != nil {
		return nil, err
	}
	job.CollectionRunID = runID
	return job, nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// Complete marks the job as completed
func (j *Job) Complete() {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
}

// Fail records a failure. The job goes back to pending while retries
// remain; once retryCount reaches maxRetries it is failed permanently.
func (j *Job) Fail(err error) {
	j.RetryCount++
	j.ErrorMessage = err.Error()

	if j.RetryCount >= j.MaxRetries {
		now := time.Now().UTC()
		j.Status = JobStatusFailed
		j.CompletedAt = &now
		return
	}

	j.Status = JobStatusPending
	j.StartedAt = nil
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
