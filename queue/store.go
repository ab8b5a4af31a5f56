package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/notify"
)

// StaleJobTimeout is how long a job may sit in running before dequeue
// assumes its worker died and resets it to pending.
const StaleJobTimeout = 5 * time.Minute

// Store handles persistence of jobs, work items and collection runs.
type Store struct {
	db        *sql.DB
	publisher notify.Publisher // may be nil
	log       *zap.SugaredLogger

	staleTimeout time.Duration
	timeNow      func() time.Time
}

// NewStore creates a job store. The publisher is optional; when nil,
// workers rely on polling alone.
func NewStore(db *sql.DB, publisher notify.Publisher, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		db:           db,
		publisher:    publisher,
		log:          log,
		staleTimeout: StaleJobTimeout,
		timeNow:      time.Now,
	}
}

// SetStaleTimeout overrides how long a running job may sit before dequeue
// reclaims it.
func (s *Store) SetStaleTimeout(d time.Duration) {
	if d > 0 {
		s.staleTimeout = d
	}
}

// CreateJob inserts a new job and wakes idle workers when a publisher is
// configured. Publish failures are logged, never propagated; the poll loop
// picks the job up regardless.
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, job_type, status, priority, payload, source,
			collection_run_id, retry_count, max_retries, error_message,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	runID := sql.NullString{String: job.CollectionRunID, Valid: job.CollectionRunID != ""}
	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.db.Exec(query,
		job.ID,
		job.Kind,
		job.Status,
		job.Priority,
		payload,
		job.Source,
		runID,
		job.RetryCount,
		job.MaxRetries,
		job.ErrorMessage,
		job.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	s.publishJobCreated(job)
	return nil
}

func (s *Store) publishJobCreated(job *Job) {
	if s.publisher == nil {
		return
	}

	data, err := json.Marshal(notify.JobCreatedMessage{
		JobID:    job.ID,
		JobType:  string(job.Kind),
		Priority: job.Priority,
	})
	if err == nil {
		err = s.publisher.Publish(notify.SubjectJobCreated, data)
	}
	if err != nil {
		s.log.Warnw("Job created notification failed",
			logger.FieldJobID, job.ID,
			logger.FieldError, err,
		)
	}
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return &job, nil
}

// GetNextJobs claims up to limit pending jobs, marking them running. Stale
// running jobs whose worker presumably died are reset to pending first, so
// a crashed worker never strands work for good.
func (s *Store) GetNextJobs(limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin dequeue tx")
	}
	defer tx.Rollback()

	now := s.timeNow().UTC()
	cutoff := now.Add(-s.staleTimeout)

	result, err := tx.Exec(`
		UPDATE jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'running' AND started_at < ?
	`, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reset stale jobs")
	}
	if reset, err := result.RowsAffected(); err == nil && reset > 0 {
		s.log.Warnw("Reset stale running jobs to pending",
			logger.FieldCount, reset,
		)
	}

	rows, err := tx.Query(`
		SELECT `+StandardJobSelectColumns()+`
		FROM jobs
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select pending jobs")
	}

	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := ScanJobFromRows(rows, &job); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "error iterating pending jobs")
	}
	rows.Close()

	for _, job := range jobs {
		job.Status = JobStatusRunning
		started := now
		job.StartedAt = &started
		if _, err := tx.Exec(
			`UPDATE jobs SET status = 'running', started_at = ? WHERE id = ?`,
			started, job.ID,
		); err != nil {
			return nil, errors.Wrapf(err, "failed to claim job %s", job.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit dequeue tx")
	}

	return jobs, nil
}

// UpdateJob writes the job's mutable fields back to the database.
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE jobs
		SET status = ?,
		    payload = ?,
		    retry_count = ?,
		    error_message = ?,
		    started_at = ?,
		    completed_at = ?
		WHERE id = ?
	`

	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.db.Exec(query,
		job.Status,
		payload,
		job.RetryCount,
		job.ErrorMessage,
		job.StartedAt,
		job.CompletedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	return nil
}

// MarkJobCompleted finalizes a successful job and re-evaluates its run.
func (s *Store) MarkJobCompleted(job *Job) error {
	job.Complete()
	if err := s.UpdateJob(job); err != nil {
		return err
	}
	return s.checkRunAfterJob(job)
}

// MarkJobFailed records a job failure. While retries remain the job goes
// back to pending; otherwise it fails permanently and its run is
// re-evaluated.
func (s *Store) MarkJobFailed(job *Job, jobErr error) error {
	job.Fail(jobErr)

	if job.Status == JobStatusPending {
		s.log.Infow("Job failed, will retry",
			logger.FieldJobID, job.ID,
			logger.FieldJobType, string(job.Kind),
			logger.FieldAttempt, job.RetryCount,
			logger.FieldError, jobErr,
		)
	} else {
		s.log.Errorw("Job failed permanently",
			logger.FieldJobID, job.ID,
			logger.FieldJobType, string(job.Kind),
			logger.FieldAttempt, job.RetryCount,
			logger.FieldError, jobErr,
		)
	}

	if err := s.UpdateJob(job); err != nil {
		return err
	}
	return s.checkRunAfterJob(job)
}

func (s *Store) checkRunAfterJob(job *Job) error {
	if job.CollectionRunID == "" {
		return nil
	}
	return s.CheckAndCompleteCollectionRun(job.CollectionRunID)
}

// CleanupOldJobs removes terminal jobs older than the specified duration.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := s.timeNow().UTC().Add(-olderThan)

	result, err := s.db.Exec(`
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed')
		  AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// FindActiveJobBySourceAndKind finds a pending or running job for a source.
// Returns nil when none exists; used to avoid double-enqueue.
func (s *Store) FindActiveJobBySourceAndKind(source string, kind JobKind) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE source = ?
		  AND job_type = ?
		  AND status IN ('pending', 'running')
		ORDER BY created_at DESC
		LIMIT 1`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query, source, kind), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active job by source and kind")
	}
	return &job, nil
}
