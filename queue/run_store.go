package queue

import (
	"database/sql"

	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
)

// CreateCollectionRun inserts a new run.
func (s *Store) CreateCollectionRun(run *CollectionRun) error {
	_, err := s.db.Exec(`
		INSERT INTO collection_runs (
			id, source, status, current_phase, progress_message,
			documents_collected, documents_processed, total_estimated,
			error_message, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Source,
		run.Status,
		run.CurrentPhase,
		run.ProgressMessage,
		run.DocumentsCollected,
		run.DocumentsProcessed,
		run.TotalEstimated,
		run.ErrorMessage,
		run.StartedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create collection run")
	}
	return nil
}

// GetCollectionRun retrieves a run by ID.
func (s *Store) GetCollectionRun(id string) (*CollectionRun, error) {
	query := `SELECT ` + StandardRunSelectColumns() + ` FROM collection_runs WHERE id = ?`

	var run CollectionRun
	args := &RunScanArgs{}
	err := s.db.QueryRow(query, id).Scan(GetRunScanTargets(&run, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf("collection run not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get collection run")
	}
	if args.CompletedAt.Valid {
		run.CompletedAt = &args.CompletedAt.Time
	}
	return &run, nil
}

// UpdateRunProgress records the run's current phase and progress message.
func (s *Store) UpdateRunProgress(runID, phase, message string) error {
	_, err := s.db.Exec(`
		UPDATE collection_runs
		SET current_phase = ?, progress_message = ?
		WHERE id = ?
	`, phase, message, runID)
	if err != nil {
		return errors.Wrapf(err, "failed to update progress for run %s", runID)
	}
	return nil
}

// AddRunCounts adds to the run's collected/processed document counters.
func (s *Store) AddRunCounts(runID string, collected, processed int) error {
	_, err := s.db.Exec(`
		UPDATE collection_runs
		SET documents_collected = documents_collected + ?,
		    documents_processed = documents_processed + ?
		WHERE id = ?
	`, collected, processed, runID)
	if err != nil {
		return errors.Wrapf(err, "failed to add counts for run %s", runID)
	}
	return nil
}

// SetRunTotalEstimated records how many items the run expects to process.
func (s *Store) SetRunTotalEstimated(runID string, total int) error {
	_, err := s.db.Exec(
		`UPDATE collection_runs SET total_estimated = ? WHERE id = ?`,
		total, runID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to set total estimate for run %s", runID)
	}
	return nil
}

// MarkRunCancelled moves a run to cancelled and cancels its outstanding
// work items.
func (s *Store) MarkRunCancelled(runID, reason string) error {
	now := s.timeNow().UTC()
	_, err := s.db.Exec(`
		UPDATE collection_runs
		SET status = 'cancelled', error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'running'
	`, reason, now, runID)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel run %s", runID)
	}

	cancelled, err := s.MarkWorkItemsCancelled(runID)
	if err != nil {
		return err
	}
	s.log.Infow("Collection run cancelled",
		logger.FieldRunID, runID,
		logger.FieldCount, cancelled,
	)
	return nil
}

// MarkRunFailed moves a run to failed with an error message.
func (s *Store) MarkRunFailed(runID string, runErr error) error {
	now := s.timeNow().UTC()
	_, err := s.db.Exec(`
		UPDATE collection_runs
		SET status = 'failed', error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'running'
	`, runErr.Error(), now, runID)
	if err != nil {
		return errors.Wrapf(err, "failed to mark run %s failed", runID)
	}
	return nil
}

// CheckAndCompleteCollectionRun finalizes a run once no pending or running
// jobs remain for it. The run fails only when every job failed; any
// completed job makes the run completed, counting partial success.
func (s *Store) CheckAndCompleteCollectionRun(runID string) error {
	var pending, completed, failed int
	err := s.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN status IN ('pending', 'running') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM jobs
		WHERE collection_run_id = ?
	`, runID).Scan(&pending, &completed, &failed)
	if err != nil {
		return errors.Wrapf(err, "failed to count jobs for run %s", runID)
	}

	if pending > 0 {
		return nil
	}

	status := RunStatusCompleted
	if completed == 0 && failed > 0 {
		status = RunStatusFailed
	}

	now := s.timeNow().UTC()
	result, err := s.db.Exec(`
		UPDATE collection_runs
		SET status = ?, completed_at = ?
		WHERE id = ? AND status = 'running'
	`, status, now, runID)
	if err != nil {
		return errors.Wrapf(err, "failed to finalize run %s", runID)
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		s.log.Infow("Collection run finalized",
			logger.FieldRunID, runID,
			logger.FieldStatus, string(status),
			"jobs_completed", completed,
			"jobs_failed", failed,
		)
	}
	return nil
}
