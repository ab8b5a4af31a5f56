package queue

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
)

// SQLite caps bound parameters per statement (999 by default). Each work
// item row binds workItemInsertColumns parameters, so bulk inserts are
// chunked to stay under the ceiling.
const (
	maxBindParams         = 999
	workItemInsertColumns = 10
	workItemInsertChunk   = maxBindParams / workItemInsertColumns
)

// CreateWorkItems bulk-inserts work items, chunked to the bound-parameter
// ceiling. The whole call runs in one transaction.
func (s *Store) CreateWorkItems(items []*WorkItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin work item tx")
	}
	defer tx.Rollback()

	for start := 0; start < len(items); start += workItemInsertChunk {
		end := start + workItemInsertChunk
		if end > len(items) {
			end = len(items)
		}
		if err := insertWorkItemChunk(tx, items[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit work items")
	}

	s.log.Debugw("Created work items",
		logger.FieldCount, len(items),
	)
	return nil
}

func insertWorkItemChunk(tx *sql.Tx, items []*WorkItem) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO work_items (
		id, collection_run_id, item_type, item_id, status,
		source_data, retry_count, error_message, created_at, processed_at
	) VALUES `)

	args := make([]any, 0, len(items)*workItemInsertColumns)
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

		sourceData := string(item.SourceData)
		if sourceData == "" {
			sourceData = "{}"
		}
		args = append(args,
			item.ID,
			item.CollectionRunID,
			item.ItemType,
			item.ItemID,
			item.Status,
			sourceData,
			item.RetryCount,
			item.ErrorMessage,
			item.CreatedAt,
			item.ProcessedAt,
		)
	}

	if _, err := tx.Exec(sb.String(), args...); err != nil {
		return errors.Wrapf(err, "failed to insert work item chunk of %d", len(items))
	}
	return nil
}

// GetWorkItem retrieves a work item by ID.
func (s *Store) GetWorkItem(id string) (*WorkItem, error) {
	query := `SELECT ` + StandardWorkItemSelectColumns() + ` FROM work_items WHERE id = ?`

	var item WorkItem
	err := ScanWorkItemFromRow(s.db.QueryRow(query, id), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf("work item not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get work item")
	}
	return &item, nil
}

// GetPendingWorkItems returns up to limit pending work items for a run in
// creation order. A limit <= 0 returns all of them.
func (s *Store) GetPendingWorkItems(runID string, limit int) ([]*WorkItem, error) {
	query := `SELECT ` + StandardWorkItemSelectColumns() + `
		FROM work_items
		WHERE collection_run_id = ? AND status = 'pending'
		ORDER BY created_at ASC`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending work items")
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		var item WorkItem
		if err := ScanWorkItemFromRows(rows, &item); err != nil {
			return nil, errors.Wrap(err, "failed to scan work item")
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating pending work items")
	}
	return items, nil
}

// MarkWorkItemProcessing transitions a work item to processing.
func (s *Store) MarkWorkItemProcessing(id string) error {
	return s.setWorkItemStatus(id, WorkItemProcessing, "", nil)
}

// MarkWorkItemCompleted finalizes a work item with its processed output.
func (s *Store) MarkWorkItemCompleted(id string, processedData json.RawMessage) error {
	now := s.timeNow().UTC()
	_, err := s.db.Exec(`
		UPDATE work_items
		SET status = 'completed', processed_data = ?, error_message = '', processed_at = ?
		WHERE id = ?
	`, string(processedData), now, id)
	if err != nil {
		return errors.Wrapf(err, "failed to complete work item %s", id)
	}
	return nil
}

// MarkWorkItemSkipped records a quality-filter drop. Skips are terminal but
// never count against a run.
func (s *Store) MarkWorkItemSkipped(id string, reason string) error {
	now := s.timeNow().UTC()
	return s.setWorkItemStatus(id, WorkItemSkipped, reason, &now)
}

// MarkWorkItemFailed records a work item failure.
func (s *Store) MarkWorkItemFailed(id string, itemErr error) error {
	now := s.timeNow().UTC()
	_, err := s.db.Exec(`
		UPDATE work_items
		SET status = 'failed', error_message = ?, retry_count = retry_count + 1, processed_at = ?
		WHERE id = ?
	`, itemErr.Error(), now, id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark work item %s failed", id)
	}
	return nil
}

// MarkWorkItemsCancelled cancels every pending or processing work item in a
// run. Used when a run is cancelled mid-flight.
func (s *Store) MarkWorkItemsCancelled(runID string) (int, error) {
	now := s.timeNow().UTC()
	result, err := s.db.Exec(`
		UPDATE work_items
		SET status = 'cancelled', processed_at = ?
		WHERE collection_run_id = ? AND status IN ('pending', 'processing')
	`, now, runID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to cancel work items for run %s", runID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

func (s *Store) setWorkItemStatus(id string, status WorkItemStatus, errMsg string, processedAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE work_items
		SET status = ?, error_message = ?, processed_at = ?
		WHERE id = ?
	`, status, errMsg, processedAt, id)
	if err != nil {
		return errors.Wrapf(err, "failed to set work item %s status %s", id, status)
	}
	return nil
}

// CountWorkItemsByStatus returns per-status counts for a run.
func (s *Store) CountWorkItemsByStatus(runID string) (map[WorkItemStatus]int, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*)
		FROM work_items
		WHERE collection_run_id = ?
		GROUP BY status
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count work items")
	}
	defer rows.Close()

	counts := make(map[WorkItemStatus]int)
	for rows.Next() {
		var status WorkItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan work item counts")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating work item counts")
	}
	return counts, nil
}
