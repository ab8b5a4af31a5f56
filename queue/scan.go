package queue

import (
	"database/sql"
)

// JobScanArgs holds the nullable column targets for scanning a job row.
type JobScanArgs struct {
	Payload         sql.NullString
	CollectionRunID sql.NullString
	StartedAt       sql.NullTime
	CompletedAt     sql.NullTime
}

// GetJobScanTargets returns scan destinations for the job and its nullable
// columns, in the order of StandardJobSelectColumns.
func GetJobScanTargets(job *Job, args *JobScanArgs) []any {
	return []any{
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.Priority,
		&args.Payload,
		&job.Source,
		&args.CollectionRunID,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ErrorMessage,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
	}
}

// ProcessJobScanArgs copies the nullable columns into the job struct.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) {
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.CollectionRunID.Valid {
		job.CollectionRunID = args.CollectionRunID.String
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		job.CompletedAt = &args.CompletedAt.Time
	}
}

// ScanJobFromRow scans a single job from a sql.Row.
func ScanJobFromRow(row *sql.Row, job *Job) error {
	args := &JobScanArgs{}
	if err := row.Scan(GetJobScanTargets(job, args)...); err != nil {
		return err
	}
	ProcessJobScanArgs(job, args)
	return nil
}

// ScanJobFromRows scans a single job from sql.Rows (for use in loops).
func ScanJobFromRows(rows *sql.Rows, job *Job) error {
	args := &JobScanArgs{}
	if err := rows.Scan(GetJobScanTargets(job, args)...); err != nil {
		return err
	}
	ProcessJobScanArgs(job, args)
	return nil
}

// StandardJobSelectColumns returns the column list for job SELECT queries.
func StandardJobSelectColumns() string {
	return `id, job_type, status, priority, payload, source,
		collection_run_id, retry_count, max_retries, error_message,
		created_at, started_at, completed_at`
}

// WorkItemScanArgs holds the nullable column targets for a work item row.
type WorkItemScanArgs struct {
	SourceData    sql.NullString
	ProcessedData sql.NullString
	ProcessedAt   sql.NullTime
}

// GetWorkItemScanTargets returns scan destinations in the order of
// StandardWorkItemSelectColumns.
func GetWorkItemScanTargets(item *WorkItem, args *WorkItemScanArgs) []any {
	return []any{
		&item.ID,
		&item.CollectionRunID,
		&item.ItemType,
		&item.ItemID,
		&item.Status,
		&args.SourceData,
		&args.ProcessedData,
		&item.RetryCount,
		&item.ErrorMessage,
		&item.CreatedAt,
		&args.ProcessedAt,
	}
}

// ProcessWorkItemScanArgs copies the nullable columns into the item struct.
func ProcessWorkItemScanArgs(item *WorkItem, args *WorkItemScanArgs) {
	if args.SourceData.Valid {
		item.SourceData = []byte(args.SourceData.String)
	}
	if args.ProcessedData.Valid {
		item.ProcessedData = []byte(args.ProcessedData.String)
	}
	if args.ProcessedAt.Valid {
		item.ProcessedAt = &args.ProcessedAt.Time
	}
}

// ScanWorkItemFromRow scans a single work item from a sql.Row.
func ScanWorkItemFromRow(row *sql.Row, item *WorkItem) error {
	args := &WorkItemScanArgs{}
	if err := row.Scan(GetWorkItemScanTargets(item, args)...); err != nil {
		return err
	}
	ProcessWorkItemScanArgs(item, args)
	return nil
}

// ScanWorkItemFromRows scans a single work item from sql.Rows.
func ScanWorkItemFromRows(rows *sql.Rows, item *WorkItem) error {
	args := &WorkItemScanArgs{}
	if err := rows.Scan(GetWorkItemScanTargets(item, args)...); err != nil {
		return err
	}
	ProcessWorkItemScanArgs(item, args)
	return nil
}

// StandardWorkItemSelectColumns returns the column list for work item
// SELECT queries.
func StandardWorkItemSelectColumns() string {
	return `id, collection_run_id, item_type, item_id, status,
		source_data, processed_data, retry_count, error_message,
		created_at, processed_at`
}

// RunScanArgs holds the nullable column targets for a collection run row.
type RunScanArgs struct {
	CompletedAt sql.NullTime
}

// GetRunScanTargets returns scan destinations in the order of
// StandardRunSelectColumns.
func GetRunScanTargets(run *CollectionRun, args *RunScanArgs) []any {
	return []any{
		&run.ID,
		&run.Source,
		&run.Status,
		&run.CurrentPhase,
		&run.ProgressMessage,
		&run.DocumentsCollected,
		&run.DocumentsProcessed,
		&run.TotalEstimated,
		&run.ErrorMessage,
		&run.StartedAt,
		&args.CompletedAt,
	}
}

// StandardRunSelectColumns returns the column list for collection run
// SELECT queries.
func StandardRunSelectColumns() string {
	return `id, source, status, current_phase, progress_message,
		documents_collected, documents_processed, total_estimated,
		error_message, started_at, completed_at`
}
