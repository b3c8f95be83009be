package domain

import (
	"time"

	"github.com/google/uuid"
)

// RowStatus is the outcome of one bulk row.
type RowStatus string

const (
	RowSuccess RowStatus = "SUCCESS"
	RowFailure RowStatus = "FAILURE"
)

// RowResult is the per-row outcome of a pipeline run, in input order.
type RowResult struct {
	RowNumber int       `json:"rowNumber"`
	Status    RowStatus `json:"status"`
	Errors    []string  `json:"errors,omitempty"`
}

// ImportStatus is the aggregate outcome of a pipeline run.
type ImportStatus string

const (
	ImportSuccess        ImportStatus = "SUCCESS"
	ImportPartialSuccess ImportStatus = "PARTIAL_SUCCESS"
	ImportFailure        ImportStatus = "FAILURE"
	ImportAborted        ImportStatus = "ABORTED"
)

// ImportResult aggregates a bulk import or export run. ResultRows echo the
// submitted records with status and details columns prepended so callers can
// correct and resubmit only the failed rows.
type ImportResult struct {
	EntityType   string       `json:"entityType"`
	DryRun       bool         `json:"dryRun"`
	Status       ImportStatus `json:"status"`
	TotalRows    int          `json:"totalRows"`
	SuccessCount int          `json:"successCount"`
	FailureCount int          `json:"failureCount"`
	AbortReason  string       `json:"abortReason,omitempty"`
	Rows         []RowResult  `json:"rows,omitempty"`
	ResultRows   []string     `json:"resultRows,omitempty"`
}

// AggregateStatus derives the run status from the row tallies: SUCCESS only
// when every row succeeded, FAILURE only when every row failed.
func AggregateStatus(total, failed int) ImportStatus {
	switch {
	case failed == 0:
		return ImportSuccess
	case failed == total:
		return ImportFailure
	default:
		return ImportPartialSuccess
	}
}

// JobState is the lifecycle state of an asynchronous bulk job.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
	JobCancelled JobState = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobKind distinguishes import from export jobs.
type JobKind string

const (
	JobImport JobKind = "IMPORT"
	JobExport JobKind = "EXPORT"
)

// BulkJob tracks one submitted pipeline run. The result is immutable once
// the job reaches a terminal state.
type BulkJob struct {
	ID          uuid.UUID     `json:"id"`
	Kind        JobKind       `json:"kind"`
	EntityType  string        `json:"entityType"`
	State       JobState      `json:"state"`
	Result      *ImportResult `json:"result,omitempty"`
	ExportData  string        `json:"exportData,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}
