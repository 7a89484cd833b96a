package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a single per-paper analysis job.
// These values must match the database enum job_status.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
// A terminal job never changes cost or usage again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CancelledJobError is the sentinel error message recorded on jobs that
// are force-failed when their batch is cancelled.
const CancelledJobError = "Batch cancelled"

// Job is the per-paper unit of work within a batch, tracked from pending
// to a terminal outcome reported back by the worker.
type Job struct {
	ID      uuid.UUID `json:"id"`
	BatchID uuid.UUID `json:"batch_id"`
	PaperID uuid.UUID `json:"paper_id"`

	Status JobStatus `json:"status"`

	// CostCents and TokensUsed are written exactly once, by the outcome
	// report that moves the job to completed.
	CostCents  int   `json:"cost_cents"`
	TokensUsed int   `json:"tokens_used"`
	DurationMs int64 `json:"duration_ms"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobOutcome is the tagged result reported by the external queue for one
// job. Exactly one of Completed/Failed is set.
type JobOutcome struct {
	Completed *JobCompletion
	Failed    *JobFailure
}

// JobCompletion carries the resource accounting of a successful job.
type JobCompletion struct {
	CostCents  int
	TokensUsed int
	DurationMs int64
}

// JobFailure carries the error of a failed job.
type JobFailure struct {
	ErrorMessage string
}

// CompletedOutcome builds a successful JobOutcome.
func CompletedOutcome(costCents, tokensUsed int, durationMs int64) JobOutcome {
	return JobOutcome{Completed: &JobCompletion{
		CostCents:  costCents,
		TokensUsed: tokensUsed,
		DurationMs: durationMs,
	}}
}

// FailedOutcome builds a failed JobOutcome.
func FailedOutcome(errorMessage string) JobOutcome {
	return JobOutcome{Failed: &JobFailure{ErrorMessage: errorMessage}}
}

// Validate checks that the outcome has exactly one variant set.
func (o JobOutcome) Validate() error {
	if o.Completed == nil && o.Failed == nil {
		return NewValidationError("outcome", "must be completed or failed")
	}
	if o.Completed != nil && o.Failed != nil {
		return NewValidationError("outcome", "cannot be both completed and failed")
	}
	if o.Completed != nil && o.Completed.CostCents < 0 {
		return NewValidationError("cost_cents", "must be non-negative")
	}
	return nil
}

// Status returns the terminal JobStatus this outcome maps to.
func (o JobOutcome) Status() JobStatus {
	if o.Completed != nil {
		return JobStatusCompleted
	}
	return JobStatusFailed
}
