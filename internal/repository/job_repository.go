package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/paperstack/analysis-service/internal/domain"
)

// OutcomeResult describes the effect of applying a job outcome report.
type OutcomeResult struct {
	// Applied is false when the report matched no pending job: the job had
	// already reached a terminal state, so the report was discarded. This
	// is how duplicate deliveries and reports for cancelled jobs become
	// harmless no-ops.
	Applied bool

	// Batch is the batch state after the rollup. Nil when not applied.
	Batch *domain.Batch

	// BatchCompleted is true when this report was the last outstanding
	// outcome and moved the batch to completed.
	BatchCompleted bool
}

// JobRepository manages per-paper analysis jobs and outcome rollup.
type JobRepository interface {
	// ReportOutcome applies a terminal outcome to a pending job and rolls
	// the result up into the batch counters in one transaction. A report
	// for a job that is no longer pending is discarded (Applied=false);
	// a report for an unknown job returns domain.ErrNotFound.
	ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome domain.JobOutcome) (*OutcomeResult, error)

	// Get retrieves a job by id.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ListTerminalRecent returns the most recently finished jobs, newest
	// first, up to limit.
	ListTerminalRecent(ctx context.Context, limit int) ([]*domain.Job, error)

	// ListByBatch returns all jobs of a batch.
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Job, error)

	// SpendBetween sums the cost of jobs completed in [from, to).
	SpendBetween(ctx context.Context, from, to time.Time) (int64, error)
}
