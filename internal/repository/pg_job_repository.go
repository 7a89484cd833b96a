package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paperstack/analysis-service/internal/domain"
)

// jobColumns is the canonical column list for scanning analysis_jobs rows.
const jobColumns = `id, batch_id, paper_id, status,
		cost_cents, tokens_used, duration_ms, error_message,
		created_at, completed_at`

// Compile-time interface verification.
var _ JobRepository = (*PgJobRepository)(nil)

// PgJobRepository is a PostgreSQL implementation of JobRepository.
type PgJobRepository struct {
	db DBTX
}

// NewPgJobRepository creates a new PostgreSQL job repository.
func NewPgJobRepository(db DBTX) *PgJobRepository {
	return &PgJobRepository{db: db}
}

// ReportOutcome applies a terminal outcome to a pending job and rolls the
// result up into the batch counters in one transaction.
//
// The pending-state guard in the job update makes the operation idempotent:
// a duplicate delivery, or a report arriving after the batch was cancelled,
// matches zero rows and leaves both the job and the batch untouched. The
// batch rollup and the implicit completion check run in the same
// transaction, so counters can never drift from job states.
func (r *PgJobRepository) ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome domain.JobOutcome) (*OutcomeResult, error) {
	if jobID == uuid.Nil {
		return nil, domain.NewValidationError("job_id", "job ID is required")
	}
	if err := outcome.Validate(); err != nil {
		return nil, err
	}

	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction for outcome: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgJobRepository{db: tx}
		result, err := txRepo.reportOutcomeInTx(ctx, jobID, outcome)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit outcome: %w", err)
		}
		return result, nil
	}

	return r.reportOutcomeInTx(ctx, jobID, outcome)
}

// reportOutcomeInTx performs the job update, batch rollup, and implicit
// completion check within the current DBTX.
func (r *PgJobRepository) reportOutcomeInTx(ctx context.Context, jobID uuid.UUID, outcome domain.JobOutcome) (*OutcomeResult, error) {
	now := time.Now().UTC()

	var (
		costCents    int
		tokensUsed   int
		durationMs   int64
		errorMessage *string
	)
	if outcome.Completed != nil {
		costCents = outcome.Completed.CostCents
		tokensUsed = outcome.Completed.TokensUsed
		durationMs = outcome.Completed.DurationMs
	} else {
		errorMessage = nullString(outcome.Failed.ErrorMessage)
	}

	updateJob := `
		UPDATE analysis_jobs
		SET status = $2, cost_cents = $3, tokens_used = $4, duration_ms = $5,
			error_message = $6, completed_at = $7
		WHERE id = $1 AND status = 'pending'
		RETURNING batch_id`

	var batchID uuid.UUID
	err := r.db.QueryRow(ctx, updateJob,
		jobID, outcome.Status(), costCents, tokensUsed, durationMs, errorMessage, now,
	).Scan(&batchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The job exists but is no longer pending, or does not exist at all.
			var exists bool
			checkErr := r.db.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE id = $1)`, jobID,
			).Scan(&exists)
			if checkErr != nil {
				return nil, fmt.Errorf("failed to check job existence: %w", checkErr)
			}
			if !exists {
				return nil, domain.NewNotFoundError("job", jobID.String())
			}
			return &OutcomeResult{Applied: false}, nil
		}
		return nil, fmt.Errorf("failed to apply job outcome: %w", err)
	}

	var completedDelta, failedDelta int
	if outcome.Completed != nil {
		completedDelta = 1
	} else {
		failedDelta = 1
	}

	rollup := fmt.Sprintf(`
		UPDATE analysis_batches
		SET completed = completed + $1,
			failed = failed + $2,
			total_cost_cents = total_cost_cents + $3
		WHERE id = $4
		RETURNING %s`, batchColumns)

	batch, err := scanBatch(r.db.QueryRow(ctx, rollup, completedDelta, failedDelta, int64(costCents), batchID))
	if err != nil {
		return nil, fmt.Errorf("failed to roll up batch counters: %w", err)
	}

	result := &OutcomeResult{Applied: true, Batch: batch}

	// The last outstanding outcome completes the batch. Cancelled batches
	// have no pending jobs left, so this branch only fires for running or
	// paused batches.
	if batch.IsDone() && batch.Status.IsActive() {
		finish := `
			UPDATE analysis_batches
			SET status = 'completed', finished_at = $1
			WHERE id = $2 AND status IN ('running', 'paused')`

		if _, err := r.db.Exec(ctx, finish, now, batchID); err != nil {
			return nil, fmt.Errorf("failed to complete batch: %w", err)
		}
		batch.Status = domain.BatchStatusCompleted
		batch.FinishedAt = &now
		result.BatchCompleted = true
	}

	return result, nil
}

// Get retrieves a job by id.
func (r *PgJobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysis_jobs WHERE id = $1`, jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("job", id.String())
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListTerminalRecent returns the most recently finished jobs, newest first.
func (r *PgJobRepository) ListTerminalRecent(ctx context.Context, limit int) ([]*domain.Job, error) {
	offset := 0
	applyPaginationDefaults(&limit, &offset)

	query := fmt.Sprintf(`
		SELECT %s FROM analysis_jobs
		WHERE status IN ('completed', 'failed')
		ORDER BY completed_at DESC
		LIMIT $1`, jobColumns)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0, limit)
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// ListByBatch returns all jobs of a batch, oldest first.
func (r *PgJobRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM analysis_jobs
		WHERE batch_id = $1
		ORDER BY created_at ASC`, jobColumns)

	rows, err := r.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch jobs: %w", err)
	}

	return jobs, nil
}

// SpendBetween sums the cost of jobs completed in [from, to).
func (r *PgJobRepository) SpendBetween(ctx context.Context, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(cost_cents), 0)
		FROM analysis_jobs
		WHERE status = 'completed'
		  AND completed_at >= $1 AND completed_at < $2`

	var total int64
	if err := r.db.QueryRow(ctx, query, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}

	return total, nil
}

// jobScanDest holds the destination pointers for scanning an analysis_jobs row.
type jobScanDest struct {
	job          domain.Job
	errorMessage *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *jobScanDest) destinations() []interface{} {
	return []interface{}{
		&d.job.ID, &d.job.BatchID, &d.job.PaperID, &d.job.Status,
		&d.job.CostCents, &d.job.TokensUsed, &d.job.DurationMs, &d.errorMessage,
		&d.job.CreatedAt, &d.job.CompletedAt,
	}
}

// finalize performs post-scan processing for nullable fields.
func (d *jobScanDest) finalize() *domain.Job {
	if d.errorMessage != nil {
		d.job.ErrorMessage = *d.errorMessage
	}
	return &d.job
}

// scanJob scans a single row into a Job.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var dest jobScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}

// scanJobFromRows scans the current row from pgx.Rows into a Job.
func scanJobFromRows(rows pgx.Rows) (*domain.Job, error) {
	var dest jobScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}
