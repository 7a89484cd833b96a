package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paperstack/analysis-service/internal/domain"
)

// batchColumns is the canonical column list for scanning analysis_batches rows.
const batchColumns = `id, requested_size, size, model, scope, status,
		completed, failed, total_cost_cents,
		created_at, started_at, finished_at`

// validBatchTransitions defines the allowed operator-driven status transitions.
// Completion is not listed here: it is driven by outcome rollup, not by an
// operator request.
var validBatchTransitions = map[domain.BatchStatus][]domain.BatchStatus{
	domain.BatchStatusRunning: {
		domain.BatchStatusPaused,
		domain.BatchStatusCancelled,
	},
	domain.BatchStatusPaused: {
		domain.BatchStatusRunning,
		domain.BatchStatusCancelled,
	},
}

// Compile-time interface verification.
var _ BatchRepository = (*PgBatchRepository)(nil)

// PgBatchRepository is a PostgreSQL implementation of BatchRepository.
type PgBatchRepository struct {
	db DBTX
}

// NewPgBatchRepository creates a new PostgreSQL batch repository.
func NewPgBatchRepository(db DBTX) *PgBatchRepository {
	return &PgBatchRepository{db: db}
}

// CreateActive inserts a new batch together with its pending jobs in one
// transaction. The single-active invariant is enforced by a partial unique
// index over running and paused batches, so two concurrent starts race at
// the database rather than in process: exactly one insert wins and the
// loser receives a *domain.BatchActiveError.
func (r *PgBatchRepository) CreateActive(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error {
	if batch == nil {
		return domain.NewValidationError("batch", "batch cannot be nil")
	}
	if batch.ID == uuid.Nil {
		return domain.NewValidationError("id", "batch ID is required")
	}
	if batch.Size != len(jobs) {
		return domain.NewValidationError("size", "batch size must match job count")
	}

	run := func(db DBTX) error {
		insertBatch := `
			INSERT INTO analysis_batches (
				id, requested_size, size, model, scope, status,
				completed, failed, total_cost_cents,
				created_at, started_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

		_, err := db.Exec(ctx, insertBatch,
			batch.ID, batch.RequestedSize, batch.Size, batch.Model, nullString(batch.Scope), batch.Status,
			batch.Completed, batch.Failed, batch.TotalCostCents,
			batch.CreatedAt, batch.StartedAt,
		)
		if err != nil {
			return err
		}

		if len(jobs) == 0 {
			return nil
		}

		insertJob := `
			INSERT INTO analysis_jobs (id, batch_id, paper_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5)`

		pgBatch := &pgx.Batch{}
		for _, job := range jobs {
			pgBatch.Queue(insertJob, job.ID, job.BatchID, job.PaperID, job.Status, job.CreatedAt)
		}

		results := db.SendBatch(ctx, pgBatch)
		defer results.Close()
		for range jobs {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if beginner, ok := r.db.(txBeginner); ok {
		err = func() error {
			tx, beginErr := beginner.Begin(ctx)
			if beginErr != nil {
				return fmt.Errorf("failed to begin transaction for batch create: %w", beginErr)
			}
			defer func() { _ = tx.Rollback(ctx) }()

			if runErr := run(tx); runErr != nil {
				return runErr
			}
			return tx.Commit(ctx)
		}()
	} else {
		err = run(r.db)
	}

	if err != nil {
		if isPgUniqueViolation(err) {
			// Another batch holds the single-active slot. Report its id so
			// the caller can surface it.
			if active, activeErr := r.GetActive(ctx); activeErr == nil {
				return &domain.BatchActiveError{BatchID: active.ID, Status: active.Status}
			}
			return fmt.Errorf("batch create rejected: %w", domain.ErrBatchActive)
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}

	return nil
}

// Get retrieves a batch by id.
func (r *PgBatchRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysis_batches WHERE id = $1`, batchColumns)

	batch, err := scanBatch(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("batch", id.String())
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return batch, nil
}

// GetActive returns the batch currently holding the single-active slot.
// The partial unique index guarantees at most one such row exists.
func (r *PgBatchRepository) GetActive(ctx context.Context) (*domain.Batch, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM analysis_batches
		WHERE status IN ('running', 'paused')`, batchColumns)

	batch, err := scanBatch(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("batch", "active")
		}
		return nil, fmt.Errorf("failed to get active batch: %w", err)
	}

	return batch, nil
}

// Transition moves a batch to the given status after validating the
// transition under a row lock.
func (r *PgBatchRepository) Transition(ctx context.Context, id uuid.UUID, to domain.BatchStatus) (*domain.Batch, error) {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction for transition: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgBatchRepository{db: tx}
		batch, err := txRepo.transitionInTx(ctx, id, to)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transition: %w", err)
		}
		return batch, nil
	}

	return r.transitionInTx(ctx, id, to)
}

// transitionInTx performs the SELECT FOR UPDATE + UPDATE within the current DBTX.
func (r *PgBatchRepository) transitionInTx(ctx context.Context, id uuid.UUID, to domain.BatchStatus) (*domain.Batch, error) {
	batch, err := r.lockBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	if !isValidBatchTransition(batch.Status, to) {
		return nil, fmt.Errorf("invalid batch transition from %s to %s: %w",
			batch.Status, to, domain.ErrInvalidInput)
	}

	batch.Status = to
	now := time.Now().UTC()
	if to.IsTerminal() && batch.FinishedAt == nil {
		batch.FinishedAt = &now
	}

	updateQuery := `
		UPDATE analysis_batches
		SET status = $1, finished_at = $2
		WHERE id = $3`

	if _, err := r.db.Exec(ctx, updateQuery, batch.Status, batch.FinishedAt, id); err != nil {
		return nil, fmt.Errorf("failed to update batch status: %w", err)
	}

	return batch, nil
}

// Cancel moves the batch to cancelled and force-fails its pending jobs in
// the same transaction. Pending jobs are recorded as failed with the
// cancellation error message and counted in the batch failed rollup.
func (r *PgBatchRepository) Cancel(ctx context.Context, id uuid.UUID) (*domain.Batch, int, error) {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to begin transaction for cancel: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgBatchRepository{db: tx}
		batch, cancelled, err := txRepo.cancelInTx(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, 0, fmt.Errorf("failed to commit cancel: %w", err)
		}
		return batch, cancelled, nil
	}

	return r.cancelInTx(ctx, id)
}

// cancelInTx performs the cancellation within the current DBTX.
func (r *PgBatchRepository) cancelInTx(ctx context.Context, id uuid.UUID) (*domain.Batch, int, error) {
	batch, err := r.lockBatch(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	if !isValidBatchTransition(batch.Status, domain.BatchStatusCancelled) {
		return nil, 0, fmt.Errorf("invalid batch transition from %s to %s: %w",
			batch.Status, domain.BatchStatusCancelled, domain.ErrInvalidInput)
	}

	now := time.Now().UTC()

	failJobs := `
		UPDATE analysis_jobs
		SET status = 'failed', error_message = $1, completed_at = $2
		WHERE batch_id = $3 AND status = 'pending'`

	result, err := r.db.Exec(ctx, failJobs, domain.CancelledJobError, now, id)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to cancel pending jobs: %w", err)
	}
	cancelled := int(result.RowsAffected())

	batch.Status = domain.BatchStatusCancelled
	batch.Failed += cancelled
	batch.FinishedAt = &now

	updateBatch := `
		UPDATE analysis_batches
		SET status = 'cancelled', failed = failed + $1, finished_at = $2
		WHERE id = $3`

	if _, err := r.db.Exec(ctx, updateBatch, cancelled, now, id); err != nil {
		return nil, 0, fmt.Errorf("failed to cancel batch: %w", err)
	}

	return batch, cancelled, nil
}

// lockBatch reads a batch row under FOR UPDATE.
func (r *PgBatchRepository) lockBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysis_batches WHERE id = $1 FOR UPDATE`, batchColumns)

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch for update: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to lock batch: %w", err)
		}
		return nil, domain.NewNotFoundError("batch", id.String())
	}

	return scanBatchFromRows(rows)
}

// List retrieves batches matching the filter criteria, newest first.
func (r *PgBatchRepository) List(ctx context.Context, filter BatchFilter) ([]*domain.Batch, int64, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM analysis_batches WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT %s FROM analysis_batches
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		batchColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := make([]*domain.Batch, 0, filter.Limit)
	for rows.Next() {
		batch, err := scanBatchFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating batches: %w", err)
	}

	return batches, totalCount, nil
}

// isValidBatchTransition validates that an operator-driven transition is allowed.
func isValidBatchTransition(from, to domain.BatchStatus) bool {
	// Terminal states cannot transition to anything.
	if from.IsTerminal() {
		return false
	}

	allowed, ok := validBatchTransitions[from]
	if !ok {
		return false
	}

	for _, s := range allowed {
		if s == to {
			return true
		}
	}

	return false
}

// batchScanDest holds the destination pointers for scanning an analysis_batches row.
type batchScanDest struct {
	batch domain.Batch
	scope *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *batchScanDest) destinations() []interface{} {
	return []interface{}{
		&d.batch.ID, &d.batch.RequestedSize, &d.batch.Size, &d.batch.Model, &d.scope, &d.batch.Status,
		&d.batch.Completed, &d.batch.Failed, &d.batch.TotalCostCents,
		&d.batch.CreatedAt, &d.batch.StartedAt, &d.batch.FinishedAt,
	}
}

// finalize performs post-scan processing for nullable fields.
func (d *batchScanDest) finalize() *domain.Batch {
	if d.scope != nil {
		d.batch.Scope = *d.scope
	}
	return &d.batch
}

// scanBatch scans a single row into a Batch.
func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var dest batchScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}

// scanBatchFromRows scans the current row from pgx.Rows into a Batch.
func scanBatchFromRows(rows pgx.Rows) (*domain.Batch, error) {
	var dest batchScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}
