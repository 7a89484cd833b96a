package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/paperstack/analysis-service/internal/domain"
)

// BatchFilter describes the criteria for listing batches.
type BatchFilter struct {
	// Status restricts results to the given statuses. Empty means all.
	Status []domain.BatchStatus

	// CreatedAfter restricts results to batches created after this time.
	CreatedAfter *time.Time

	// Limit and Offset control pagination. Limit is clamped to a maximum.
	Limit  int
	Offset int
}

// BatchRepository manages analysis batch persistence and the single-active slot.
type BatchRepository interface {
	// CreateActive inserts a new batch together with its pending jobs in one
	// transaction. The batch is created in the running state. If another
	// batch already holds the single-active slot the insert fails with a
	// *domain.BatchActiveError carrying the holder's id; no rows are written.
	CreateActive(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error

	// Get retrieves a batch by id.
	Get(ctx context.Context, id uuid.UUID) (*domain.Batch, error)

	// GetActive returns the batch currently holding the single-active slot,
	// or domain.ErrNotFound when no batch is running or paused.
	GetActive(ctx context.Context) (*domain.Batch, error)

	// Transition moves the active batch to the given status after validating
	// the transition under a row lock. Returns the updated batch.
	Transition(ctx context.Context, id uuid.UUID, to domain.BatchStatus) (*domain.Batch, error)

	// Cancel moves the batch to cancelled and force-fails its pending jobs
	// in the same transaction. Returns the updated batch and the number of
	// jobs that were force-failed.
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Batch, int, error)

	// List retrieves batches matching the filter, newest first, along with
	// the total number of matching rows.
	List(ctx context.Context, filter BatchFilter) ([]*domain.Batch, int64, error)
}
