// Package domain provides domain models and business logic for the paper
// analysis service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the lifecycle states of an analysis batch.
// These values must match the database enum batch_status.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusPaused    BatchStatus = "paused"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive returns true if a batch in this status holds the single-active
// slot: a paused batch still counts as active and blocks new batches.
func (s BatchStatus) IsActive() bool {
	return s == BatchStatusRunning || s == BatchStatusPaused
}

// Batch size bounds for a start request.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 10000
	DefaultBatchSize = 10
)

// Batch is one administrator-initiated unit of analysis work covering a
// bounded set of papers.
type Batch struct {
	ID uuid.UUID `json:"id"`

	// RequestedSize is the size asked for; Size is the number of papers
	// actually selected, which may be smaller.
	RequestedSize int `json:"requested_size"`
	Size          int `json:"size"`

	// Model identifies the analysis model the batch was dispatched with.
	Model string `json:"model"`

	// Scope is a free-form label describing the selection policy, e.g. "newest".
	Scope string `json:"scope,omitempty"`

	Status BatchStatus `json:"status"`

	// Completed and Failed are rolled up from job outcomes and are
	// monotonically non-decreasing while the batch is active.
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	// TotalCostCents is the summed cost of completed jobs, in currency
	// minor units. Monotonically non-decreasing.
	TotalCostCents int64 `json:"total_cost_cents"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Remaining returns the number of jobs without a terminal outcome yet.
func (b *Batch) Remaining() int {
	return b.Size - b.Completed - b.Failed
}

// IsDone reports whether every job of the batch has reached a terminal outcome.
func (b *Batch) IsDone() bool {
	return b.Completed+b.Failed >= b.Size
}

// AvgCostPerCompletedCents returns the derived average cost per completed
// job, or zero when nothing completed.
func (b *Batch) AvgCostPerCompletedCents() int64 {
	if b.Completed == 0 {
		return 0
	}
	return b.TotalCostCents / int64(b.Completed)
}

// Duration returns how long the batch has been running, or its total
// duration once finished. Zero if it never started.
func (b *Batch) Duration() time.Duration {
	if b.StartedAt == nil {
		return 0
	}
	if b.FinishedAt != nil {
		return b.FinishedAt.Sub(*b.StartedAt)
	}
	return time.Since(*b.StartedAt)
}

// ClampBatchSize normalizes a requested batch size into [MinBatchSize,
// MaxBatchSize], substituting the default when the request is zero.
func ClampBatchSize(requested int) int {
	if requested == 0 {
		return DefaultBatchSize
	}
	if requested < MinBatchSize {
		return MinBatchSize
	}
	if requested > MaxBatchSize {
		return MaxBatchSize
	}
	return requested
}
