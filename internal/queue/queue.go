// Package queue provides the interface to the external analysis work queue.
//
// The service hands per-paper jobs to the queue and external workers pick
// them up; outcomes travel back out-of-band via the outcome listener. The
// queue is best-effort from the orchestrator's point of view: database
// state is authoritative, and queue control failures are surfaced but do
// not roll back batch state.
package queue

import (
	"context"

	"github.com/google/uuid"
)

// JobMessage is the payload handed to the queue for one analysis job.
type JobMessage struct {
	JobID   uuid.UUID `json:"job_id"`
	BatchID uuid.UUID `json:"batch_id"`
	PaperID uuid.UUID `json:"paper_id"`
	Model   string    `json:"model"`
}

// DedupeKey returns the deterministic work-item key derived from the batch
// and paper ids, so a retried submission of the same work item is
// recognized regardless of which job record carried it.
func (m JobMessage) DedupeKey() string {
	return m.BatchID.String() + ":" + m.PaperID.String()
}

// Queue is the contract for the external work queue.
type Queue interface {
	// Enqueue hands a job to the queue. Returns false without error when a
	// dedupe marker shows the job was already enqueued.
	Enqueue(ctx context.Context, msg JobMessage) (bool, error)

	// Pause signals workers to stop taking new items.
	Pause(ctx context.Context) error

	// Resume clears the pause signal.
	Resume(ctx context.Context) error

	// Paused reports whether the pause signal is set.
	Paused(ctx context.Context) (bool, error)

	// Drain removes all queued items and returns how many were dropped.
	Drain(ctx context.Context) (int64, error)

	// Depth returns the number of items currently queued.
	Depth(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
